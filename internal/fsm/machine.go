package fsm

import "fmt"

// Kinded is implemented by event values. Kind returns the event's tag, which
// together with the current state selects a transition table entry.
type Kinded[K comparable] interface {
	Kind() K
}

// Action handles one (state, event) pair.
//
// It returns the next state and true to request a transition, or the zero
// state and false to stay in the current state. Any side effects belong
// inside the action itself.
type Action[S comparable, E any] func(ev E) (S, bool)

// Logger is the logging interface used by the engine.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// key identifies a transition table entry.
type key[S comparable, K comparable] struct {
	state S
	kind  K
}

// Machine is a table-driven finite-state machine.
//
// The transition table is a partial function: a (state, event) pair without
// an entry is absorbed silently (logged at debug level), never treated as an
// error.
//
// Thread Safety:
//   - Machine performs no locking. Owners must serialise Dispatch and
//     Current, either with a mutex or a single consumer goroutine.
type Machine[S comparable, K comparable, E Kinded[K]] struct {
	name     string
	current  S
	table    map[key[S, K]]Action[S, E]
	entry    map[S]func()
	logger   Logger
	observer Observer
}

// Option configures a Machine.
type Option func(*options)

type options struct {
	logger   Logger
	observer Observer
}

// WithLogger sets the logger used for transition and unhandled-event logs.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the observer notified of transitions and unhandled events.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// New creates a machine in the given initial state.
// The initial state's entry action is not run.
func New[S comparable, K comparable, E Kinded[K]](name string, initial S, opts ...Option) *Machine[S, K, E] {
	o := options{logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}

	return &Machine[S, K, E]{
		name:     name,
		current:  initial,
		table:    make(map[key[S, K]]Action[S, E]),
		entry:    make(map[S]func()),
		logger:   o.logger,
		observer: o.observer,
	}
}

// On registers the action for a (state, event kind) pair.
// Registering the same pair twice replaces the earlier action.
func (m *Machine[S, K, E]) On(state S, kind K, action Action[S, E]) {
	m.table[key[S, K]{state: state, kind: kind}] = action
}

// OnEntry registers the entry action for a state.
func (m *Machine[S, K, E]) OnEntry(state S, fn func()) {
	m.entry[state] = fn
}

// Name returns the machine name used in logs.
func (m *Machine[S, K, E]) Name() string {
	return m.name
}

// Current returns the active state.
func (m *Machine[S, K, E]) Current() S {
	return m.current
}

// Is reports whether the machine is in the given state.
func (m *Machine[S, K, E]) Is(state S) bool {
	return m.current == state
}

// Handles reports whether the table has an entry for the pair.
func (m *Machine[S, K, E]) Handles(state S, kind K) bool {
	_, ok := m.table[key[S, K]{state: state, kind: kind}]
	return ok
}

// Dispatch delivers an event to the machine.
//
// If the table has an entry for (current, ev.Kind()) the action runs. When it
// yields a next state, that state's entry action runs and the state is then
// adopted. Re-entering the current state counts as a transition.
//
// Returns:
//   - bool: true if the pair had a table entry, false if it was absorbed
func (m *Machine[S, K, E]) Dispatch(ev E) bool {
	from := m.current
	kind := ev.Kind()

	action, ok := m.table[key[S, K]{state: from, kind: kind}]
	if !ok {
		m.logger.Debug("unhandled event",
			"machine", m.name,
			"state", fmt.Sprint(from),
			"event", fmt.Sprint(kind),
		)
		if m.observer != nil {
			m.observer.Unhandled(m.name, fmt.Sprint(from), fmt.Sprint(kind))
		}
		return false
	}

	next, transition := action(ev)
	if !transition {
		m.logger.Debug("event handled without transition",
			"machine", m.name,
			"state", fmt.Sprint(from),
			"event", fmt.Sprint(kind),
		)
		return true
	}

	if fn := m.entry[next]; fn != nil {
		fn()
	}
	m.current = next

	m.logger.Info("state transition",
		"machine", m.name,
		"from", fmt.Sprint(from),
		"to", fmt.Sprint(next),
		"event", fmt.Sprint(kind),
	)
	if m.observer != nil {
		m.observer.Transition(m.name, fmt.Sprint(from), fmt.Sprint(next))
	}

	return true
}
