package bus

import (
	"fmt"
	"sync"

	"github.com/baozi-iot/baozi-node/internal/fsm"
)

// Logger defines the logging interface for the bus manager.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager owns the bus state machine and the handler registry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - A mutex serialises every dispatch; the registry has its own mutex,
//     always taken after the dispatch mutex.
//   - Handlers and the on-connected callback run after the dispatch that
//     produced them has released its lock, so they may call back into the
//     Manager.
type Manager struct {
	transport Transport
	registry  *registry

	mu          sync.Mutex
	machine     *fsm.Machine[State, EventKind, Event]
	onConnected func()
	started     bool
	deferred    []func()

	logMu  sync.RWMutex
	logger Logger
}

// NewManager creates a bus manager in the Disabled state and registers
// itself as the transport's event sink.
func NewManager(transport Transport, opts ...fsm.Option) *Manager {
	m := &Manager{
		transport: transport,
		registry:  newRegistry(),
		logger:    noopLogger{},
	}
	m.machine = fsm.New[State, EventKind, Event]("bus", Disabled, opts...)
	m.buildTable()

	transport.SetEventSink(m.HandleEvent)
	return m
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logMu.Lock()
	m.logger = logger
	m.logMu.Unlock()
}

func (m *Manager) log() Logger {
	m.logMu.RLock()
	defer m.logMu.RUnlock()
	return m.logger
}

func (m *Manager) buildTable() {
	f := m.machine

	// Disabled
	f.On(Disabled, EventConnectRequested, goTo(Connecting))
	f.On(Disabled, EventBeforeConnect, goTo(Connecting))

	// Connecting: the transport reconnects on its own.
	f.On(Connecting, EventSessionEstablished, goTo(Connected))
	f.On(Connecting, EventDisconnected, m.logLoss)
	f.On(Connecting, EventTransportError, m.logLoss)
	f.On(Connecting, EventDisableRequested, goTo(Disabled))

	// Connected
	f.On(Connected, EventTransportError, func(ev Event) (State, bool) {
		m.log().Warn("bus transport error", "error", ev.Err())
		return Connecting, true
	})
	f.On(Connected, EventDisconnected, func(ev Event) (State, bool) {
		m.log().Warn("bus session lost", "error", ev.Err())
		return Connecting, true
	})
	f.On(Connected, EventIncomingMessage, func(ev Event) (State, bool) {
		m.route(ev.Topic(), ev.Payload())
		return 0, false
	})
	f.On(Connected, EventSubscribed, stay)
	f.On(Connected, EventPublishAcked, stay)
	f.On(Connected, EventSubscribeRequested, stay)
	f.On(Connected, EventDisableRequested, goTo(Disabled))

	f.OnEntry(Disabled, func() {
		m.log().Info("bus disabled")
		m.clearSubscribed()
	})
	f.OnEntry(Connecting, func() {
		m.log().Info("bus connecting")
		m.clearSubscribed()
	})
	f.OnEntry(Connected, func() {
		m.log().Info("bus connected")
		m.resubscribe()
		if cb := m.onConnected; cb != nil {
			m.deferred = append(m.deferred, cb)
		}
	})
}

func goTo(s State) fsm.Action[State, Event] {
	return func(Event) (State, bool) { return s, true }
}

func stay(Event) (State, bool) { return 0, false }

func (m *Manager) logLoss(ev Event) (State, bool) {
	m.log().Debug("bus not yet connected", "event", ev.Kind().String(), "error", ev.Err())
	return 0, false
}

// resubscribe attempts a subscription for every registry entry.
// Caller must hold m.mu.
func (m *Manager) resubscribe() {
	m.registry.mu.Lock()
	defer m.registry.mu.Unlock()

	m.registry.resubscribe(m.subscribe)
}

func (m *Manager) clearSubscribed() {
	m.registry.mu.Lock()
	m.registry.clearSubscribed()
	m.registry.mu.Unlock()
}

func (m *Manager) subscribe(topic string) bool {
	if err := m.transport.Subscribe(topic); err != nil {
		m.log().Error("bus subscribe failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// route queues every handler matching topic. Caller must hold m.mu.
func (m *Manager) route(topic string, payload []byte) {
	m.registry.mu.Lock()
	handlers := m.registry.matching(topic)
	m.registry.mu.Unlock()

	if len(handlers) == 0 {
		m.log().Debug("no handler for topic", "topic", topic)
		return
	}
	for _, h := range handlers {
		m.deferred = append(m.deferred, m.wrapHandler(h, topic, payload))
	}
}

// wrapHandler binds a handler to a message and recovers its panics.
func (m *Manager) wrapHandler(h Handler, topic string, payload []byte) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				m.log().Error("bus handler panic recovered",
					"topic", topic,
					"panic", r,
				)
			}
		}()
		h(topic, payload)
	}
}

// dispatch runs one event through the machine, then invokes whatever the
// dispatch queued once the lock is released.
func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	m.machine.Dispatch(ev)
	m.unlockAndRun()
}

// unlockAndRun releases m.mu and runs queued work. Caller must hold m.mu.
func (m *Manager) unlockAndRun() {
	queued := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	for _, fn := range queued {
		fn()
	}
}

// HandleEvent dispatches a transport event. It is installed as the
// transport's event sink.
func (m *Manager) HandleEvent(ev Event) {
	m.dispatch(ev)
}

// Register installs handler for a topic pattern.
//
// The entry is kept across reconnects. When the bus is Connected the
// subscription is attempted immediately; otherwise it is attempted on the
// next transition into Connected. Registering the same pattern again
// replaces its handler.
func (m *Manager) Register(topic string, handler Handler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return ErrNilHandler
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.registry.mu.Lock()
	defer m.registry.mu.Unlock()

	e := m.registry.put(topic, handler)
	if m.machine.Is(Connected) {
		e.subscribed = m.subscribe(topic)
	}
	return nil
}

// Publish sends payload to topic.
//
// Publish does not check the session state; callers that care should check
// IsConnected first.
func (m *Manager) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if err := m.transport.Publish(topic, payload); err != nil {
		m.log().Error("bus publish failed", "topic", topic, "error", err)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	m.log().Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// Connect starts the broker session.
//
// onConnected is stored and invoked once after every transition into
// Connected, after all registered handlers have been re-subscribed. Calling
// Connect while already Connected is a no-op.
func (m *Manager) Connect(onConnected func()) error {
	m.mu.Lock()

	if m.machine.Is(Connected) {
		m.mu.Unlock()
		m.log().Info("bus already connected")
		return nil
	}

	m.onConnected = onConnected
	if !m.started {
		if err := m.transport.Connect(); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}
		m.started = true
	}

	m.machine.Dispatch(NewEvent(EventConnectRequested))
	m.unlockAndRun()
	return nil
}

// Close ends the session and returns the manager to Disabled.
func (m *Manager) Close() {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.machine.Dispatch(NewEvent(EventDisableRequested))
	m.unlockAndRun()

	if started {
		m.transport.Disconnect()
	}
}

// State returns the current bus state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Current()
}

// IsConnected reports whether the bus is in the Connected state.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Subscriptions returns the registry entries in registration order.
func (m *Manager) Subscriptions() []Subscription {
	return m.registry.snapshot()
}
