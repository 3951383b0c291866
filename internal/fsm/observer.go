package fsm

// Observer receives state machine activity for metrics and telemetry.
//
// Implementations must not call back into the machine; they run inside
// Dispatch.
type Observer interface {
	// Transition is called after a new state has been adopted.
	Transition(machine, from, to string)

	// Unhandled is called when a (state, event) pair has no table entry.
	Unhandled(machine, state, event string)
}

// Observers fans out to several observers. Nil entries are skipped.
func Observers(observers ...Observer) Observer {
	var list multiObserver
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) Transition(machine, from, to string) {
	for _, o := range m {
		o.Transition(machine, from, to)
	}
}

func (m multiObserver) Unhandled(machine, state, event string) {
	for _, o := range m {
		o.Unhandled(machine, state, event)
	}
}
