// Package fsm provides the table-driven state machine engine shared by the
// link and message-bus connection managers.
//
// A machine is parameterised by a closed set of state tags, a closed set of
// event tags and an event type carrying optional data. The transition table
// maps (state, event tag) to an Action; pairs with no entry are absorbed and
// logged, which both connection managers rely on.
//
// # Usage
//
//	m := fsm.New[State, Kind, Event]("link", Offline, fsm.WithLogger(log))
//	m.On(Offline, KindConnect, func(Event) (State, bool) { return Connecting, true })
//	m.OnEntry(Connecting, startStation)
//	m.Dispatch(Event{kind: KindConnect})
//
// The engine does no locking. Each owner serialises Dispatch itself.
package fsm
