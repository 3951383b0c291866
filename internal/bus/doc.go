// Package bus implements the message-bus connection manager.
//
// The Manager tracks the broker session with a three-state machine
// (Disabled, Connecting, Connected), keeps a registry of topic handlers that
// survives reconnects and routes incoming messages to every matching handler.
//
// Subscriptions are re-attempted for every registered handler each time the
// session reaches Connected, and only afterwards is the on-connected callback
// invoked:
//
//	m := bus.NewManager(transport)
//	m.Register("baozi-a1b2c3/command/#", handleCommand)
//	err := m.Connect(func() {
//	    m.Publish("baozi-a1b2c3/status", []byte("online"))
//	})
//
// Payloads are opaque byte strings.
package bus
