package bus

// Transport is the broker client used by the Manager.
//
// Every method returns without waiting for broker acknowledgements. Session
// progress and inbound messages arrive as events passed to the sink given to
// SetEventSink, delivered asynchronously (see system.EventLoop) and never
// from inside a Transport method call.
type Transport interface {
	// SetEventSink installs the function receiving transport events.
	SetEventSink(sink func(Event))

	// Connect starts the session. The transport reconnects on its own after
	// a loss.
	Connect() error

	// Subscribe requests delivery of messages matching topic.
	Subscribe(topic string) error

	// Publish sends payload to topic.
	Publish(topic string, payload []byte) error

	// Disconnect ends the session and stops reconnecting.
	Disconnect()
}
