package bus

// State is the bus manager's state tag.
type State int

const (
	Disabled State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// EventKind is the bus manager's event tag.
type EventKind int

const (
	EventConnectRequested EventKind = iota
	EventBeforeConnect
	EventSessionEstablished
	EventDisconnected
	EventTransportError
	EventIncomingMessage
	EventSubscribed
	EventPublishAcked
	EventSubscribeRequested
	EventDisableRequested
)

func (k EventKind) String() string {
	switch k {
	case EventConnectRequested:
		return "ConnectRequested"
	case EventBeforeConnect:
		return "BeforeConnect"
	case EventSessionEstablished:
		return "SessionEstablished"
	case EventDisconnected:
		return "Disconnected"
	case EventTransportError:
		return "TransportError"
	case EventIncomingMessage:
		return "IncomingMessage"
	case EventSubscribed:
		return "Subscribed"
	case EventPublishAcked:
		return "PublishAcked"
	case EventSubscribeRequested:
		return "SubscribeRequested"
	case EventDisableRequested:
		return "DisableRequested"
	default:
		return "Unknown"
	}
}

// Event is an input to the bus state machine.
type Event struct {
	kind    EventKind
	topic   string
	payload []byte
	err     error
}

// Kind returns the event tag.
func (e Event) Kind() EventKind { return e.kind }

// Topic returns the topic of an IncomingMessage event.
func (e Event) Topic() string { return e.topic }

// Payload returns the payload of an IncomingMessage event.
func (e Event) Payload() []byte { return e.payload }

// Err returns the cause attached to Disconnected and TransportError events.
func (e Event) Err() error { return e.err }

// NewEvent returns an event without data.
func NewEvent(kind EventKind) Event {
	return Event{kind: kind}
}

// IncomingMessage returns an IncomingMessage event.
func IncomingMessage(topic string, payload []byte) Event {
	return Event{kind: EventIncomingMessage, topic: topic, payload: payload}
}

// Disconnected returns a Disconnected event with an optional cause.
func Disconnected(err error) Event {
	return Event{kind: EventDisconnected, err: err}
}

// TransportError returns a TransportError event.
func TransportError(err error) Event {
	return Event{kind: EventTransportError, err: err}
}
