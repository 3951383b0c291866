package link

// State is the link manager's state tag.
type State int

const (
	Offline State = iota
	AccessPointMode
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Offline:
		return "Offline"
	case AccessPointMode:
		return "AccessPointMode"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// EventKind is the link manager's event tag.
type EventKind int

const (
	EventAPStart EventKind = iota
	EventAPStop
	EventLinkConnect
	EventPeerJoined
	EventLostConnection
	EventLinkStarted
	EventAssociated
	EventAddressAcquired
	EventDisconnectRequested
)

func (k EventKind) String() string {
	switch k {
	case EventAPStart:
		return "APStart"
	case EventAPStop:
		return "APStop"
	case EventLinkConnect:
		return "LinkConnect"
	case EventPeerJoined:
		return "PeerJoined"
	case EventLostConnection:
		return "LostConnection"
	case EventLinkStarted:
		return "LinkStarted"
	case EventAssociated:
		return "Associated"
	case EventAddressAcquired:
		return "AddressAcquired"
	case EventDisconnectRequested:
		return "DisconnectRequested"
	default:
		return "Unknown"
	}
}

// DisconnectReason is the reason code attached to a LostConnection event.
// Values follow IEEE 802.11 reason codes where one exists.
type DisconnectReason uint8

const (
	ReasonUnspecified    DisconnectReason = 1
	ReasonAuthExpire     DisconnectReason = 2
	ReasonAssocLeave     DisconnectReason = 8
	ReasonBeaconTimeout  DisconnectReason = 200
	ReasonNoAccessPoint  DisconnectReason = 201
	ReasonHandshakeError DisconnectReason = 204
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonAuthExpire:
		return "auth_expire"
	case ReasonAssocLeave:
		return "assoc_leave"
	case ReasonBeaconTimeout:
		return "beacon_timeout"
	case ReasonNoAccessPoint:
		return "no_ap_found"
	case ReasonHandshakeError:
		return "handshake_error"
	default:
		return "unknown"
	}
}

// Event is an input to the link state machine.
type Event struct {
	kind   EventKind
	reason DisconnectReason
}

// Kind returns the event tag.
func (e Event) Kind() EventKind { return e.kind }

// Reason returns the disconnect reason of a LostConnection event.
func (e Event) Reason() DisconnectReason { return e.reason }

// NewEvent returns an event without data.
func NewEvent(kind EventKind) Event {
	return Event{kind: kind}
}

// LostConnection returns a LostConnection event carrying the reason code.
func LostConnection(reason DisconnectReason) Event {
	return Event{kind: EventLostConnection, reason: reason}
}
