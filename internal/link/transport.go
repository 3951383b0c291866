package link

// Transport drives the network hardware on behalf of the Manager.
//
// Methods start operations and return promptly; their outcome arrives later
// as events passed to the sink given to SetEventSink. Implementations must
// deliver events asynchronously (see system.EventLoop), never from inside a
// Transport method call.
type Transport interface {
	// SetEventSink installs the function receiving transport events.
	SetEventSink(sink func(Event))

	// StartAccessPoint brings up a local access point with the given SSID.
	StartAccessPoint(ssid string) error

	// StartStation configures station mode with the credentials and starts
	// the radio. A LinkStarted event follows once the radio is up.
	StartStation(ssid, password string) error

	// Associate begins an association attempt. Associated and
	// AddressAcquired events follow on success, LostConnection on failure.
	Associate() error

	// Teardown disconnects and stops the radio.
	Teardown() error
}
