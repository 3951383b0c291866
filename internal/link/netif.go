package link

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/baozi-iot/baozi-node/internal/system"
)

// ErrAccessPointUnsupported is returned by transports without a radio that
// can host an access point.
var ErrAccessPointUnsupported = errors.New("link: access point mode not supported by transport")

// defaultPollInterval is how often NetifTransport samples the interface.
const defaultPollInterval = time.Second

// InterfaceStatus is a sample of a network interface's state.
type InterfaceStatus struct {
	// Up is true when the interface is administratively up and running.
	Up bool

	// HasAddress is true when a routable IPv4 address is assigned.
	HasAddress bool
}

// StatusFunc samples an interface by name.
type StatusFunc func(name string) (InterfaceStatus, error)

// NetifTransport is a host Transport backed by an operating-system network
// interface (e.g. wlan0 managed by wpa_supplicant).
//
// Association is observed, not performed: the transport polls the interface
// and turns state changes into link events.
type NetifTransport struct {
	name     string
	interval time.Duration
	status   StatusFunc
	loop     *system.Loop

	mu      sync.Mutex
	sink    func(Event)
	polling bool
	stop    chan struct{}
}

// NewNetifTransport creates a transport watching the named interface.
// A zero interval uses one second.
func NewNetifTransport(name string, interval time.Duration) *NetifTransport {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &NetifTransport{
		name:     name,
		interval: interval,
		status:   InterfaceStatusByName,
		loop:     system.EventLoop(),
	}
}

// SetEventSink implements Transport.
func (t *NetifTransport) SetEventSink(sink func(Event)) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// StartAccessPoint implements Transport. Host interfaces cannot host an
// access point, so this always fails.
func (t *NetifTransport) StartAccessPoint(string) error {
	return ErrAccessPointUnsupported
}

// StartStation implements Transport.
//
// Credentials are owned by the host's supplicant; the interface only has to
// exist for the station to count as started.
func (t *NetifTransport) StartStation(string, string) error {
	if _, err := t.status(t.name); err != nil {
		return fmt.Errorf("starting station on %s: %w", t.name, err)
	}
	t.post(NewEvent(EventLinkStarted))
	return nil
}

// Associate implements Transport. It starts the interface poller if it is
// not already running.
func (t *NetifTransport) Associate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.polling {
		return nil
	}
	t.polling = true
	t.stop = make(chan struct{})
	go t.poll(t.stop)
	return nil
}

// Teardown implements Transport. It stops the poller and reports an
// explicit leave.
func (t *NetifTransport) Teardown() error {
	t.mu.Lock()
	if t.polling {
		close(t.stop)
		t.polling = false
	}
	t.mu.Unlock()

	t.post(LostConnection(ReasonAssocLeave))
	return nil
}

// poll samples the interface until stop is closed and emits edge events.
func (t *NetifTransport) poll(stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var prev InterfaceStatus
	for {
		cur, err := t.status(t.name)
		if err != nil {
			cur = InterfaceStatus{}
		}

		switch {
		case cur.Up && !prev.Up:
			t.post(NewEvent(EventAssociated))
		case !cur.Up && prev.Up:
			t.post(LostConnection(ReasonBeaconTimeout))
		case !cur.Up:
			t.post(LostConnection(ReasonNoAccessPoint))
		}
		if cur.HasAddress && !prev.HasAddress {
			t.post(NewEvent(EventAddressAcquired))
		}
		prev = cur

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// post delivers an event to the sink on the process event loop.
func (t *NetifTransport) post(ev Event) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()

	if sink == nil {
		return
	}
	t.loop.Post(func() { sink(ev) })
}

// InterfaceStatusByName samples a host network interface.
func InterfaceStatusByName(name string) (InterfaceStatus, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return InterfaceStatus{}, fmt.Errorf("looking up interface %s: %w", name, err)
	}

	status := InterfaceStatus{
		Up: iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0,
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return status, nil
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil && !ip.IsLinkLocalUnicast() {
			status.HasAddress = true
			break
		}
	}

	return status, nil
}

// HardwareAddr returns the MAC address of the named interface.
func HardwareAddr(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %s: %w", name, err)
	}
	return iface.HardwareAddr, nil
}
