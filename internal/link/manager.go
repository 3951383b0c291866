package link

import (
	"fmt"
	"sync"

	"github.com/baozi-iot/baozi-node/internal/fsm"
	"github.com/baozi-iot/baozi-node/internal/system"
)

// Defaults for Config zero values.
const (
	// DefaultRetryCeiling is the number of consecutive losses tolerated while
	// Connecting before the process restarts.
	DefaultRetryCeiling = 15

	// DefaultAccessPointSSID is the SSID used in access-point mode.
	DefaultAccessPointSSID = "BAOZI_AP"
)

// Config holds link manager settings.
type Config struct {
	// RetryCeiling is the loss count while Connecting above which the
	// process restarts.
	RetryCeiling int

	// AccessPointSSID is the SSID broadcast in access-point mode.
	AccessPointSSID string
}

// Logger defines the logging interface for the link manager.
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

// Manager owns the link state machine.
//
// Thread Safety:
//   - All methods are safe for concurrent use. A mutex serialises every
//     dispatch, whether it comes from a user call or a transport event.
type Manager struct {
	transport Transport
	restarter system.Restarter
	cfg       Config
	logger    Logger

	mu       sync.Mutex
	machine  *fsm.Machine[State, EventKind, Event]
	ssid     string
	password string
	retries  int
}

// NewManager creates a link manager in the Offline state and registers
// itself as the transport's event sink.
func NewManager(transport Transport, cfg Config, restarter system.Restarter, opts ...fsm.Option) *Manager {
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}
	if cfg.AccessPointSSID == "" {
		cfg.AccessPointSSID = DefaultAccessPointSSID
	}

	m := &Manager{
		transport: transport,
		restarter: restarter,
		cfg:       cfg,
		logger:    noopLogger{},
	}
	m.machine = fsm.New[State, EventKind, Event]("link", Offline, opts...)
	m.buildTable()

	transport.SetEventSink(m.HandleEvent)
	return m
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// buildTable installs the transition table and entry actions.
func (m *Manager) buildTable() {
	f := m.machine

	// Offline
	f.On(Offline, EventAPStart, func(Event) (State, bool) {
		if err := m.transport.StartAccessPoint(m.cfg.AccessPointSSID); err != nil {
			m.logger.Error("starting access point failed", "error", err)
		}
		return AccessPointMode, true
	})
	f.On(Offline, EventLinkConnect, goTo(Connecting))

	// AccessPointMode
	f.On(AccessPointMode, EventAPStart, goTo(AccessPointMode))
	f.On(AccessPointMode, EventAPStop, goTo(Offline))
	f.On(AccessPointMode, EventLinkConnect, func(Event) (State, bool) {
		m.teardown()
		return Connecting, true
	})
	f.On(AccessPointMode, EventPeerJoined, stay)

	// Connecting
	f.On(Connecting, EventLostConnection, func(ev Event) (State, bool) {
		m.retries++
		m.logger.Warn("link attempt lost",
			"reason", ev.Reason().String(),
			"retries", m.retries,
			"ceiling", m.cfg.RetryCeiling,
		)
		if m.retries > m.cfg.RetryCeiling {
			m.logger.Error("link retry ceiling exceeded", "retries", m.retries)
			m.restarter.Restart(fmt.Sprintf("link retry ceiling %d exceeded", m.cfg.RetryCeiling))
		}
		return 0, false
	})
	f.On(Connecting, EventLinkStarted, func(Event) (State, bool) {
		if err := m.transport.Associate(); err != nil {
			m.logger.Error("association attempt failed", "error", err)
		}
		return 0, false
	})
	f.On(Connecting, EventAssociated, goTo(Connected))
	f.On(Connecting, EventAddressAcquired, goTo(Connected))

	// Connected
	f.On(Connected, EventLostConnection, func(ev Event) (State, bool) {
		if ev.Reason() == ReasonAssocLeave {
			return Offline, true
		}
		return Connecting, true
	})
	f.On(Connected, EventDisconnectRequested, func(Event) (State, bool) {
		m.teardown()
		return Offline, true
	})
	f.On(Connected, EventAddressAcquired, stay)

	f.OnEntry(Offline, func() {
		m.logger.Info("link offline")
	})
	f.OnEntry(AccessPointMode, func() {
		m.logger.Info("link in access point mode", "ssid", m.cfg.AccessPointSSID)
	})
	f.OnEntry(Connecting, func() {
		m.logger.Info("link connecting", "ssid", m.ssid)
		if err := m.transport.StartStation(m.ssid, m.password); err != nil {
			m.logger.Error("starting station failed", "error", err)
		}
	})
	f.OnEntry(Connected, func() {
		m.logger.Info("link connected", "ssid", m.ssid)
		m.retries = 0
	})
}

func goTo(s State) fsm.Action[State, Event] {
	return func(Event) (State, bool) { return s, true }
}

func stay(Event) (State, bool) { return 0, false }

func (m *Manager) teardown() {
	if err := m.transport.Teardown(); err != nil {
		m.logger.Warn("link teardown failed", "error", err)
	}
}

// HandleEvent dispatches a transport event. It is installed as the
// transport's event sink.
func (m *Manager) HandleEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machine.Dispatch(ev)
}

// Connect requests association with the given network.
//
// Returns false if either credential is empty or the link is already
// Connected.
func (m *Manager) Connect(ssid, password string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ssid == "" || password == "" {
		m.logger.Warn("link connect rejected: empty credentials")
		return false
	}

	if m.machine.Is(Connected) {
		m.logger.Warn("link connect rejected: already connected, disconnect first")
		return false
	}

	m.ssid = ssid
	m.password = password
	m.machine.Dispatch(NewEvent(EventLinkConnect))
	return true
}

// SwitchToAccessPoint requests access-point mode.
//
// Returns false if the link is already in AccessPointMode.
func (m *Manager) SwitchToAccessPoint() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.machine.Is(AccessPointMode) {
		m.logger.Warn("access point request rejected: already in access point mode")
		return false
	}

	m.machine.Dispatch(NewEvent(EventAPStart))
	return true
}

// Disconnect requests the link be torn down.
//
// Returns false if the link is already Offline.
func (m *Manager) Disconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.machine.Is(Offline) {
		m.logger.Warn("disconnect rejected: already offline")
		return false
	}

	m.machine.Dispatch(NewEvent(EventDisconnectRequested))
	return true
}

// Reset forgets the stored credentials and requests a disconnect.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ssid = ""
	m.password = ""
	m.machine.Dispatch(NewEvent(EventDisconnectRequested))
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Current()
}

// IsConnected reports whether the link is in the Connected state.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Retries returns the current retry counter.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// SSID returns the SSID of the stored credentials.
func (m *Manager) SSID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ssid
}
