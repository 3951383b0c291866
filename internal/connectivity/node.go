package connectivity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/baozi-iot/baozi-node/internal/bus"
	"github.com/baozi-iot/baozi-node/internal/fsm"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/mqtt"
	"github.com/baozi-iot/baozi-node/internal/link"
	"github.com/baozi-iot/baozi-node/internal/settings"
)

// Retry bounds a wait: Attempts checks, Interval apart.
type Retry struct {
	Attempts int
	Interval time.Duration
}

// policy returns a backoff policy for r bound to ctx.
func (r Retry) policy(ctx context.Context) backoff.BackOff {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	var b backoff.BackOff = &backoff.StopBackOff{}
	if attempts > 1 {
		// WithMaxRetries treats zero as unlimited.
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Config holds the startup parameters.
type Config struct {
	// DeviceName names the node's topics and mDNS instance.
	DeviceName string

	// SSID and Password override stored credentials when set.
	SSID     string
	Password string

	LinkWait    Retry
	BrokerRetry Retry
	BusWait     Retry

	// OTAPort is advertised so update tools know where to announce.
	OTAPort int

	// Version is advertised in the TXT record.
	Version string
}

// Dialer builds the bus transport for a located broker.
type Dialer func(broker Broker) bus.Transport

// CredentialStore keeps the last link credentials that reached Connected.
// *settings.Store implements it.
type CredentialStore interface {
	LinkCredentials(ctx context.Context) (settings.Credentials, error)
	SaveLinkCredentials(ctx context.Context, c settings.Credentials) error
}

// Logger defines the logging interface for the node.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger. Link and bus managers created by the node
// log through it too.
func WithLogger(logger Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithCredentialStore enables stored credentials.
func WithCredentialStore(store CredentialStore) Option {
	return func(n *Node) { n.creds = store }
}

// WithAdvertiser enables mDNS advertisement once the bus is connected.
func WithAdvertiser(a Advertiser) Option {
	return func(n *Node) { n.advertiser = a }
}

// WithBusOptions passes state machine options to the bus manager.
func WithBusOptions(opts ...fsm.Option) Option {
	return func(n *Node) { n.busOpts = append(n.busOpts, opts...) }
}

type registration struct {
	topic   string
	handler bus.Handler
}

// Node runs the startup sequence and owns the bus manager it creates.
type Node struct {
	cfg        Config
	link       *link.Manager
	locator    BrokerLocator
	dial       Dialer
	topics     mqtt.Topics
	creds      CredentialStore
	advertiser Advertiser
	busOpts    []fsm.Option
	logger     Logger

	mu       sync.Mutex
	bus      *bus.Manager
	pending  []registration
	withdraw func()
}

// New creates a node. Nothing happens until Start.
func New(cfg Config, linkManager *link.Manager, locator BrokerLocator, dial Dialer, opts ...Option) *Node {
	n := &Node{
		cfg:     cfg,
		link:    linkManager,
		locator: locator,
		dial:    dial,
		topics:  mqtt.Topics{Device: cfg.DeviceName},
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Topics returns the node's topic builders.
func (n *Node) Topics() mqtt.Topics {
	return n.topics
}

// Handle registers a bus handler. Handlers registered before Start are
// installed when the bus manager is created.
func (n *Node) Handle(topic string, handler bus.Handler) error {
	n.mu.Lock()
	b := n.bus
	if b == nil {
		if topic == "" {
			n.mu.Unlock()
			return bus.ErrInvalidTopic
		}
		if handler == nil {
			n.mu.Unlock()
			return bus.ErrNilHandler
		}
		n.pending = append(n.pending, registration{topic: topic, handler: handler})
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()
	return b.Register(topic, handler)
}

// Bus returns the bus manager, or nil before Start has located a broker.
func (n *Node) Bus() *bus.Manager {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bus
}

// Publish sends payload through the bus. It fails with ErrNotStarted
// before the bus manager exists.
func (n *Node) Publish(topic string, payload []byte) error {
	b := n.Bus()
	if b == nil {
		return ErrNotStarted
	}
	return b.Publish(topic, payload)
}

// IsConnected reports whether the bus is connected.
func (n *Node) IsConnected() bool {
	b := n.Bus()
	return b != nil && b.IsConnected()
}

// Start runs the startup sequence. It returns once the bus is connected
// and the node is advertised, or with the first step that failed.
func (n *Node) Start(ctx context.Context) error {
	if err := n.startLink(ctx); err != nil {
		return err
	}

	broker, err := n.locateBroker(ctx)
	if err != nil {
		return err
	}

	if err := n.startBus(ctx, broker); err != nil {
		return err
	}

	n.advertise()
	return nil
}

// startLink associates the link and waits for Connected.
func (n *Node) startLink(ctx context.Context) error {
	if n.link.IsConnected() {
		return nil
	}

	creds, fromConfig, err := n.credentials(ctx)
	if err != nil {
		n.logger.Warn("no link credentials, switching to access point mode")
		n.link.SwitchToAccessPoint()
		return err
	}

	if !n.link.Connect(creds.SSID, creds.Password) {
		return ErrLinkRejected
	}

	n.logger.Info("waiting for link", "ssid", creds.SSID, "attempts", n.cfg.LinkWait.Attempts)
	if err := n.await(ctx, n.link.IsConnected, n.cfg.LinkWait); err != nil {
		return fmt.Errorf("%w: %w", ErrLinkTimeout, err)
	}

	if fromConfig && n.creds != nil {
		if err := n.creds.SaveLinkCredentials(ctx, creds); err != nil {
			n.logger.Warn("storing link credentials failed", "error", err)
		}
	}
	return nil
}

// credentials prefers configured credentials over stored ones.
func (n *Node) credentials(ctx context.Context) (settings.Credentials, bool, error) {
	if n.cfg.SSID != "" && n.cfg.Password != "" {
		return settings.Credentials{SSID: n.cfg.SSID, Password: n.cfg.Password}, true, nil
	}
	if n.creds == nil {
		return settings.Credentials{}, false, ErrNoCredentials
	}

	c, err := n.creds.LinkCredentials(ctx)
	if errors.Is(err, settings.ErrNotFound) {
		return settings.Credentials{}, false, ErrNoCredentials
	}
	if err != nil {
		return settings.Credentials{}, false, fmt.Errorf("loading link credentials: %w", err)
	}
	return c, false, nil
}

// locateBroker retries the locator.
func (n *Node) locateBroker(ctx context.Context) (Broker, error) {
	var broker Broker
	err := backoff.RetryNotify(func() error {
		b, err := n.locator.Locate(ctx)
		if err != nil {
			return err
		}
		broker = b
		return nil
	}, n.cfg.BrokerRetry.policy(ctx), func(err error, next time.Duration) {
		n.logger.Warn("broker lookup failed", "error", err, "retry_in", next.String())
	})
	if err != nil {
		if ctx.Err() != nil {
			return Broker{}, ctx.Err()
		}
		if errors.Is(err, ErrBrokerNotFound) {
			return Broker{}, err
		}
		return Broker{}, fmt.Errorf("%w: %w", ErrBrokerNotFound, err)
	}

	n.logger.Info("broker located", "broker", broker.String())
	return broker, nil
}

// startBus creates the bus manager, connects and waits for Connected.
func (n *Node) startBus(ctx context.Context, broker Broker) error {
	n.mu.Lock()
	b := n.bus
	if b == nil {
		b = bus.NewManager(n.dial(broker), n.busOpts...)
		b.SetLogger(n.logger)
		for _, r := range n.pending {
			if err := b.Register(r.topic, r.handler); err != nil {
				n.mu.Unlock()
				return err
			}
		}
		n.pending = nil
		n.bus = b
	}
	n.mu.Unlock()

	if err := b.Connect(n.announce); err != nil {
		return err
	}

	if err := n.await(ctx, b.IsConnected, n.cfg.BusWait); err != nil {
		return fmt.Errorf("%w: %w", ErrBusTimeout, err)
	}
	return nil
}

// announce publishes the online presence. It runs on every transition of
// the bus into Connected.
func (n *Node) announce() {
	n.mu.Lock()
	b := n.bus
	n.mu.Unlock()
	if b == nil {
		return
	}
	if err := b.Publish(n.topics.Status(), []byte(mqtt.PayloadOnline)); err != nil {
		n.logger.Warn("announcing presence failed", "error", err)
		return
	}
	n.logger.Info("node online", "device", n.cfg.DeviceName)
}

// advertise publishes the node over mDNS if an advertiser is configured.
func (n *Node) advertise() {
	if n.advertiser == nil {
		return
	}

	txt := []string{
		"device=" + n.cfg.DeviceName,
		"ota_port=" + strconv.Itoa(n.cfg.OTAPort),
	}
	if n.cfg.Version != "" {
		txt = append(txt, "version="+n.cfg.Version)
	}

	stop, err := n.advertiser.Advertise(n.cfg.DeviceName, n.cfg.OTAPort, txt)
	if err != nil {
		n.logger.Warn("mDNS advertisement failed", "error", err)
		return
	}

	n.mu.Lock()
	if n.withdraw != nil {
		n.withdraw()
	}
	n.withdraw = stop
	n.mu.Unlock()
	n.logger.Info("node advertised", "instance", n.cfg.DeviceName, "port", n.cfg.OTAPort)
}

// await polls cond under r.
func (n *Node) await(ctx context.Context, cond func() bool, r Retry) error {
	err := backoff.Retry(func() error {
		if cond() {
			return nil
		}
		return errNotReady
	}, r.policy(ctx))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close withdraws the advertisement and ends the bus session.
func (n *Node) Close() {
	n.mu.Lock()
	withdraw, b := n.withdraw, n.bus
	n.withdraw = nil
	n.mu.Unlock()

	if withdraw != nil {
		withdraw()
	}
	if b != nil {
		b.Close()
	}
}
