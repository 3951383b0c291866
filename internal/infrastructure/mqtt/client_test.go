package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/baozi-iot/baozi-node/internal/bus"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration pointing at a broker that is
// never dialled; none of these tests need a running broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host: "127.0.0.1",
			Port: 1883,
		},
		Auth: config.MQTTAuthConfig{
			Username: "node",
			Password: "secret",
		},
		QoS: 0,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

var testTopics = Topics{Device: "baozi-a1b2c3"}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func collectEvents(c *Client) <-chan bus.Event {
	events := make(chan bus.Event, 16)
	c.SetEventSink(func(ev bus.Event) { events <- ev })
	return events
}

func nextEvent(t *testing.T, events <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(testConfig())

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.Username != "node" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want node/secret", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("auto reconnect and connect retry should be enabled")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && len(opts.TLSConfig.Certificates) > 0 {
		t.Error("unexpected TLS certificates")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not set with minimum version")
	}
}

func TestBuildClientOptions_Anonymous(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{}

	opts := buildClientOptions(cfg)

	if opts.Username != "" {
		t.Errorf("Username = %q, want empty", opts.Username)
	}
}

func TestNew_LastWill(t *testing.T) {
	c := New(testConfig(), testTopics)

	if !c.options.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if c.options.WillTopic != "baozi-a1b2c3/status" {
		t.Errorf("WillTopic = %q, want %q", c.options.WillTopic, "baozi-a1b2c3/status")
	}
	if string(c.options.WillPayload) != PayloadOffline {
		t.Errorf("WillPayload = %q, want %q", c.options.WillPayload, PayloadOffline)
	}
}

func TestNew_ClientIDDefaultsToDevice(t *testing.T) {
	c := New(testConfig(), testTopics)
	if c.options.ClientID != testTopics.Device {
		t.Errorf("ClientID = %q, want %q", c.options.ClientID, testTopics.Device)
	}

	cfg := testConfig()
	cfg.Broker.ClientID = "explicit"
	c = New(cfg, testTopics)
	if c.options.ClientID != "explicit" {
		t.Errorf("ClientID = %q, want explicit", c.options.ClientID)
	}
}

func TestCallbacksBecomeBusEvents(t *testing.T) {
	c := New(testConfig(), testTopics)
	events := collectEvents(c)

	c.options.OnConnectAttempt(nil, nil)
	if ev := nextEvent(t, events); ev.Kind() != bus.EventBeforeConnect {
		t.Errorf("attempt event = %v, want BeforeConnect", ev.Kind())
	}

	c.options.OnConnect(nil)
	if ev := nextEvent(t, events); ev.Kind() != bus.EventSessionEstablished {
		t.Errorf("connect event = %v, want SessionEstablished", ev.Kind())
	}

	lost := errors.New("pingresp not received")
	c.options.OnConnectionLost(nil, lost)
	ev := nextEvent(t, events)
	if ev.Kind() != bus.EventDisconnected {
		t.Errorf("lost event = %v, want Disconnected", ev.Kind())
	}
	if !errors.Is(ev.Err(), lost) {
		t.Errorf("lost event error = %v, want %v", ev.Err(), lost)
	}

	c.options.DefaultPublishHandler(nil, fakeMessage{topic: "baozi-a1b2c3/command/restart", payload: []byte("now")})
	ev = nextEvent(t, events)
	if ev.Kind() != bus.EventIncomingMessage {
		t.Fatalf("message event = %v, want IncomingMessage", ev.Kind())
	}
	if ev.Topic() != "baozi-a1b2c3/command/restart" || string(ev.Payload()) != "now" {
		t.Errorf("message = %q %q, want restart command", ev.Topic(), ev.Payload())
	}
}

func TestPostWithoutSinkIsDropped(t *testing.T) {
	c := New(testConfig(), testTopics)
	c.options.OnConnect(nil) // must not panic
}

func TestConnect_NoBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Host = ""
	c := New(cfg, testTopics)

	if err := c.Connect(); !errors.Is(err, ErrNoBroker) {
		t.Errorf("Connect() error = %v, want ErrNoBroker", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := New(testConfig(), testTopics)

	if err := c.Subscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}

	// paho fails the token at once when no session was ever started.
	if err := c.Subscribe("x"); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() before Connect error = %v, want ErrSubscribeFailed", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := New(testConfig(), testTopics)

	if err := c.Publish("", nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(\"\") error = %v, want ErrInvalidTopic", err)
	}

	big := []byte(strings.Repeat("x", maxPayloadSize+1))
	if err := c.Publish("t", big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Publish(oversize) error = %v, want ErrPayloadTooLarge", err)
	}

	if err := c.Publish("t", []byte("x")); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() before Connect error = %v, want ErrPublishFailed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := New(testConfig(), testTopics)

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestDisconnectWithoutSession(t *testing.T) {
	c := New(testConfig(), testTopics)
	c.Disconnect() // must not block or panic
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", testTopics.Status(), "baozi-a1b2c3/status"},
		{"ota", testTopics.OTA(), "baozi-a1b2c3/ota"},
		{"commands", testTopics.Commands(), "baozi-a1b2c3/command/#"},
		{"command", testTopics.Command("restart"), "baozi-a1b2c3/command/restart"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}

	if !bus.MatchTopic(testTopics.Commands(), testTopics.Command("restart")) {
		t.Error("Commands() pattern does not match Command()")
	}
}
