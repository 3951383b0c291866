package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/baozi-iot/baozi-node/internal/bus"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/config"
	"github.com/baozi-iot/baozi-node/internal/system"
)

// maxPayloadSize bounds a single message (256 KiB).
const maxPayloadSize = 256 << 10

// Client adapts paho.mqtt.golang to bus.Transport.
//
// paho callbacks are turned into bus events and posted to the process event
// loop, so the bus manager never runs on a paho goroutine. Broker
// acknowledgements are awaited in the background.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	topics  Topics
	loop    *system.Loop

	sinkMu sync.RWMutex
	sink   func(bus.Event)

	// logger for error logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

var _ bus.Transport = (*Client)(nil)

// New builds a client for the broker in cfg. No connection is attempted
// until Connect.
//
// Parameters:
//   - cfg: MQTT configuration; Broker.Host must already be resolved
//   - topics: the device topics, used for the last will
func New(cfg config.MQTTConfig, topics Topics) *Client {
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = topics.Device
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, topics)

	c := &Client{
		cfg:     cfg,
		options: opts,
		topics:  topics,
		loop:    system.EventLoop(),
	}

	opts.SetConnectionAttemptHandler(func(_ *url.URL, tlsCfg *tls.Config) *tls.Config {
		c.post(bus.NewEvent(bus.EventBeforeConnect))
		return tlsCfg
	})

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.post(bus.NewEvent(bus.EventSessionEstablished))
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.post(bus.Disconnected(err))
	})

	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "broker", cfg.Broker.Host)
		}
	})

	// Subscriptions are made without a per-topic callback, so every message
	// lands here and is routed by the bus manager.
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.post(bus.IncomingMessage(msg.Topic(), msg.Payload()))
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// SetEventSink implements bus.Transport.
func (c *Client) SetEventSink(sink func(bus.Event)) {
	c.sinkMu.Lock()
	c.sink = sink
	c.sinkMu.Unlock()
}

// post delivers an event to the sink on the process event loop.
func (c *Client) post(ev bus.Event) {
	c.sinkMu.RLock()
	sink := c.sink
	c.sinkMu.RUnlock()

	if sink == nil {
		return
	}
	c.loop.Post(func() { sink(ev) })
}

// Connect implements bus.Transport.
//
// It starts the paho connect loop and returns at once. paho keeps retrying
// until the broker accepts; the session is reported as SessionEstablished.
func (c *Client) Connect() error {
	if c.cfg.Broker.Host == "" {
		return ErrNoBroker
	}

	token := c.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.post(bus.TransportError(fmt.Errorf("%w: %w", ErrConnectionFailed, err)))
		}
	}()
	return nil
}

// Subscribe implements bus.Transport. The SUBACK is awaited in the
// background and reported as a Subscribed event.
func (c *Client) Subscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	token := c.client.Subscribe(topic, byte(c.cfg.QoS), nil)
	if err := immediateError(token); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	go c.awaitAck(token, bus.EventSubscribed, "subscribe", topic)
	return nil
}

// Publish implements bus.Transport. Delivery is confirmed in the background
// and reported as a PublishAcked event.
func (c *Client) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
	if err := immediateError(token); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	go c.awaitAck(token, bus.EventPublishAcked, "publish", topic)
	return nil
}

// Disconnect implements bus.Transport.
//
// A graceful offline presence message is published first so observers can
// tell a shutdown from a crash (which triggers the last will instead).
func (c *Client) Disconnect() {
	if c.client.IsConnectionOpen() {
		token := c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), false, PayloadOffline)
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	return nil
}

// Topics returns the device topics the client was built with.
func (c *Client) Topics() Topics {
	return c.topics
}

// SetLogger sets a logger for error logging.
// If not set, background acknowledgement failures are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// awaitAck waits for a token and posts kind once it completes cleanly.
func (c *Client) awaitAck(token pahomqtt.Token, kind bus.EventKind, op, topic string) {
	if !token.WaitTimeout(defaultAckTimeout) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT acknowledgement timed out", "op", op, "topic", topic)
		}
		return
	}
	if err := token.Error(); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Error("MQTT operation failed", "op", op, "topic", topic, "error", err)
		}
		return
	}
	c.post(bus.NewEvent(kind))
}

// immediateError returns the token's error if it has already completed.
// paho fails tokens synchronously when the client is not connected.
func immediateError(token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}
