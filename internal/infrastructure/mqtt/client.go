package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/spherolink/internal/infrastructure/config"
)

// Client is the bridge's broker link. It carries toy commands in, acks,
// notifications and state out, and keeps the retained health topic honest:
// online after every (re)connect, offline on Close, and offline via the will
// if spherod dies without closing.
//
// Command subscriptions survive reconnects; handlers run on paho's goroutines
// and must not block for longer than a toy command takes.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	linkUp atomic.Bool

	hooksMu sync.RWMutex
	hooks   linkHooks
}

// linkHooks are the caller-supplied reactions to link changes.
type linkHooks struct {
	up     func()
	down   func(err error)
	logger Logger
}

// Logger is satisfied by logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one message from a subscribed toy topic. A returned
// error is logged with the topic; it is never sent back to the publisher.
type MessageHandler func(topic string, payload []byte) error

func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.linkRestored() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.linkLost(err) })
	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect dials the broker named in cfg. The first attempt is bounded by
// defaultConnectTimeout; later drops are retried by paho in the background.
//
// Returns:
//   - error: ErrConnectionFailed wrapping the broker address and cause
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)
	broker := fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: bridge broker %s did not answer within %v",
			ErrConnectionFailed, broker, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: bridge broker %s: %w", ErrConnectionFailed, broker, err)
	}

	// paho runs the connect handler on its own goroutine; do not wait for it.
	c.linkUp.Store(true)
	return c, nil
}

// Topics returns the toy topic builders for this client's prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the QoS configured for toy traffic.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

func (c *Client) linkRestored() {
	c.linkUp.Store(true)
	c.resubscribe()
	c.announce(StatusOnline, "")

	if up := c.currentHooks().up; up != nil {
		up()
	}
}

func (c *Client) linkLost(err error) {
	c.linkUp.Store(false)

	h := c.currentHooks()
	if h.logger != nil {
		h.logger.Warn("bridge broker link lost, toy commands paused", "error", err)
	}
	if h.down != nil {
		h.down(err)
	}
}

func (c *Client) announce(status, reason string) pahomqtt.Token {
	return c.client.Publish(c.topics.Health(), byte(c.cfg.QoS), true,
		healthPayload(status, c.cfg.Broker.ClientID, reason))
}

func (c *Client) resubscribe() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close marks the bridge offline on the health topic and drops the link.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce(StatusOffline, "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.linkUp.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bridge broker health: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether both this client and paho consider the link up.
func (c *Client) IsConnected() bool {
	return c.linkUp.Load() && c.client.IsConnected()
}

// SetOnConnect sets a callback run after every (re)connect, once command
// subscriptions have been restored.
func (c *Client) SetOnConnect(fn func()) {
	c.hooksMu.Lock()
	c.hooks.up = fn
	c.hooksMu.Unlock()
}

// SetOnDisconnect sets a callback run when the broker link drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooksMu.Lock()
	c.hooks.down = fn
	c.hooksMu.Unlock()
}

// SetLogger sets the logger for link loss and failing toy handlers.
func (c *Client) SetLogger(logger Logger) {
	c.hooksMu.Lock()
	c.hooks.logger = logger
	c.hooksMu.Unlock()
}

func (c *Client) currentHooks() linkHooks {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return c.hooks
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(handler, msg.Topic(), msg.Payload())
	}
}

// deliver runs handler, turning a panic into a logged error so one bad
// command payload cannot take the bridge down.
func (c *Client) deliver(handler MessageHandler, topic string, payload []byte) {
	logger := c.currentHooks().logger
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("toy topic handler panicked", "topic", topic, "panic", r)
		}
	}()

	if err := handler(topic, payload); err != nil && logger != nil {
		logger.Warn("toy topic handler failed", "topic", topic, "error", err)
	}
}
