// Package mqtt wraps the Paho client with context-aware connect, publish and
// subscribe calls and connection-loss fan-out.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/logger"
)

// Defaults
const (
	defaultTimeout        = 10 * time.Second
	defaultConnectBackoff = 5 * time.Second
	disconnectQuiesceMs   = 250
)

// ErrNotConnected is returned by operations attempted while offline.
var ErrNotConnected = errors.NewStd("mqtt client is not connected")

// MessageHandler receives a message payload. Handlers run on Paho's
// goroutines and may be called concurrently.
type MessageHandler func(topic string, payload []byte)

// Client is the subset of MQTT operations used by feeds and publishers.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte) error
	PublishWithRetain(ctx context.Context, topic string, payload []byte, retain bool) error
	Subscribe(ctx context.Context, filters map[string]byte, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topics ...string) error
	// NotifyConnectionLost registers fn to be called when the broker
	// connection drops. The returned func deregisters it.
	NotifyConnectionLost(fn func(error)) (remove func())
}

// Config holds broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration
	// ConnectCooldown rejects Connect calls issued sooner than this after
	// the previous attempt.
	ConnectCooldown time.Duration
}

type client struct {
	cfg  Config
	log  logger.Logger
	opts *paho.ClientOptions

	mu          sync.Mutex
	internal    paho.Client
	lastAttempt time.Time

	lostMu    sync.Mutex
	lostSeq   int
	lostFuncs map[int]func(error)
}

// NewClient creates a client. It does not connect.
func NewClient(cfg Config, log logger.Logger) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is required").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ConnectCooldown <= 0 {
		cfg.ConnectCooldown = defaultConnectBackoff
	}
	if log == nil {
		log = logger.Silent()
	}

	c := &client{
		cfg:       cfg,
		log:       log.Module("mqtt").With(logger.String("broker", cfg.Broker)),
		lostFuncs: make(map[int]func(error)),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	// Subscriptions are owned by feeds and re-established by them after a drop.
	opts.SetResumeSubs(false)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(func(paho.Client) {
		c.log.Info("connected to mqtt broker")
	})
	c.opts = opts
	return c, nil
}

// Connect connects to the broker and waits until ctx is done or the
// connection is established.
func (c *client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if !c.lastAttempt.IsZero() && time.Since(c.lastAttempt) < c.cfg.ConnectCooldown {
		c.mu.Unlock()
		return fmt.Errorf("connection attempt too recent, retry in %s",
			(c.cfg.ConnectCooldown - time.Since(c.lastAttempt)).Round(time.Millisecond))
	}
	c.lastAttempt = time.Now()
	if c.internal == nil {
		c.internal = paho.NewClient(c.opts)
	}
	pc := c.internal
	c.mu.Unlock()

	if pc.IsConnected() {
		return nil
	}
	if err := wait(ctx, pc.Connect(), c.cfg.Timeout); err != nil {
		return errors.Newf("failed to connect to mqtt broker: %w", err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("broker", c.cfg.Broker).
			Build()
	}
	return nil
}

// Disconnect closes the connection.
func (c *client) Disconnect() {
	c.mu.Lock()
	pc := c.internal
	c.mu.Unlock()
	if pc != nil && pc.IsConnectionOpen() {
		pc.Disconnect(disconnectQuiesceMs)
	}
}

// IsConnected reports whether the client has an open connection.
func (c *client) IsConnected() bool {
	pc := c.paho()
	return pc != nil && pc.IsConnectionOpen()
}

// Publish sends a non-retained message at the configured QoS.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.PublishWithRetain(ctx, topic, payload, false)
}

// PublishWithRetain sends a message with the given retain flag.
func (c *client) PublishWithRetain(ctx context.Context, topic string, payload []byte, retain bool) error {
	pc := c.paho()
	if pc == nil || !pc.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := wait(ctx, pc.Publish(topic, c.cfg.QoS, retain, payload), c.cfg.Timeout); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe subscribes to all filters in a single SUBSCRIBE packet.
func (c *client) Subscribe(ctx context.Context, filters map[string]byte, handler MessageHandler) error {
	pc := c.paho()
	if pc == nil || !pc.IsConnectionOpen() {
		return ErrNotConnected
	}
	if len(filters) == 0 {
		return nil
	}
	cb := func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	}
	if err := wait(ctx, pc.SubscribeMultiple(filters, cb), c.cfg.Timeout); err != nil {
		return fmt.Errorf("failed to subscribe to %d topics: %w", len(filters), err)
	}
	return nil
}

// Unsubscribe removes subscriptions. It is a no-op while offline since the
// broker already dropped them with the clean session.
func (c *client) Unsubscribe(ctx context.Context, topics ...string) error {
	pc := c.paho()
	if pc == nil || !pc.IsConnectionOpen() || len(topics) == 0 {
		return nil
	}
	if err := wait(ctx, pc.Unsubscribe(topics...), c.cfg.Timeout); err != nil {
		return fmt.Errorf("failed to unsubscribe from %d topics: %w", len(topics), err)
	}
	return nil
}

// NotifyConnectionLost registers a connection-loss callback.
func (c *client) NotifyConnectionLost(fn func(error)) func() {
	c.lostMu.Lock()
	defer c.lostMu.Unlock()
	c.lostSeq++
	id := c.lostSeq
	c.lostFuncs[id] = fn
	return func() {
		c.lostMu.Lock()
		delete(c.lostFuncs, id)
		c.lostMu.Unlock()
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("mqtt connection lost", logger.Error(err))
	c.lostMu.Lock()
	funcs := make([]func(error), 0, len(c.lostFuncs))
	for _, fn := range c.lostFuncs {
		funcs = append(funcs, fn)
	}
	c.lostMu.Unlock()

	wrapped := errors.Newf("mqtt connection lost: %w", err).
		Component("mqtt").
		Category(errors.CategoryNetwork).
		Build()
	for _, fn := range funcs {
		fn(wrapped)
	}
}

func (c *client) paho() paho.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal
}

// wait blocks until the token completes, ctx is done or timeout elapses.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("operation timed out after %s", timeout)
	}
}
