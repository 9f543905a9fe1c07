package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
	maxPayloadSize           = 1 << 20
)

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler receives one message. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the uplink connection to the site MQTT broker. It restores
// subscriptions after every reconnect and publishes a retained health
// status, with a matching last will for unexpected disconnects.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	topics   Topics
	clientID string

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connMu    sync.RWMutex
	connected bool

	logMu  sync.RWMutex
	logger Logger
}

// Connect dials the broker described by cfg and waits for the first
// connection, bounded by ctx and a 10 second timeout.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicRoot),
		clientID:      cfg.Broker.ClientID,
		subscriptions: make(map[string]subscription),
	}

	opts := c.clientOptions()
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	timer := time.NewTimer(defaultConnectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-timer.C:
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark connected here so
	// callers can subscribe straight away.
	c.setConnected(true)
	return c, nil
}

func (c *Client) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if c.cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Broker.Host, c.cfg.Broker.Port))
	opts.SetClientID(c.clientID)
	if c.cfg.Auth.Username != "" {
		opts.SetUsername(c.cfg.Auth.Username)
		opts.SetPassword(c.cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	if c.cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(c.cfg.Reconnect.MaxDelay) * time.Second)
	}
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	opts.SetWill(c.topics.BridgeHealth(), string(c.statusPayload("offline", "unexpected_disconnect")), 1, true)
	return opts
}

// statusPayload renders the bridge health message.
func (c *Client) statusPayload(status, reason string) []byte {
	body := map[string]string{
		"status":    status,
		"client_id": c.clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		body["reason"] = reason
	}
	payload, _ := json.Marshal(body) //nolint:errcheck // map[string]string always marshals
	return payload
}

func (c *Client) handleConnect() {
	c.setConnected(true)

	c.subMu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.topics.BridgeHealth(), byte(c.cfg.QoS), true, c.statusPayload("online", ""))
	if l := c.getLogger(); l != nil {
		l.Info("uplink connected", "broker", c.cfg.Broker.Host)
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	if l := c.getLogger(); l != nil {
		l.Warn("uplink connection lost", "error", err)
	}
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// Topics returns the topic builders for the configured root.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS) // #nosec G115 -- validated 0..2
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// HealthCheck returns ErrNotConnected while the uplink is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetLogger sets the logger used for connection events and handler errors.
func (c *Client) SetLogger(logger Logger) {
	c.logMu.Lock()
	c.logger = logger
	c.logMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.logMu.RLock()
	defer c.logMu.RUnlock()
	return c.logger
}

// Publish sends payload to topic and waits for the broker to accept it.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic (wildcards allowed). The
// subscription is restored after reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	var err error
	if !token.WaitTimeout(defaultPublishTimeout) {
		err = fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	} else if tokErr := token.Error(); tokErr != nil {
		err = fmt.Errorf("%w: %w", ErrSubscribeFailed, tokErr)
	}
	if err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
	}
	return err
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.BridgeHealth(), byte(c.cfg.QoS), true, c.statusPayload("offline", "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// wrapHandler adds panic recovery and error logging around handler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
