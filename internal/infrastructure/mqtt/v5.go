package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nerrad567/lightlink/internal/infrastructure/config"
)

// V5Client speaks MQTT 5 through paho.golang with the same contract as
// Client. The network connection is dialled by the client itself so that
// the local address binding and TLS settings match the 3.1.1 path.
type V5Client struct {
	cfg    config.MQTTConfig
	topics Topics
	dialer *net.Dialer
	inbox  *inbox

	client    *paho.Client
	connected bool
	state     ReasonCode
	mu        sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewV5 creates a disconnected MQTT 5 client.
func NewV5(cfg config.MQTTConfig, dialer *net.Dialer) *V5Client {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &V5Client{
		cfg:    cfg,
		topics: NewTopics(cfg),
		dialer: dialer,
		inbox:  newInbox(cfg.InboxSize),
		state:  ReasonDisconnected,
	}
}

// Connect dials the broker and performs one MQTT 5 handshake.
func (c *V5Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout(c.cfg))
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(false, reasonFromDialError(err))
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Callbacks are bound to this client so a superseded one cannot
	// mark a later session lost.
	var client *paho.Client
	client = paho.NewClient(paho.ClientConfig{
		ClientID: c.cfg.Broker.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.onPublishReceived,
		},
		OnClientError:      func(err error) { c.onClientError(client, err) },
		OnServerDisconnect: func(d *paho.Disconnect) { c.onServerDisconnect(client, d) },
	})

	connect := &paho.Connect{
		KeepAlive:  uint16(keepAlive(c.cfg).Seconds()),
		ClientID:   c.cfg.Broker.ClientID,
		CleanStart: true,
		WillMessage: &paho.WillMessage{
			Topic:   c.topics.Status(),
			Payload: buildWillPayload(c.cfg.Broker.ClientID),
			QoS:     1,
			Retain:  true,
		},
	}
	if c.cfg.Auth.Username != "" {
		connect.Username = c.cfg.Auth.Username
		connect.UsernameFlag = true
		connect.Password = []byte(c.cfg.Auth.Password)
		connect.PasswordFlag = true
	}

	connack, err := client.Connect(ctx, connect)
	if err != nil {
		_ = conn.Close()
		reason := ReasonConnectFailed
		switch {
		case connack != nil && connack.ReasonCode != 0:
			reason = reasonFromV5Connack(connack.ReasonCode)
		case errors.Is(err, context.DeadlineExceeded):
			reason = ReasonConnectionTimeout
		}
		c.setState(false, reason)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.client = client
	c.connected = true
	c.state = ReasonConnected
	c.mu.Unlock()

	go c.watch(client)

	return nil
}

func (c *V5Client) dial(ctx context.Context) (net.Conn, error) {
	addr := brokerAddress(c.cfg)
	if !c.cfg.Broker.TLS {
		return c.dialer.DialContext(ctx, "tcp", addr)
	}
	td := &tls.Dialer{
		NetDialer: c.dialer,
		Config: &tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: c.cfg.Broker.Host,
		},
	}
	return td.DialContext(ctx, "tcp", addr)
}

// watch marks the session lost when paho shuts the client down.
func (c *V5Client) watch(client *paho.Client) {
	<-client.Done()
	if c.markLost(client) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT connection lost")
		}
	}
}

// markLost flips the session to lost if client is still the live one.
func (c *V5Client) markLost(client *paho.Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client == nil || c.client != client || !c.connected {
		return false
	}
	c.connected = false
	c.state = ReasonConnectionLost
	return true
}

func (c *V5Client) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	if pr.Packet == nil {
		return false, nil
	}
	if !c.inbox.put(pr.Packet.Topic, pr.Packet.Payload) {
		return false, ErrNotConnected
	}
	return true, nil
}

func (c *V5Client) onClientError(client *paho.Client, err error) {
	if !c.markLost(client) {
		return
	}
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT client error", "error", err)
	}
}

func (c *V5Client) onServerDisconnect(client *paho.Client, d *paho.Disconnect) {
	if !c.markLost(client) {
		return
	}
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT server disconnected", "reason_code", d.ReasonCode)
	}
}

// Subscribe subscribes to topic at the configured QoS.
func (c *V5Client) Subscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	qos, err := validateQoS(c.cfg.QoS)
	if err != nil {
		return err
	}

	client, ok := c.connectedClient()
	if !ok {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	suback, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: qos},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if suback != nil {
		for _, code := range suback.Reasons {
			if code >= subackFailure {
				return fmt.Errorf("%w: broker refused %q (reason 0x%02x)", ErrSubscribeFailed, topic, code)
			}
		}
	}

	return nil
}

// Publish sends a message at the configured QoS.
func (c *V5Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	qos, err := checkPublish(topic, payload, c.cfg.QoS)
	if err != nil {
		return err
	}

	client, ok := c.connectedClient()
	if !ok {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retained,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// Receive returns the next inbound message, waiting until ctx is done.
func (c *V5Client) Receive(ctx context.Context) (Message, bool) {
	return c.inbox.receive(ctx)
}

// IsConnected returns the current connection state.
func (c *V5Client) IsConnected() bool {
	_, ok := c.connectedClient()
	return ok
}

// State returns the reason code of the last connection event.
func (c *V5Client) State() ReasonCode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// HealthCheck verifies the MQTT connection is alive.
func (c *V5Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Disconnect sends DISCONNECT (normal disconnection, so no Last Will)
// and releases the inbox.
func (c *V5Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	wasConnected := c.connected
	c.client = nil
	c.connected = false
	c.state = ReasonDisconnected
	c.mu.Unlock()

	if client != nil && wasConnected {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	c.inbox.close()
}

// SetLogger sets a logger for connection-loss logging.
func (c *V5Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *V5Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *V5Client) connectedClient() (*paho.Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, c.connected && c.client != nil
}

func (c *V5Client) setState(connected bool, state ReasonCode) {
	c.mu.Lock()
	c.connected = connected
	c.state = state
	c.mu.Unlock()
}

// reasonFromDialError classifies a failed TCP/TLS dial.
func reasonFromDialError(err error) ReasonCode {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ReasonConnectionTimeout
	}
	return ReasonConnectFailed
}
