package mqtt

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lightlink/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang (MQTT 3.1.1) for the LightLink control loop.
//
// The library's own reconnect logic is disabled: every Connect call is one
// attempt, and the caller decides when to retry. Received messages are
// queued in order and handed out by Receive.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	dialer *net.Dialer
	inbox  *inbox

	// connected tracks current connection state.
	connected bool
	state     ReasonCode
	connMu    sync.RWMutex

	// logger for connection-loss logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// New creates a disconnected MQTT 3.1.1 client.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - dialer: optional dialer (nil uses the library default); set its
//     LocalAddr to bind the connection to a specific interface address
func New(cfg config.MQTTConfig, dialer *net.Dialer) *Client {
	return &Client{
		cfg:    cfg,
		topics: NewTopics(cfg),
		dialer: dialer,
		inbox:  newInbox(cfg.InboxSize),
		state:  ReasonDisconnected,
	}
}

// Connect makes one connection attempt to the broker.
//
// A fresh paho client is built for each attempt so that nothing from a
// lost session leaks into the next one. The Last Will is registered on
// the status topic. On failure State() reports why.
func (c *Client) Connect(ctx context.Context) error {
	opts := buildClientOptions(c.cfg, c.dialer)
	configureLWT(opts, c.topics, c.cfg.Broker.ClientID)
	opts.SetDefaultPublishHandler(c.onMessage)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()

	err := waitToken(ctx, token, connectTimeout(c.cfg))
	var returnCode byte
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		returnCode = ct.ReturnCode()
	}
	if err != nil {
		client.Disconnect(0)
		c.setState(false, reasonFromConnack(returnCode, err))
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.client = client
	c.connected = true
	c.state = ReasonConnected
	c.connMu.Unlock()

	return nil
}

// handleConnectionLost is called by paho when the connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.setState(false, ReasonConnectionLost)

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
}

// onMessage queues an inbound publish for the control loop.
func (c *Client) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	if !c.inbox.put(msg.Topic(), msg.Payload()) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT message discarded after disconnect", "topic", msg.Topic())
		}
	}
}

// Receive returns the next inbound message, waiting until ctx is done.
// The boolean is false when no message arrived.
func (c *Client) Receive(ctx context.Context) (Message, bool) {
	return c.inbox.receive(ctx)
}

// Disconnect gracefully closes the session and releases the inbox.
// The Last Will is not published. Safe to call on a client that never connected.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	client := c.client
	c.connected = false
	c.state = ReasonDisconnected
	c.connMu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(defaultDisconnectQuiesce)
	}
	c.inbox.close()
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnectionOpen()
}

// State returns the reason code of the last connection event.
func (c *Client) State() ReasonCode {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// SetLogger sets a logger for connection-loss logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) setState(connected bool, state ReasonCode) {
	c.connMu.Lock()
	c.connected = connected
	c.state = state
	c.connMu.Unlock()
}

func (c *Client) pahoClient() pahomqtt.Client {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.client
}

// waitToken waits for a paho token, the timeout, or ctx, whichever comes first.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
