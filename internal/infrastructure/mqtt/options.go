package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lightlink/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a connect attempt when the config leaves it unset.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive matches the firmware's MQTT keep-alive.
	defaultKeepAlive = 15 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Status values published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// buildClientOptions creates paho MQTT options from LightLink config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - No library-driven reconnect: the control loop owns reconnection
//   - TLS configuration (if enabled)
//   - Clean session mode
//   - Optional dialer, used to bind the local address
func buildClientOptions(cfg config.MQTTConfig, dialer *net.Dialer) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(connectTimeout(cfg))
	opts.SetKeepAlive(keepAlive(cfg))

	if dialer != nil {
		opts.SetDialer(dialer)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: cfg.Broker.Host,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes this retained message on the status topic if the
// controller drops off without a graceful disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetWill(topics.Status(), string(buildWillPayload(clientID)), 1, true)
}

// statusPayload is the JSON document published on the status topic.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func marshalStatus(status, clientID, reason string) []byte {
	data, err := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Only string fields: cannot fail.
		return []byte(fmt.Sprintf(`{"status":%q}`, status))
	}
	return data
}

// BuildOnlinePayload creates the JSON payload for online status messages.
func BuildOnlinePayload(clientID string) []byte {
	return marshalStatus(StatusOnline, clientID, "")
}

// BuildOfflinePayload creates the JSON payload for graceful offline status.
func BuildOfflinePayload(clientID string) []byte {
	return marshalStatus(StatusOffline, clientID, "graceful_shutdown")
}

// buildWillPayload creates the Last Will payload.
func buildWillPayload(clientID string) []byte {
	return marshalStatus(StatusOffline, clientID, "unexpected_disconnect")
}

// brokerURL returns the paho broker URL for the configured host.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, brokerAddress(cfg))
}

// brokerAddress returns host:port for dialling the broker directly.
func brokerAddress(cfg config.MQTTConfig) string {
	return net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port))
}

func connectTimeout(cfg config.MQTTConfig) time.Duration {
	if cfg.Reconnect.ConnectTimeout > 0 {
		return cfg.Reconnect.ConnectTimeout
	}
	return defaultConnectTimeout
}

func keepAlive(cfg config.MQTTConfig) time.Duration {
	if cfg.KeepAlive > 0 {
		return cfg.KeepAlive
	}
	return defaultKeepAlive
}

// validateQoS returns the configured QoS as a byte.
func validateQoS(qos int) (byte, error) {
	if qos < 0 || qos > maxQoS {
		return 0, ErrInvalidQoS
	}
	return byte(qos), nil
}
