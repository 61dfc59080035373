package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for LightLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Network   NetworkConfig   `yaml:"network"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Database  DatabaseConfig  `yaml:"database"`
	Journal   JournalConfig   `yaml:"journal"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies this controller in telemetry and status messages.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// NetworkConfig controls network bring-up before the broker is dialled.
type NetworkConfig struct {
	// Interface is the network interface to inspect for a DHCP lease.
	// Empty selects the first interface that is up and not a loopback.
	Interface string `yaml:"interface"`

	// DHCP enables waiting for a DHCP-assigned address before falling back.
	DHCP bool `yaml:"dhcp"`

	// DHCPTimeout bounds the wait for a DHCP lease.
	DHCPTimeout time.Duration `yaml:"dhcp_timeout"`

	// StaticAddress is used when no DHCP lease is found.
	StaticAddress string `yaml:"static_address"`

	// BindLocal makes the broker dialer use the resolved address as its
	// local address. Only enable it when the host actually owns the address.
	BindLocal bool `yaml:"bind_local"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// Protocol selects the wire protocol: "3.1.1" or "5".
	Protocol string `yaml:"protocol"`

	// KeepAlive is the MQTT keep-alive interval.
	KeepAlive time.Duration `yaml:"keep_alive"`

	// MaxPayload is the largest inbound payload (bytes) the dispatcher will parse.
	MaxPayload int `yaml:"max_payload"`

	// InboxSize is the number of received messages buffered between the
	// client library and the control loop.
	InboxSize int `yaml:"inbox_size"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTopicsConfig names the topics the controller uses.
type MQTTTopicsConfig struct {
	// Command is the single subscription carrying lights_state documents.
	Command string `yaml:"command"`

	// State receives the retained actuator state after every change.
	// Empty derives "<command>/state".
	State string `yaml:"state"`

	// Status receives the retained online/offline status and the Last Will.
	// Empty derives "<command>/status".
	Status string `yaml:"status"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	// Backoff is the fixed delay between failed connection attempts.
	Backoff time.Duration `yaml:"backoff"`

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ActuatorConfig selects and configures the output driver.
type ActuatorConfig struct {
	// Driver is "log" (emulated LED) or "gpio" (sysfs value file).
	Driver string `yaml:"driver"`

	// InitialState is driven once at startup: "on" or "off".
	InitialState string `yaml:"initial_state"`

	GPIO GPIOConfig `yaml:"gpio"`
}

// GPIOConfig configures the sysfs GPIO driver.
type GPIOConfig struct {
	// ValuePath is the file written with "1" or "0",
	// e.g. /sys/class/gpio/gpio18/value.
	ValuePath string `yaml:"value_path"`

	// ActiveLow inverts the written level.
	ActiveLow bool `yaml:"active_low"`
}

// DatabaseConfig contains SQLite database settings for the command journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// JournalConfig bounds the size of the command journal.
type JournalConfig struct {
	// Retention is how long entries are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`

	// PruneInterval is how often expired entries are deleted.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains diagnostics HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig lists origins allowed to read the diagnostics API from a
// browser. An empty list allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket state stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Protocol identifiers accepted by mqtt.protocol.
const (
	ProtocolV311 = "3.1.1"
	ProtocolV5   = "5"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LIGHTLINK_SECTION_KEY
// For example: LIGHTLINK_MQTT_HOST, LIGHTLINK_DATABASE_PATH
//
// When allowMissing is true a non-existent file is not an error and the
// defaults (plus env overrides) are used as-is.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case allowMissing && errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config matching the board firmware's fixed constants.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:   "nucleo-f767zi",
			Name: "Nucleo LED",
		},
		Network: NetworkConfig{
			DHCP:          true,
			DHCPTimeout:   10 * time.Second,
			StaticAddress: "192.168.1.55",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "test.mosquitto.org",
				Port:     1883,
				ClientID: "nucleo-f767zi-client",
			},
			Topics: MQTTTopicsConfig{
				Command: "gdg/test",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				Backoff:        5 * time.Second,
				ConnectTimeout: 10 * time.Second,
			},
			Protocol:   ProtocolV311,
			KeepAlive:  15 * time.Second,
			MaxPayload: 200,
			InboxSize:  16,
		},
		Actuator: ActuatorConfig{
			Driver:       "log",
			InitialState: "off",
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/lightlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Journal: JournalConfig{
			Retention:     7 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LIGHTLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("LIGHTLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("LIGHTLINK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topics.Command = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("LIGHTLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("LIGHTLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("LIGHTLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent field checks
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	// Network validation
	if c.Network.StaticAddress != "" && !isIPv4(c.Network.StaticAddress) {
		errs = append(errs, "network.static_address must be an IPv4 address")
	}
	if c.Network.DHCP && c.Network.DHCPTimeout <= 0 {
		errs = append(errs, "network.dhcp_timeout must be positive when dhcp is enabled")
	}
	if !c.Network.DHCP && c.Network.StaticAddress == "" {
		errs = append(errs, "network.static_address is required when dhcp is disabled")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.Topics.Command == "" {
		errs = append(errs, "mqtt.topics.command is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Protocol != ProtocolV311 && c.MQTT.Protocol != ProtocolV5 {
		errs = append(errs, `mqtt.protocol must be "3.1.1" or "5"`)
	}
	if c.MQTT.Reconnect.Backoff <= 0 {
		errs = append(errs, "mqtt.reconnect.backoff must be positive")
	}
	if c.MQTT.Reconnect.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.reconnect.connect_timeout must be positive")
	}
	if c.MQTT.MaxPayload <= 0 {
		errs = append(errs, "mqtt.max_payload must be positive")
	}
	if c.MQTT.InboxSize <= 0 {
		errs = append(errs, "mqtt.inbox_size must be positive")
	}

	// Actuator validation
	switch c.Actuator.Driver {
	case "log":
	case "gpio":
		if c.Actuator.GPIO.ValuePath == "" {
			errs = append(errs, "actuator.gpio.value_path is required for the gpio driver")
		}
	default:
		errs = append(errs, `actuator.driver must be "log" or "gpio"`)
	}
	if c.Actuator.InitialState != "on" && c.Actuator.InitialState != "off" {
		errs = append(errs, `actuator.initial_state must be "on" or "off"`)
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.Journal.Retention < 0 {
		errs = append(errs, "journal.retention must not be negative")
	}
	if c.Journal.Retention > 0 && c.Journal.PruneInterval <= 0 {
		errs = append(errs, "journal.prune_interval must be positive when retention is set")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// StateTopic returns the configured state topic, deriving it from the
// command topic when unset.
func (c MQTTConfig) StateTopic() string {
	if c.Topics.State != "" {
		return c.Topics.State
	}
	return c.Topics.Command + "/state"
}

// StatusTopic returns the configured status topic, deriving it from the
// command topic when unset.
func (c MQTTConfig) StatusTopic() string {
	if c.Topics.Status != "" {
		return c.Topics.Status
	}
	return c.Topics.Command + "/status"
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// isIPv4 reports whether s parses as a dotted-quad IPv4 address.
func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && strings.Count(s, ".") == 3
}
