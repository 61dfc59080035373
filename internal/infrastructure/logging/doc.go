// Package logging provides structured logging for LightLink.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output (logfmt-style key=value)
//   - Console output: one coloured line per record, the daemon's
//     equivalent of a serial console
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text, console
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected to broker", "host", cfg.MQTT.Broker.Host)
//
// Never log broker passwords or InfluxDB tokens.
package logging
