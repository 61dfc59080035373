// Package config handles loading and validating LightLink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The defaults reproduce the board firmware's fixed constants: broker
// test.mosquitto.org:1883, client id nucleo-f767zi-client, command topic
// gdg/test, a 5 second reconnect backoff, a 200 byte payload limit and the
// static fallback address 192.168.1.55. A deployment with no config file
// behaves exactly like the firmware.
//
// Security Considerations:
//   - Broker credentials and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Topics.Command)
package config
