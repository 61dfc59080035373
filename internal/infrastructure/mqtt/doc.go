// Package mqtt provides the broker transport for LightLink.
//
// Two clients implement the same contract:
//
//   - Client speaks MQTT 3.1.1 through github.com/eclipse/paho.mqtt.golang
//   - V5Client speaks MQTT 5 through github.com/eclipse/paho.golang/paho
//
// mqtt.protocol in config.yaml selects between them.
//
// # Reconnection
//
// Neither client reconnects on its own. Connect makes exactly one attempt
// and records a ReasonCode (State) describing the outcome; the control
// loop owns the retry policy. After every successful Connect the caller
// subscribes again because sessions are always clean.
//
// # Delivery
//
// Inbound publishes are copied into a bounded, ordered inbox and drained
// with Receive on the control loop's goroutine. When the inbox is full
// the library's delivery goroutine blocks; messages are never dropped
// while the client is open.
//
// # Last Will
//
// Both clients register a retained Last Will on the status topic so the
// broker announces "offline" when the controller drops off unexpectedly.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, nil)
//	if err := client.Connect(ctx); err != nil {
//	    log.Printf("connect failed, rc=%d", client.State())
//	}
//	_ = client.Subscribe(ctx, cfg.MQTT.Topics.Command)
//	msg, ok := client.Receive(ctx)
package mqtt
