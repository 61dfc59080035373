package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLightState = "light_state"
	MeasurementSession    = "session"
)

// LightSample is one dispatch as seen by telemetry.
type LightSample struct {
	Command string
	Result  string
	On      bool
	At      time.Time
}

// SessionSample is one broker session transition.
type SessionSample struct {
	Event      string
	Attempt    int
	ReasonCode int
	At         time.Time
}

// WriteLightState records the actuator state after a dispatch.
//
// Example:
//
//	client.WriteLightState("nucleo-f767zi", influxdb.LightSample{Command: "on", Result: "applied", On: true})
func (c *Client) WriteLightState(deviceID string, s LightSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(lightStatePoint(deviceID, s))
}

// WriteSession records a session transition.
func (c *Client) WriteSession(deviceID string, s SessionSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sessionPoint(deviceID, s))
}

func lightStatePoint(deviceID string, s LightSample) *write.Point {
	value := 0
	if s.On {
		value = 1
	}
	fields := map[string]interface{}{
		"on":    s.On,
		"value": value,
	}
	tag := commandTag(s.Command)
	if tag == "other" {
		fields["raw_command"] = s.Command
	}
	return write.NewPoint(
		MeasurementLightState,
		map[string]string{
			"device_id": deviceID,
			"command":   tag,
			"result":    s.Result,
		},
		fields,
		timestamp(s.At),
	)
}

// commandTag maps a command onto a closed tag set so unrecognised
// payloads cannot grow series cardinality.
func commandTag(command string) string {
	switch command {
	case "on", "off", "toggle":
		return command
	case "":
		return "none"
	default:
		return "other"
	}
}

func sessionPoint(deviceID string, s SessionSample) *write.Point {
	return write.NewPoint(
		MeasurementSession,
		map[string]string{
			"device_id": deviceID,
			"event":     s.Event,
		},
		map[string]interface{}{
			"attempt":     s.Attempt,
			"reason_code": s.ReasonCode,
		},
		timestamp(s.At),
	)
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
