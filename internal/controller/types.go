package controller

import (
	"context"
	"time"

	"github.com/nerrad567/lightlink/internal/actuator"
	"github.com/nerrad567/lightlink/internal/infrastructure/mqtt"
)

// Transport is the broker session used by the loop. Both mqtt.Client and
// mqtt.V5Client satisfy it.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	IsConnected() bool
	Receive(ctx context.Context) (mqtt.Message, bool)
	State() mqtt.ReasonCode
	Disconnect()
}

// Logger defines the logging interface for the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives every dispatch outcome and session change.
// Calls are made synchronously from the loop goroutine, so
// implementations must return promptly.
type Observer interface {
	OnDispatch(o Outcome)
	OnSession(e SessionEvent)
}

// Result classifies one dispatch.
type Result string

// Dispatch results.
const (
	ResultApplied        Result = "applied"
	ResultParseError     Result = "parse_error"
	ResultUnknownCommand Result = "unknown_command"
	ResultActuatorError  Result = "actuator_error"
)

// Outcome describes one dispatched message.
type Outcome struct {
	Topic   string
	Payload []byte
	Command string
	Result  Result
	Before  actuator.State
	After   actuator.State
	At      time.Time
}

// Changed reports whether the actuator state moved.
func (o Outcome) Changed() bool {
	return o.Before != o.After
}

// SessionEventType names a session transition.
type SessionEventType string

// Session transitions.
const (
	SessionConnected       SessionEventType = "connected"
	SessionDisconnected    SessionEventType = "disconnected"
	SessionConnectFailed   SessionEventType = "connect_failed"
	SessionSubscribeFailed SessionEventType = "subscribe_failed"
)

// SessionEvent describes a connection-level change.
type SessionEvent struct {
	Type       SessionEventType
	Attempt    int
	ReasonCode mqtt.ReasonCode
	At         time.Time
}

// Snapshot is a point-in-time copy of the loop's state.
type Snapshot struct {
	Connected      bool           `json:"connected"`
	Lights         actuator.State `json:"lights_state"`
	ReasonCode     int            `json:"reason_code"`
	Reason         string         `json:"reason"`
	ConnectedSince *time.Time     `json:"connected_since,omitempty"`
	LastCommand    string         `json:"last_command,omitempty"`
	LastResult     Result         `json:"last_result,omitempty"`
	LastMessageAt  *time.Time     `json:"last_message_at,omitempty"`
	Counters       Counters       `json:"counters"`
}

// Counters accumulate over the process lifetime.
type Counters struct {
	Received        uint64 `json:"received"`
	Applied         uint64 `json:"applied"`
	ParseErrors     uint64 `json:"parse_errors"`
	UnknownCommands uint64 `json:"unknown_commands"`
	ActuatorErrors  uint64 `json:"actuator_errors"`
	ConnectAttempts uint64 `json:"connect_attempts"`
	Connects        uint64 `json:"connects"`
	Disconnects     uint64 `json:"disconnects"`
}
