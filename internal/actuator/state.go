package actuator

import (
	"fmt"
	"strings"
)

// State is the binary output level.
type State bool

// Output levels.
const (
	Off State = false
	On  State = true
)

// String returns "on" or "off".
func (s State) String() string {
	if s {
		return "on"
	}
	return "off"
}

// Toggle returns the opposite state.
func (s State) Toggle() State {
	return !s
}

// ParseState parses "on" or "off" (case-insensitive).
func ParseState(v string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on":
		return On, nil
	case "off":
		return Off, nil
	default:
		return Off, fmt.Errorf("%w: %q", ErrInvalidState, v)
	}
}

// MarshalText implements encoding.TextMarshaler so State encodes as "on"/"off".
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
