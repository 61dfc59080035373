package controller

import (
	"encoding/json"
	"fmt"
)

// Command values accepted in the lights_state field.
const (
	CommandOn     = "on"
	CommandOff    = "off"
	CommandToggle = "toggle"
)

// parseCommand decodes payload into a fresh document and returns the
// lights_state string. An absent or non-string field yields "" with a
// nil error: the document parsed, it just carries no usable command.
func parseCommand(payload []byte, capacity int) (string, error) {
	if capacity > 0 && len(payload) > capacity {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), capacity)
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return "", nil
	}
	value, _ := obj["lights_state"].(string)
	return value, nil
}
