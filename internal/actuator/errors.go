package actuator

import "errors"

var (
	// ErrInvalidState is returned when a state string is neither "on" nor "off".
	ErrInvalidState = errors.New("actuator: invalid state")

	// ErrUnknownDriver is returned when the configured driver is not recognised.
	ErrUnknownDriver = errors.New("actuator: unknown driver")

	// ErrDriveFailed is returned when the output could not be set.
	ErrDriveFailed = errors.New("actuator: drive failed")
)
