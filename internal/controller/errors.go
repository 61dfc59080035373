package controller

import "errors"

var (
	// ErrPayloadTooLarge is returned by the parser when a payload exceeds
	// the configured document capacity.
	ErrPayloadTooLarge = errors.New("controller: payload exceeds document capacity")

	// ErrMalformedPayload is returned by the parser for invalid JSON.
	ErrMalformedPayload = errors.New("controller: malformed payload")
)
