package event

import "errors"

// Sentinel errors for the event bus.
var (
	// ErrInvalidEvent is returned when an envelope is malformed or missing required fields.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrHandlerPanic is logged when a handler panics during delivery.
	ErrHandlerPanic = errors.New("handler panicked")
)
