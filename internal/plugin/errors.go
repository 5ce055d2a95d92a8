package plugin

import "errors"

// Plugin runtime errors.
var (
	// ErrAlreadyRegistered is returned when a plugin ID is registered twice.
	ErrAlreadyRegistered = errors.New("plugin is already registered")

	// ErrPluginNotFound is returned when a plugin ID is not registered.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrInvalidPlugin is returned when a plugin is nil or has no ID.
	ErrInvalidPlugin = errors.New("invalid plugin")

	// ErrInitTimeout is recorded when Initialize does not return in time.
	ErrInitTimeout = errors.New("plugin initialization timed out")

	// ErrInitPanic is recorded when Initialize panics.
	ErrInitPanic = errors.New("plugin initialization panicked")

	// ErrNotEnabled is returned when an operation requires an enabled plugin.
	ErrNotEnabled = errors.New("plugin is not enabled")
)
