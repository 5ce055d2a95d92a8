package app

import "errors"

// Application errors.
var (
	// ErrAlreadyRunning indicates Run was called while the application runs.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrClosed indicates the application was closed.
	ErrClosed = errors.New("application closed")
)

// InitError represents an initialization error.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
