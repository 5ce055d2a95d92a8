package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateUninitialized - Plugin is registered but Initialize has not run.
	StateUninitialized State = iota

	// StateLoading - Initialize is running.
	StateLoading

	// StateReady - Initialize returned successfully.
	StateReady

	// StateFailed - Initialize failed, panicked or timed out.
	StateFailed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateReady || s == StateFailed
}

// CanTransition reports whether a plugin in state s may move to next.
// Transitions only move forward and terminal states are final.
func (s State) CanTransition(next State) bool {
	if s.IsTerminal() {
		return false
	}
	return next > s && next <= StateFailed
}
