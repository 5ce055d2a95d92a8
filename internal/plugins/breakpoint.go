package plugins

import (
	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// Breakpoint event types.
const (
	EventBreakpointHit     = "breakpoint.hit"
	EventBreakpointResumed = "breakpoint.resumed"

	// EventBreakpointResume is emitted to ask the device to continue.
	EventBreakpointResume = "breakpoint.resume"
)

// Breakpoint pauses matching HTTP requests for inspection. It requires the
// HTTP plugin.
type Breakpoint struct {
	*feature
}

// NewBreakpoint creates the breakpoint panel.
func NewBreakpoint() *Breakpoint {
	return &Breakpoint{newFeature(plugin.Metadata{
		ID:           IDBreakpoint,
		Name:         "Breakpoints",
		Version:      Version,
		Description:  "Pause and edit requests in flight",
		Dependencies: []string{IDHTTP},
		Icon:         "pause",
	}, []string{EventBreakpointHit, EventBreakpointResumed}, tallyBreakpoint)}
}

// Resume asks the device to continue a paused request.
func (b *Breakpoint) Resume(requestID string) error {
	return b.emit(EventBreakpointResume, map[string]any{"requestId": requestID})
}

func tallyBreakpoint(env event.Envelope, stats map[string]int64) {
	switch env.EventType {
	case EventBreakpointHit:
		stats["hits"]++
		stats["paused"]++
	case EventBreakpointResumed:
		decr(stats, "paused")
	}
}
