package plugins

import (
	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// WebSocket event types.
const (
	EventWSOpen    = "ws.open"
	EventWSClose   = "ws.close"
	EventWSMessage = "ws.message"
)

// WebSocket shows WebSocket sessions opened by the device.
type WebSocket struct {
	*feature
}

// NewWebSocket creates the WebSocket sessions panel.
func NewWebSocket() *WebSocket {
	return &WebSocket{newFeature(plugin.Metadata{
		ID:          IDWebSocket,
		Name:        "WebSocket",
		Version:     Version,
		Description: "Track WebSocket connections and messages",
		Icon:        "plug",
	}, []string{EventWSOpen, EventWSClose, EventWSMessage}, tallyWebSocket)}
}

func tallyWebSocket(env event.Envelope, stats map[string]int64) {
	switch env.EventType {
	case EventWSOpen:
		stats["sessions"]++
		stats["open"]++
	case EventWSClose:
		decr(stats, "open")
	case EventWSMessage:
		stats["messages"]++
	}
}
