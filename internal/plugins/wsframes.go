package plugins

import (
	"github.com/tidwall/gjson"

	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// EventWSFrame carries one WebSocket frame: {"opcode": "text", "size": 42}.
const EventWSFrame = "ws.frame"

// WSFrames is a sub-panel of WebSocket showing raw frames.
type WSFrames struct {
	*feature
}

// NewWSFrames creates the frame inspector sub-plugin.
func NewWSFrames() *WSFrames {
	return &WSFrames{newFeature(plugin.Metadata{
		ID:             IDWSFrames,
		Name:           "Frames",
		Version:        Version,
		Description:    "Raw WebSocket frame inspector",
		Dependencies:   []string{IDWebSocket},
		IsSubPlugin:    true,
		ParentPluginID: IDWebSocket,
		Icon:           "layers",
	}, []string{EventWSFrame}, tallyFrames)}
}

func tallyFrames(env event.Envelope, stats map[string]int64) {
	stats["frames"]++
	stats["bytes"] += gjson.GetBytes(env.Payload, "size").Int()
	switch gjson.GetBytes(env.Payload, "opcode").String() {
	case "text":
		stats["text"]++
	case "binary":
		stats["binary"]++
	case "ping", "pong":
		stats["control"]++
	}
}
