package plugins

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// EventLog carries one device log line: {"level": "warn", "message": "..."}.
const EventLog = "log"

// Logs shows the device log stream.
type Logs struct {
	*feature
}

// NewLogs creates the log panel.
func NewLogs() *Logs {
	return &Logs{newFeature(plugin.Metadata{
		ID:          IDLogs,
		Name:        "Logs",
		Version:     Version,
		Description: "Stream device logs",
		Icon:        "list",
	}, []string{EventLog}, tallyLogs)}
}

// tallyLogs counts lines per level. Unknown levels count as info.
func tallyLogs(env event.Envelope, stats map[string]int64) {
	stats["lines"]++
	switch level := strings.ToLower(gjson.GetBytes(env.Payload, "level").String()); level {
	case "debug", "warn", "error":
		stats[level]++
	case "warning":
		stats["warn"]++
	default:
		stats["info"]++
	}
}
