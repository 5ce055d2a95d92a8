package plugins

import (
	"github.com/tidwall/gjson"

	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// HTTP event types.
const (
	EventHTTPRequest  = "http.request"
	EventHTTPResponse = "http.response"
	EventHTTPError    = "http.error"
)

// HTTP shows intercepted HTTP traffic.
type HTTP struct {
	*feature
}

// NewHTTP creates the HTTP traffic panel.
func NewHTTP() *HTTP {
	return &HTTP{newFeature(plugin.Metadata{
		ID:          IDHTTP,
		Name:        "HTTP",
		Version:     Version,
		Description: "Inspect HTTP requests and responses",
		Icon:        "globe",
	}, []string{EventHTTPRequest, EventHTTPResponse, EventHTTPError}, tallyHTTP)}
}

// tallyHTTP counts requests and tracks in-flight requests. Responses with a
// status of 400 or more count as failures.
func tallyHTTP(env event.Envelope, stats map[string]int64) {
	switch env.EventType {
	case EventHTTPRequest:
		stats["requests"]++
		stats["pending"]++
	case EventHTTPResponse:
		stats["responses"]++
		decr(stats, "pending")
		if gjson.GetBytes(env.Payload, "status").Int() >= 400 {
			stats["failures"]++
		}
		if ms := gjson.GetBytes(env.Payload, "durationMs").Int(); ms > stats["slowest_ms"] {
			stats["slowest_ms"] = ms
		}
	case EventHTTPError:
		stats["errors"]++
		decr(stats, "pending")
	}
}
