package plugins

import (
	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// Mock event types.
const (
	EventMockRuleAdded   = "mock.rule.added"
	EventMockRuleRemoved = "mock.rule.removed"
	EventMockHit         = "mock.hit"
)

// EventMockRuleAdd asks the device server to install a mock rule.
const EventMockRuleAdd = "mock.rule.add"

// Mock manages mocked HTTP responses. It requires the HTTP plugin.
type Mock struct {
	*feature
}

// NewMock creates the mock rules panel.
func NewMock() *Mock {
	return &Mock{newFeature(plugin.Metadata{
		ID:           IDMock,
		Name:         "Mock",
		Version:      Version,
		Description:  "Serve mocked responses for matching requests",
		Dependencies: []string{IDHTTP},
		Icon:         "theater",
	}, []string{EventMockRuleAdded, EventMockRuleRemoved, EventMockHit}, tallyMock)}
}

// AddRule asks the device to mock method+path with the given status.
func (m *Mock) AddRule(method, path string, status int) error {
	return m.emit(EventMockRuleAdd, map[string]any{
		"method": method,
		"path":   path,
		"status": status,
	})
}

func tallyMock(env event.Envelope, stats map[string]int64) {
	switch env.EventType {
	case EventMockRuleAdded:
		stats["rules"]++
	case EventMockRuleRemoved:
		decr(stats, "rules")
	case EventMockHit:
		stats["hits"]++
	}
}
