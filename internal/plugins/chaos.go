package plugins

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// Chaos event types.
const (
	EventChaosInjected = "chaos.injected"

	// EventChaosRule is emitted to configure a fault on the device.
	EventChaosRule = "chaos.rule"
)

// Fault kinds understood by the device agent.
const (
	FaultLatency = "latency"
	FaultError   = "error"
	FaultDrop    = "drop"
)

// Chaos injects faults into HTTP traffic. It requires the HTTP plugin.
type Chaos struct {
	*feature
}

// NewChaos creates the chaos panel.
func NewChaos() *Chaos {
	return &Chaos{newFeature(plugin.Metadata{
		ID:           IDChaos,
		Name:         "Chaos",
		Version:      Version,
		Description:  "Inject latency, errors and dropped requests",
		Dependencies: []string{IDHTTP},
		Icon:         "zap",
	}, []string{EventChaosInjected}, tallyChaos)}
}

// Inject configures a fault for requests whose URL matches pattern.
func (c *Chaos) Inject(kind, pattern string, latency time.Duration) error {
	switch kind {
	case FaultLatency, FaultError, FaultDrop:
	default:
		return fmt.Errorf("unknown fault kind %q", kind)
	}
	return c.emit(EventChaosRule, map[string]any{
		"kind":      kind,
		"pattern":   pattern,
		"latencyMs": latency.Milliseconds(),
	})
}

func tallyChaos(env event.Envelope, stats map[string]int64) {
	stats["faults"]++
	if kind := gjson.GetBytes(env.Payload, "kind").String(); kind != "" {
		stats[kind]++
	}
}
