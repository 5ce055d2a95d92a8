package plugins

import (
	"github.com/tidwall/gjson"

	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// EventPerfSample carries one sample: {"fps": 58, "memoryMb": 212, "cpu": 31}.
const EventPerfSample = "perf.sample"

// Performance shows frame rate, memory and CPU samples.
type Performance struct {
	*feature
}

// NewPerformance creates the performance panel.
func NewPerformance() *Performance {
	return &Performance{newFeature(plugin.Metadata{
		ID:          IDPerformance,
		Name:        "Performance",
		Version:     Version,
		Description: "Frame rate, memory and CPU samples",
		Icon:        "activity",
	}, []string{EventPerfSample}, tallyPerformance)}
}

// tallyPerformance keeps the latest value of each gauge and the peak memory.
func tallyPerformance(env event.Envelope, stats map[string]int64) {
	stats["samples"]++
	sample := gjson.ParseBytes(env.Payload)
	if v := sample.Get("fps"); v.Exists() {
		stats["fps"] = v.Int()
	}
	if v := sample.Get("cpu"); v.Exists() {
		stats["cpu"] = v.Int()
	}
	if v := sample.Get("memoryMb"); v.Exists() {
		stats["memory_mb"] = v.Int()
		if v.Int() > stats["peak_memory_mb"] {
			stats["peak_memory_mb"] = v.Int()
		}
	}
}
