// Package plugins contains the built-in dashboard panels.
//
// Every built-in subscribes to its event types during Initialize, keeps
// counters and a bounded list of recent events, and renders a Panel. Events
// addressed to a built-in by ID are control messages; "reset" clears its
// counters.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// RecentLimit bounds the number of recent events a panel keeps.
const RecentLimit = 50

// EventReset is the control event that clears a panel.
const EventReset = "reset"

// Panel is the render output of every built-in plugin.
type Panel struct {
	PluginID string           `json:"pluginId"`
	Title    string           `json:"title"`
	DeviceID string           `json:"deviceId,omitempty"`
	Active   bool             `json:"active"`
	Stats    map[string]int64 `json:"stats"`
	Recent   []event.Envelope `json:"recent"`
}

// tallyFunc updates stats for one received event.
type tallyFunc func(env event.Envelope, stats map[string]int64)

// feature implements the shared behavior of built-in plugins.
type feature struct {
	*plugin.Base

	types []string
	tally tallyFunc

	mu          sync.Mutex
	stats       map[string]int64
	recent      []event.Envelope
	pctx        *plugin.Context
	logger      *zap.Logger
	unsubscribe func()
	destroyed   bool
}

func newFeature(meta plugin.Metadata, types []string, tally tallyFunc) *feature {
	return &feature{
		Base:   plugin.NewBase(meta),
		types:  types,
		tally:  tally,
		stats:  make(map[string]int64),
		logger: zap.NewNop(),
	}
}

// Initialize subscribes to the feature's event types.
func (f *feature) Initialize(ctx context.Context, pctx *plugin.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pctx == nil {
		return fmt.Errorf("%s: nil context", f.Metadata().ID)
	}

	unsubscribe := pctx.SubscribeToEvents(f.types, f.record)

	f.mu.Lock()
	if f.destroyed {
		f.mu.Unlock()
		unsubscribe()
		return fmt.Errorf("%s: %w", f.Metadata().ID, ErrDestroyed)
	}
	f.pctx = pctx
	f.logger = pctx.PluginLogger(f.Metadata().ID)
	f.unsubscribe = unsubscribe
	f.mu.Unlock()

	f.logger.Debug("subscribed", zap.Strings("events", f.types))
	return nil
}

// OnEvent handles control events addressed to the plugin.
func (f *feature) OnEvent(env event.Envelope) {
	if env.EventType == EventReset {
		f.reset()
	}
}

// Render returns a Panel snapshot.
func (f *feature) Render(props plugin.RenderProps) plugin.RenderNode {
	meta := f.Metadata()

	f.mu.Lock()
	defer f.mu.Unlock()

	stats := make(map[string]int64, len(f.stats))
	for k, v := range f.stats {
		stats[k] = v
	}
	recent := make([]event.Envelope, len(f.recent))
	copy(recent, f.recent)

	return Panel{
		PluginID: meta.ID,
		Title:    meta.Label(),
		DeviceID: props.DeviceID,
		Active:   props.Active,
		Stats:    stats,
		Recent:   recent,
	}
}

// Destroy unsubscribes and drops collected data.
func (f *feature) Destroy() {
	f.mu.Lock()
	f.destroyed = true
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.pctx = nil
	f.stats = make(map[string]int64)
	f.recent = nil
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Stat returns one counter.
func (f *feature) Stat(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[name]
}

func (f *feature) record(env event.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tally != nil {
		f.tally(env, f.stats)
	}
	f.recent = append(f.recent, env)
	if over := len(f.recent) - RecentLimit; over > 0 {
		f.recent = append(f.recent[:0:0], f.recent[over:]...)
	}
}

func (f *feature) reset() {
	f.mu.Lock()
	f.stats = make(map[string]int64)
	f.recent = nil
	logger := f.logger
	f.mu.Unlock()

	logger.Debug("panel reset")
}

// emit dispatches an event from this plugin with a JSON object payload
// built from fields.
func (f *feature) emit(eventType string, fields map[string]any) error {
	f.mu.Lock()
	pctx := f.pctx
	f.mu.Unlock()
	if pctx == nil {
		return fmt.Errorf("%s: %w", f.Metadata().ID, ErrNotInitialized)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := []byte(`{}`)
	for _, k := range keys {
		var err error
		payload, err = sjson.SetBytes(payload, k, fields[k])
		if err != nil {
			return fmt.Errorf("build %s payload: %w", eventType, err)
		}
	}

	pctx.Dispatch(event.Envelope{
		PluginID:  f.Metadata().ID,
		EventType: eventType,
		Payload:   payload,
	})
	return nil
}

// decr decrements a gauge without going below zero.
func decr(stats map[string]int64, key string) {
	if stats[key] > 0 {
		stats[key]--
	}
}
