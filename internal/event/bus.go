package event

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/event/topic"
)

// Handler receives envelopes published on the bus.
type Handler func(env Envelope)

// subscriber pairs a handler with the subscription that registered it.
type subscriber struct {
	id      string
	seq     uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe bus keyed by event type.
// It is safe for concurrent use.
type Bus struct {
	mu sync.RWMutex

	// Handlers by event type or pattern, in subscription order
	subs map[string][]subscriber

	// Wildcard keys of subs
	patterns *topic.Matcher
	seq      uint64

	logger *zap.Logger

	// Stats
	published atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *zap.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:     make(map[string][]subscriber),
		patterns: topic.NewMatcher(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for every listed event type and returns a
// function that removes it from all of them. Duplicate types in the list are
// collapsed. A type containing a "*" or "**" segment is a pattern and
// receives every matching event type. A nil handler or an empty type list
// yields a no-op unsubscribe.
func (b *Bus) Subscribe(types []string, handler Handler) func() {
	if handler == nil || len(types) == 0 {
		return func() {}
	}

	id := uuid.NewString()
	registered := make([]string, 0, len(types))

	b.mu.Lock()
	b.seq++
	sub := subscriber{id: id, seq: b.seq, handler: handler}
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if pattern := topic.Topic(t); pattern.IsWildcard() {
			b.patterns.Add(pattern)
		}
		b.subs[t] = append(b.subs[t], sub)
		registered = append(registered, t)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(id, registered)
		})
	}
}

// Publish delivers env to every handler subscribed to env.EventType or to a
// pattern matching it, in subscription order. A handler subscribed through
// several matching entries runs once. Each handler is isolated: a panic is
// recovered and logged, and the remaining handlers still run.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	subs := slices.Clone(b.subs[env.EventType])
	matched := b.patterns.Match(topic.Topic(env.EventType))
	for _, pattern := range matched {
		if string(pattern) != env.EventType {
			subs = append(subs, b.subs[string(pattern)]...)
		}
	}
	b.mu.RUnlock()

	if len(matched) > 0 {
		slices.SortStableFunc(subs, func(a, c subscriber) int { return cmp.Compare(a.seq, c.seq) })
		subs = slices.CompactFunc(subs, func(a, c subscriber) bool { return a.id == c.id })
	}

	b.published.Add(1)

	for _, sub := range subs {
		if b.deliver(sub, env) {
			b.delivered.Add(1)
		}
	}
}

// Count returns the number of handlers subscribed to eventType. Patterns are
// counted by their literal text.
func (b *Bus) Count(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Types returns the event types that currently have subscribers.
func (b *Bus) Types() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make([]string, 0, len(b.subs))
	for t := range b.subs {
		types = append(types, t)
	}
	return types
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscriber)
	b.patterns.Clear()
}

// Stats reports delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Panics:    b.panics.Load(),
	}
}

// Stats holds bus counters.
type Stats struct {
	Published uint64
	Delivered uint64
	Panics    uint64
}

// deliver runs a single handler with panic recovery.
// Returns false if the handler panicked.
func (b *Bus) deliver(sub subscriber, env Envelope) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			b.panics.Add(1)
			b.logger.Error("event handler failed",
				zap.String("subscription", sub.id),
				zap.String("eventType", env.EventType),
				zap.Error(fmt.Errorf("%w: %v", ErrHandlerPanic, r)),
			)
		}
	}()
	sub.handler(env)
	return true
}

// remove drops subscription id from the given types.
func (b *Bus) remove(id string, types []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range types {
		list := b.subs[t]
		for i, sub := range list {
			if sub.id == id {
				// Copy so in-flight Publish snapshots are not disturbed
				next := make([]subscriber, 0, len(list)-1)
				next = append(next, list[:i]...)
				next = append(next, list[i+1:]...)
				list = next
				break
			}
		}
		if len(list) == 0 {
			delete(b.subs, t)
			b.patterns.Remove(topic.Topic(t))
		} else {
			b.subs[t] = list
		}
	}
}
