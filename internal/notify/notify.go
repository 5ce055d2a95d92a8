// Package notify provides change notification for plugin registry updates.
//
// UI surfaces such as tab bars and badges subscribe to a Notifier and
// re-render when plugins are registered, toggled or change lifecycle state.
package notify

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ChangeType represents the type of registry change.
type ChangeType int

const (
	// ChangeRegistered indicates a plugin was registered.
	ChangeRegistered ChangeType = iota

	// ChangeUnregistered indicates a plugin was removed.
	ChangeUnregistered

	// ChangeEnabled indicates a plugin's enabled flag was toggled.
	ChangeEnabled

	// ChangeState indicates a plugin's lifecycle state advanced.
	ChangeState

	// ChangeActive indicates the active (focused) plugin changed.
	ChangeActive

	// ChangeReload indicates the enabled-state map was reloaded from storage.
	ChangeReload

	// ChangeReset indicates the registry was torn down.
	ChangeReset
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeRegistered:
		return "registered"
	case ChangeUnregistered:
		return "unregistered"
	case ChangeEnabled:
		return "enabled"
	case ChangeState:
		return "state"
	case ChangeActive:
		return "active"
	case ChangeReload:
		return "reload"
	case ChangeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Change represents a registry change event.
type Change struct {
	// PluginID is the affected plugin. Empty for reload and reset events.
	PluginID string

	// Type is the type of change.
	Type ChangeType

	// Enabled is the new enabled flag for ChangeEnabled.
	Enabled bool

	// Detail carries a short human-readable description (e.g. the new state).
	Detail string
}

// Observer is called when registry changes occur.
type Observer func(change Change)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

// Notifier manages change subscriptions.
type Notifier struct {
	mu sync.RWMutex

	// Observers that receive all changes
	globalObservers map[uint64]Observer

	// Observers scoped to one plugin ID
	pluginObservers map[string]map[uint64]Observer

	nextID uint64

	logger *zap.Logger

	// Async delivery
	async  bool
	buffer chan Change
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync enables asynchronous notification delivery.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.async = true
			n.buffer = make(chan Change, bufferSize)
		}
	}
}

// WithLogger sets the logger used to report observer panics.
func WithLogger(l *zap.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a new Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		globalObservers: make(map[uint64]Observer),
		pluginObservers: make(map[string]map[uint64]Observer),
		logger:          zap.NewNop(),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(n)
	}

	if n.async {
		n.wg.Add(1)
		go n.processAsync()
	}

	return n
}

// Subscribe registers an observer for all changes.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.globalObservers[id] = observer

	return &Subscription{id: id, notifier: n}
}

// SubscribePlugin registers an observer for changes to one plugin.
// Reload and reset events are delivered to plugin observers too.
func (n *Notifier) SubscribePlugin(pluginID string, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	if n.pluginObservers[pluginID] == nil {
		n.pluginObservers[pluginID] = make(map[uint64]Observer)
	}
	n.pluginObservers[pluginID][id] = observer

	return &Subscription{id: id, notifier: n}
}

// Notify sends a change notification to all relevant observers.
func (n *Notifier) Notify(change Change) {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return
	}

	if n.async {
		select {
		case n.buffer <- change:
		case <-n.done:
		}
		return
	}

	n.deliverChange(change)
}

// Count returns the number of active observers.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	count := len(n.globalObservers)
	for _, obs := range n.pluginObservers {
		count += len(obs)
	}
	return count
}

// Close shuts down the notifier. It is safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

// unsubscribe removes an observer by ID.
func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.globalObservers, id)

	for pluginID, observers := range n.pluginObservers {
		delete(observers, id)
		if len(observers) == 0 {
			delete(n.pluginObservers, pluginID)
		}
	}
}

// deliverChange sends a change to all matching observers in subscription order.
func (n *Notifier) deliverChange(change Change) {
	n.mu.RLock()

	matched := make(map[uint64]Observer, len(n.globalObservers))
	for id, obs := range n.globalObservers {
		matched[id] = obs
	}

	if change.PluginID != "" {
		for id, obs := range n.pluginObservers[change.PluginID] {
			matched[id] = obs
		}
	} else {
		for _, observers := range n.pluginObservers {
			for id, obs := range observers {
				matched[id] = obs
			}
		}
	}

	n.mu.RUnlock()

	ids := make([]uint64, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Call observers outside the lock so they may call back into the registry
	for _, id := range ids {
		n.call(matched[id], change)
	}
}

func (n *Notifier) call(obs Observer, change Change) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("change observer panicked",
				zap.String("plugin", change.PluginID),
				zap.Stringer("change", change.Type),
				zap.Any("panic", r),
			)
		}
	}()
	obs(change)
}

// processAsync handles asynchronous notification delivery.
func (n *Notifier) processAsync() {
	defer n.wg.Done()

	for {
		select {
		case change := <-n.buffer:
			n.deliverChange(change)
		case <-n.done:
			// Drain remaining buffered changes
			for {
				select {
				case change := <-n.buffer:
					n.deliverChange(change)
				default:
					return
				}
			}
		}
	}
}
