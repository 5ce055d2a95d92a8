package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/notify"
	"github.com/dshills/devscope/internal/plugin/enablement"
	"github.com/dshills/devscope/internal/plugin/resolve"
)

// DefaultInitTimeout bounds a single plugin's Initialize.
const DefaultInitTimeout = 10 * time.Second

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// DefaultEnabled lists plugins enabled when no persisted entry exists.
	// Nil means enablement.DefaultAllowList.
	DefaultEnabled []string

	// InitTimeout bounds each plugin's Initialize. Zero disables the timeout.
	InitTimeout time.Duration

	// TransitiveCascade makes SetPluginEnabled enable every dependency and
	// disable every dependent in the chain instead of one hop.
	TransitiveCascade bool
}

// DefaultRegistryConfig returns sensible default configuration.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		InitTimeout: DefaultInitTimeout,
	}
}

// RegisterOptions carries per-registration routing data.
type RegisterOptions struct {
	// RoutePath is the host route of the plugin's panel.
	RoutePath string

	// TabOrder sorts tabs ascending. Zero places the plugin after every
	// plugin registered before it.
	TabOrder int
}

// registration is the registry's record of one plugin.
type registration struct {
	plugin    Plugin
	meta      Metadata
	routePath string
	tabOrder  int
	seq       int

	// Set once Destroy has been called
	destroyed bool
}

// Registry owns plugin registrations, their enabled state and lifecycle.
// It is safe for concurrent use. Plugin lifecycle hooks, bus handlers and
// change observers are invoked without the registry lock held, so they may
// call back into the registry. SetEnabled and SetState are the exception:
// implementations must not call back into the registry from them.
type Registry struct {
	mu sync.RWMutex

	// Registrations by plugin ID
	plugins  map[string]*registration
	seq      int
	maxOrder int

	// Persisted enabled entries; IDs without an entry fall back to allow
	enabled map[string]bool
	allow   enablement.AllowList

	// Focused plugin, empty when none
	active string

	// Session context of the last InitializeAll
	pctx *Context

	// Serializes InitializeAll and DestroyAll
	initMu sync.Mutex

	// Serializes snapshot-and-save so the newest map is written last
	persistMu sync.Mutex

	config   RegistryConfig
	store    *enablement.Store
	bus      *event.Bus
	notifier *notify.Notifier
	logger   *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEnablementStore sets the store that persists enabled flags. Without
// one, flags live in memory only.
func WithEnablementStore(s *enablement.Store) RegistryOption {
	return func(r *Registry) {
		r.store = s
	}
}

// WithBus sets the event bus. A private bus is created otherwise.
func WithBus(b *event.Bus) RegistryOption {
	return func(r *Registry) {
		if b != nil {
			r.bus = b
		}
	}
}

// WithNotifier sets the change notifier. A private one is created otherwise.
func WithNotifier(n *notify.Notifier) RegistryOption {
	return func(r *Registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry and loads persisted enabled state.
func NewRegistry(config RegistryConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		plugins: make(map[string]*registration),
		enabled: make(map[string]bool),
		allow:   enablement.NewAllowList(config.DefaultEnabled),
		config:  config,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = event.NewBus(event.WithLogger(r.logger.Named("bus")))
	}
	if r.notifier == nil {
		r.notifier = notify.New(notify.WithLogger(r.logger.Named("notify")))
	}
	r.logger = r.logger.Named("registry")

	if r.store != nil {
		r.enabled = r.store.Load(context.Background())
	}
	return r
}

// Bus returns the registry's event bus.
func (r *Registry) Bus() *event.Bus {
	return r.bus
}

// Context returns the context passed to the last InitializeAll, or nil.
func (r *Registry) Context() *Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pctx
}

// Register adds a plugin. The persisted or default enabled flag is applied
// to the plugin before it is stored. A second registration of the same ID is
// logged and rejected with ErrAlreadyRegistered.
func (r *Registry) Register(p Plugin, opts RegisterOptions) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", ErrInvalidPlugin)
	}
	meta := p.Metadata().Clone()
	if err := meta.Validate(); err != nil {
		return err
	}
	for _, w := range meta.Warnings() {
		r.logger.Warn(w, zap.String("plugin", meta.ID))
	}

	r.mu.Lock()
	if _, exists := r.plugins[meta.ID]; exists {
		r.mu.Unlock()
		r.logger.Warn("plugin already registered", zap.String("plugin", meta.ID))
		return fmt.Errorf("plugin %q: %w", meta.ID, ErrAlreadyRegistered)
	}

	enabled := r.isEnabledLocked(meta.ID)
	p.SetEnabled(enabled)

	r.seq++
	order := opts.TabOrder
	if order == 0 {
		order = r.maxOrder + 1
	}
	r.maxOrder = max(r.maxOrder, order)
	r.plugins[meta.ID] = &registration{
		plugin:    p,
		meta:      meta,
		routePath: opts.RoutePath,
		tabOrder:  order,
		seq:       r.seq,
	}
	r.mu.Unlock()

	r.logger.Debug("plugin registered",
		zap.String("plugin", meta.ID),
		zap.Bool("enabled", enabled),
		zap.Strings("dependencies", meta.Dependencies),
	)
	r.notifier.Notify(notify.Change{PluginID: meta.ID, Type: notify.ChangeRegistered, Enabled: enabled})
	return nil
}

// Unregister destroys and removes a plugin. It is a no-op for unknown IDs.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	reg, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.plugins, id)
	wasActive := r.active == id
	if wasActive {
		r.active = ""
	}
	r.mu.Unlock()

	if wasActive {
		r.safeCall(id, "OnDeactivate", reg.plugin.OnDeactivate)
	}
	r.destroy(id, reg)

	r.logger.Debug("plugin unregistered", zap.String("plugin", id))
	r.notifier.Notify(notify.Change{PluginID: id, Type: notify.ChangeUnregistered})
}

// Plugin returns the plugin registered under id.
func (r *Registry) Plugin(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return reg.plugin, true
}

// Plugins returns every registered plugin ordered by tab order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.sortedLocked()
	out := make([]Plugin, len(regs))
	for i, reg := range regs {
		out[i] = reg.plugin
	}
	return out
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// TabConfigs returns the navigation projection of enabled plugins ordered
// by tab order.
func (r *Registry) TabConfigs() []TabConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tabs []TabConfig
	for _, reg := range r.sortedLocked() {
		if !r.isEnabledLocked(reg.meta.ID) {
			continue
		}
		tabs = append(tabs, TabConfig{
			PluginID:    reg.meta.ID,
			Label:       reg.meta.Label(),
			Icon:        reg.meta.Icon,
			Description: reg.meta.Description,
			RoutePath:   reg.routePath,
		})
	}
	return tabs
}

// IsPluginEnabled returns the persisted flag for id, or its allow-list
// membership when nothing was persisted. It has no side effects.
func (r *Registry) IsPluginEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isEnabledLocked(id)
}

// SetPluginEnabled toggles a plugin. Enabling first enables the plugin's
// disabled dependencies; disabling first disables its enabled dependents.
// The full map is then persisted, observers are notified and a sync to the
// companion service is scheduled. Unknown IDs are ignored.
func (r *Registry) SetPluginEnabled(id string, enabled bool) {
	r.mu.Lock()
	if _, ok := r.plugins[id]; !ok {
		r.mu.Unlock()
		r.logger.Debug("ignoring toggle of unregistered plugin", zap.String("plugin", id))
		return
	}

	cascade := r.cascadeLocked(id, enabled)

	var changes []notify.Change
	apply := func(pid string, value bool) {
		was := r.isEnabledLocked(pid)
		r.enabled[pid] = value
		if reg, ok := r.plugins[pid]; ok {
			reg.plugin.SetEnabled(value)
		}
		if was != value || pid == id {
			changes = append(changes, notify.Change{PluginID: pid, Type: notify.ChangeEnabled, Enabled: value})
		}
	}
	for _, pid := range cascade {
		apply(pid, enabled)
	}
	apply(id, enabled)

	deactivated := r.dropActiveLocked()
	r.mu.Unlock()

	if len(cascade) > 0 {
		r.logger.Info("cascaded plugin toggle",
			zap.String("plugin", id),
			zap.Bool("enabled", enabled),
			zap.Strings("cascade", cascade),
		)
	}

	if deactivated != nil {
		r.safeCall(deactivated.meta.ID, "OnDeactivate", deactivated.plugin.OnDeactivate)
		changes = append(changes, notify.Change{Type: notify.ChangeActive})
	}

	r.persist()
	for _, c := range changes {
		r.notifier.Notify(c)
	}
	r.sync()
}

// cascadeLocked returns the plugins whose flag must change along with id.
func (r *Registry) cascadeLocked(id string, enabled bool) []string {
	nodes := r.nodesLocked()
	isEnabled := resolve.EnabledFunc(r.isEnabledLocked)

	switch {
	case enabled && r.config.TransitiveCascade:
		return resolve.TransitiveDependencies(id, nodes, isEnabled)
	case enabled:
		return resolve.RequiredDependencies(id, nodes, isEnabled)
	case r.config.TransitiveCascade:
		return resolve.TransitiveDependents(id, nodes, isEnabled)
	default:
		return resolve.DependentsToDisable(id, nodes, isEnabled)
	}
}

// InitOrder returns the dependency-respecting initialization order of every
// registered plugin. Cycles are broken and logged.
func (r *Registry) InitOrder() []string {
	r.mu.RLock()
	nodes := r.nodesLocked()
	r.mu.RUnlock()

	result := resolve.Order(nodes)
	for _, c := range result.Cycles {
		r.logger.Warn("dependency cycle broken",
			zap.String("plugin", c.From),
			zap.String("dependency", c.To),
		)
	}
	return result.Order
}

// InitializeAll initializes every enabled, uninitialized plugin in
// dependency order, one at a time. A plugin that fails, panics or exceeds
// the init timeout moves to StateFailed; the rest still initialize.
// Calls are serialized and may be repeated to pick up newly enabled plugins.
// It returns an error only when ctx is done before all plugins were visited.
//
// Initialize must not call InitializeAll; such a call waits until the
// outer call returns.
func (r *Registry) InitializeAll(ctx context.Context, pctx *Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.mu.Lock()
	r.pctx = pctx
	r.mu.Unlock()

	var failed int
	for _, id := range r.InitOrder() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("initialize plugins: %w", err)
		}

		r.mu.RLock()
		reg, ok := r.plugins[id]
		enabled := ok && r.isEnabledLocked(id)
		r.mu.RUnlock()
		if !enabled || reg.plugin.State() != StateUninitialized {
			continue
		}

		p := reg.plugin
		r.setState(id, p, StateLoading, nil)
		start := time.Now()

		if err := r.initialize(ctx, p, pctx); err != nil {
			failed++
			r.setState(id, p, StateFailed, err)
			r.logger.Error("plugin initialization failed", zap.String("plugin", id), zap.Error(err))
			// Releases subscriptions taken before the failure
			r.destroy(id, reg)
			continue
		}
		r.setState(id, p, StateReady, nil)
		r.logger.Debug("plugin initialized", zap.String("plugin", id), zap.Duration("took", time.Since(start)))
	}

	if failed > 0 {
		r.logger.Warn("some plugins failed to initialize", zap.Int("failed", failed))
	}
	return nil
}

// initialize runs p.Initialize with the configured timeout and converts
// panics into errors. A plugin that ignores ctx keeps running in its own
// goroutine after the timeout but no longer blocks the caller.
func (r *Registry) initialize(ctx context.Context, p Plugin, pctx *Context) error {
	timeout := r.config.InitTimeout
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("%w: %v", ErrInitPanic, rec)
			}
		}()
		done <- p.Initialize(ctx, pctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrInitTimeout, timeout)
	}
	return err
}

// setState advances p and notifies observers when the transition happened.
func (r *Registry) setState(id string, p Plugin, s State, err error) {
	if !p.SetState(s, err) {
		r.logger.Warn("rejected plugin state transition",
			zap.String("plugin", id),
			zap.Stringer("from", p.State()),
			zap.Stringer("to", s),
		)
		return
	}
	r.notifier.Notify(notify.Change{PluginID: id, Type: notify.ChangeState, Detail: s.String()})
}

// DispatchEvent delivers env to the addressed plugin, if it is registered
// and implements EventReceiver, and publishes it on the bus. Both channels
// always run.
func (r *Registry) DispatchEvent(env event.Envelope) {
	r.mu.RLock()
	reg, ok := r.plugins[env.PluginID]
	r.mu.RUnlock()

	if ok {
		if recv, ok := reg.plugin.(EventReceiver); ok {
			r.safeCall(env.PluginID, "OnEvent", func() { recv.OnEvent(env) })
		}
	}
	r.bus.Publish(env)
}

// SubscribeToEvents subscribes handler to the given event types. The
// returned function unsubscribes from all of them.
func (r *Registry) SubscribeToEvents(types []string, handler event.Handler) func() {
	return r.bus.Subscribe(types, handler)
}

// Subscribe registers an observer for registry changes.
func (r *Registry) Subscribe(observer notify.Observer) func() {
	return r.notifier.Subscribe(observer).Unsubscribe
}

// SetActivePlugin focuses the plugin with the given id, deactivating the
// previously active one. An empty id clears focus. Only enabled plugins can
// be active.
func (r *Registry) SetActivePlugin(id string) error {
	r.mu.Lock()
	var next *registration
	if id != "" {
		reg, ok := r.plugins[id]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
		}
		if !r.isEnabledLocked(id) {
			r.mu.Unlock()
			return fmt.Errorf("plugin %q: %w", id, ErrNotEnabled)
		}
		next = reg
	}
	if r.active == id {
		r.mu.Unlock()
		return nil
	}
	prev := r.plugins[r.active]
	r.active = id
	r.mu.Unlock()

	if prev != nil {
		r.safeCall(prev.meta.ID, "OnDeactivate", prev.plugin.OnDeactivate)
	}
	if next != nil {
		r.safeCall(id, "OnActivate", next.plugin.OnActivate)
	}
	r.notifier.Notify(notify.Change{PluginID: id, Type: notify.ChangeActive})
	return nil
}

// ActivePlugin returns the focused plugin's ID, or "" when none.
func (r *Registry) ActivePlugin() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// ReloadEnabledState re-reads the enablement store, for example after
// another process changed it, and applies the result to every plugin.
func (r *Registry) ReloadEnabledState(ctx context.Context) {
	if r.store == nil {
		return
	}
	loaded := r.store.Load(ctx)

	r.mu.Lock()
	before := make(map[string]bool, len(r.plugins))
	for id := range r.plugins {
		before[id] = r.isEnabledLocked(id)
	}
	r.enabled = loaded

	var changes []notify.Change
	for id, reg := range r.plugins {
		now := r.isEnabledLocked(id)
		reg.plugin.SetEnabled(now)
		if now != before[id] {
			changes = append(changes, notify.Change{PluginID: id, Type: notify.ChangeEnabled, Enabled: now})
		}
	}
	deactivated := r.dropActiveLocked()
	r.mu.Unlock()

	if deactivated != nil {
		r.safeCall(deactivated.meta.ID, "OnDeactivate", deactivated.plugin.OnDeactivate)
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].PluginID < changes[j].PluginID })
	r.logger.Info("reloaded plugin enabled state", zap.Int("changed", len(changes)))
	for _, c := range changes {
		r.notifier.Notify(c)
	}
	r.notifier.Notify(notify.Change{Type: notify.ChangeReload})
}

// Snapshot returns every registered plugin's sync record ordered by tab order.
func (r *Registry) Snapshot() []enablement.PluginState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.sortedLocked()
	out := make([]enablement.PluginState, len(regs))
	for i, reg := range regs {
		out[i] = enablement.PluginState{
			PluginID:    reg.meta.ID,
			DisplayName: reg.meta.Label(),
			IsEnabled:   r.isEnabledLocked(reg.meta.ID),
		}
	}
	return out
}

// DestroyAll destroys every plugin, dependents before their dependencies,
// and clears registrations, bus subscriptions and the session context.
// It waits for a running InitializeAll. Pending companion syncs are drained
// before it returns.
func (r *Registry) DestroyAll() {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	order := r.InitOrder()

	r.mu.Lock()
	regs := r.plugins
	active := r.plugins[r.active]
	r.plugins = make(map[string]*registration)
	r.active = ""
	r.pctx = nil
	r.mu.Unlock()

	if active != nil {
		r.safeCall(active.meta.ID, "OnDeactivate", active.plugin.OnDeactivate)
	}
	for i := len(order) - 1; i >= 0; i-- {
		if reg, ok := regs[order[i]]; ok {
			r.destroy(order[i], reg)
		}
	}

	r.bus.Clear()
	if r.store != nil {
		r.store.Wait()
	}
	r.logger.Debug("registry torn down", zap.Int("plugins", len(regs)))
	r.notifier.Notify(notify.Change{Type: notify.ChangeReset})
}

// destroy calls the plugin's Destroy at most once per registration.
func (r *Registry) destroy(id string, reg *registration) {
	r.mu.Lock()
	done := reg.destroyed
	reg.destroyed = true
	r.mu.Unlock()

	if !done {
		r.safeCall(id, "Destroy", reg.plugin.Destroy)
	}
}

// persist writes the effective flag of every registered plugin, merged over
// persisted entries of unregistered IDs.
func (r *Registry) persist() {
	if r.store == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.RLock()
	state := make(map[string]bool, len(r.enabled)+len(r.plugins))
	for id, v := range r.enabled {
		state[id] = v
	}
	for id := range r.plugins {
		state[id] = r.isEnabledLocked(id)
	}
	r.mu.RUnlock()

	r.store.Save(context.Background(), state)
}

func (r *Registry) sync() {
	if r.store != nil {
		r.store.Sync(r.Snapshot())
	}
}

// dropActiveLocked clears focus if the active plugin is no longer enabled
// and returns its registration.
func (r *Registry) dropActiveLocked() *registration {
	if r.active == "" || r.isEnabledLocked(r.active) {
		return nil
	}
	reg := r.plugins[r.active]
	r.active = ""
	return reg
}

func (r *Registry) isEnabledLocked(id string) bool {
	if v, ok := r.enabled[id]; ok {
		return v
	}
	return r.allow.Contains(id)
}

// sortedLocked returns registrations by tab order, ties by registration order.
func (r *Registry) sortedLocked() []*registration {
	regs := make([]*registration, 0, len(r.plugins))
	for _, reg := range r.plugins {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].tabOrder != regs[j].tabOrder {
			return regs[i].tabOrder < regs[j].tabOrder
		}
		return regs[i].seq < regs[j].seq
	})
	return regs
}

// nodesLocked returns the dependency graph in registration order.
func (r *Registry) nodesLocked() []resolve.Node {
	regs := make([]*registration, 0, len(r.plugins))
	for _, reg := range r.plugins {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	nodes := make([]resolve.Node, len(regs))
	for i, reg := range regs {
		nodes[i] = resolve.Node{ID: reg.meta.ID, Dependencies: reg.meta.Dependencies}
	}
	return nodes
}

// safeCall runs a plugin hook, recovering and logging panics.
func (r *Registry) safeCall(id, hook string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("plugin hook panicked",
				zap.String("plugin", id),
				zap.String("hook", hook),
				zap.Any("panic", rec),
			)
		}
	}()
	fn()
}
