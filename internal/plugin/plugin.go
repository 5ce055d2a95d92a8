package plugin

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dshills/devscope/internal/event"
)

// Metadata describes a plugin. It is immutable once registered.
type Metadata struct {
	// ID uniquely identifies the plugin (e.g. "http", "mock").
	ID string

	// Name is the human-readable label shown on the tab.
	Name string

	// Version is the plugin version (semver).
	Version string

	// Description is a short summary shown in tooltips and listings.
	Description string

	// Dependencies lists the IDs of plugins this plugin requires.
	Dependencies []string

	// IsSubPlugin marks plugins rendered inside a parent plugin's panel.
	IsSubPlugin bool

	// ParentPluginID is the owning plugin of a sub-plugin.
	ParentPluginID string

	// Icon is an opaque icon reference passed through to the UI.
	Icon string
}

// Validate checks that the metadata can be registered. Only an ID is
// required; dependency cycles, self-edges included, are broken when the
// initialization order is computed.
func (m Metadata) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPlugin)
	}
	return nil
}

// Warnings returns problems that do not prevent registration.
func (m Metadata) Warnings() []string {
	var warnings []string
	if slices.Contains(m.Dependencies, m.ID) {
		warnings = append(warnings, "plugin depends on itself")
	}
	if m.IsSubPlugin && m.ParentPluginID == "" {
		warnings = append(warnings, "sub-plugin has no parent")
	}
	return warnings
}

// Label returns Name, falling back to ID.
func (m Metadata) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	c := m
	if m.Dependencies != nil {
		c.Dependencies = make([]string, len(m.Dependencies))
		copy(c.Dependencies, m.Dependencies)
	}
	return c
}

// RenderProps is passed to Render by the host UI.
type RenderProps struct {
	// DeviceID is the device whose data the panel shows.
	DeviceID string

	// Active is true when the plugin's tab is focused.
	Active bool

	// Params carries route parameters.
	Params map[string]string
}

// RenderNode is the opaque result of Render. The registry never inspects it.
type RenderNode any

// Plugin is the capability contract every dashboard feature implements.
type Plugin interface {
	// Metadata returns the plugin's descriptor.
	Metadata() Metadata

	// State returns the current lifecycle state.
	State() State

	// Err returns the error that moved the plugin to StateFailed.
	Err() error

	// Enabled reports the plugin's enabled flag as last applied by the registry.
	Enabled() bool

	// SetState advances the lifecycle state. It returns false and leaves the
	// state unchanged when the transition would move backward.
	SetState(s State, err error) bool

	// SetEnabled records the enabled flag. Only the registry calls it.
	SetEnabled(enabled bool)

	// Initialize prepares the plugin for use. ctx is cancelled when the
	// init timeout expires.
	Initialize(ctx context.Context, pctx *Context) error

	// Render produces the plugin's panel.
	Render(props RenderProps) RenderNode

	// OnActivate is called when the plugin's tab gains focus.
	OnActivate()

	// OnDeactivate is called when the plugin's tab loses focus.
	OnDeactivate()

	// Destroy releases resources. It is called once, on unregister or teardown.
	Destroy()
}

// EventReceiver is implemented by plugins that accept events addressed to
// them by ID.
type EventReceiver interface {
	OnEvent(env event.Envelope)
}

// Base implements the bookkeeping part of Plugin. Embed *Base in concrete
// plugins and override the lifecycle hooks that matter.
type Base struct {
	mu      sync.RWMutex
	meta    Metadata
	state   State
	err     error
	enabled bool
}

// NewBase creates a Base for the given metadata.
func NewBase(meta Metadata) *Base {
	return &Base{meta: meta.Clone()}
}

// Metadata implements Plugin.
func (b *Base) Metadata() Metadata {
	return b.meta.Clone()
}

// State implements Plugin.
func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Err implements Plugin.
func (b *Base) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.err
}

// Enabled implements Plugin.
func (b *Base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetState implements Plugin.
func (b *Base) SetState(s State, err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.state.CanTransition(s) {
		return false
	}
	b.state = s
	if s == StateFailed {
		b.err = err
	}
	return true
}

// SetEnabled implements Plugin.
func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

// Initialize implements Plugin.
func (b *Base) Initialize(context.Context, *Context) error { return nil }

// Render implements Plugin.
func (b *Base) Render(RenderProps) RenderNode { return nil }

// OnActivate implements Plugin.
func (b *Base) OnActivate() {}

// OnDeactivate implements Plugin.
func (b *Base) OnDeactivate() {}

// Destroy implements Plugin.
func (b *Base) Destroy() {}

// TabConfig is the navigation projection of an enabled plugin.
type TabConfig struct {
	PluginID    string `json:"pluginId"`
	Label       string `json:"label"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
	RoutePath   string `json:"routePath"`
}
