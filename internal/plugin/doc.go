// Package plugin provides the feature-plugin runtime for devscope.
//
// Each dashboard panel (HTTP traffic, WebSocket sessions, logs, mock rules,
// breakpoints, chaos injection, performance) is a Plugin. The Registry owns
// every registration and is responsible for:
//   - Applying the persisted or default enabled flag on registration
//   - Enabling dependencies and disabling dependents when a flag is toggled
//   - Initializing enabled plugins in dependency order with a shared Context
//   - Routing server-pushed events to the addressed plugin and to subscribers
//   - Projecting enabled plugins into tab configurations for navigation
//
// # Quick Start
//
//	store := enablement.New(kv.NewMemoryStore())
//	reg := plugin.NewRegistry(plugin.DefaultRegistryConfig(),
//	    plugin.WithEnablementStore(store),
//	    plugin.WithLogger(logger),
//	)
//	defer reg.DestroyAll()
//
//	reg.Register(httpPlugin, plugin.RegisterOptions{RoutePath: "/http"})
//	reg.Register(mockPlugin, plugin.RegisterOptions{RoutePath: "/mock"})
//
//	pctx := reg.NewContext("device-1")
//	reg.InitializeAll(ctx, pctx)
//
// # Plugin Lifecycle
//
// Plugin state only moves forward:
//
//	StateUninitialized -> StateLoading -> StateReady
//	                              \-> StateFailed
//
// A plugin whose Initialize returns an error, panics or exceeds the init
// timeout ends in StateFailed and keeps the error. Other plugins still
// initialize.
//
// # Writing a Plugin
//
// Embed Base to get state bookkeeping and no-op lifecycle hooks, then
// override what the plugin needs:
//
//	type Logs struct {
//	    plugin.Base
//	}
//
//	func NewLogs() *Logs {
//	    return &Logs{Base: plugin.NewBase(plugin.Metadata{ID: "logs", Name: "Logs"})}
//	}
//
//	func (l *Logs) Initialize(ctx context.Context, pctx *plugin.Context) error {
//	    pctx.SubscribeToEvents([]string{"log"}, l.onLog)
//	    return nil
//	}
//
// Plugins that implement EventReceiver also receive events addressed to
// them by ID.
package plugin
