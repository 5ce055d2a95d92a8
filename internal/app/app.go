// Package app wires the devscope components together and manages the
// application lifecycle.
package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/config"
	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/feed"
	"github.com/dshills/devscope/internal/kv"
	"github.com/dshills/devscope/internal/notify"
	"github.com/dshills/devscope/internal/plugin"
	"github.com/dshills/devscope/internal/plugin/enablement"
	"github.com/dshills/devscope/internal/plugin/script"
	"github.com/dshills/devscope/internal/plugins"
)

// scriptTabBase places script plugins without a tab order after built-ins.
const scriptTabBase = 1000

// Application owns the plugin registry and everything around it.
type Application struct {
	cfg    *config.Config
	logger *zap.Logger

	store      kv.Store
	ownsStore  bool
	enablement *enablement.Store
	registry   *plugin.Registry
	feed       *feed.Client
	scripts    []string

	running atomic.Bool
	closed  atomic.Bool
	close   sync.Once
}

// Options configures the application.
type Options struct {
	// Config is required.
	Config *config.Config

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Store replaces the configured storage backend. The application does
	// not close a store it did not open.
	Store kv.Store

	// Syncer replaces the HTTP companion syncer.
	Syncer enablement.Syncer
}

// New creates an Application and bootstraps its components.
func New(ctx context.Context, opts Options) (*Application, error) {
	if opts.Config == nil {
		return nil, &InitError{Component: "config", Err: errors.New("nil config")}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &Application{
		cfg:    opts.Config,
		logger: logger,
		store:  opts.Store,
	}
	if err := app.bootstrap(ctx, opts); err != nil {
		if app.ownsStore && app.store != nil {
			app.store.Close()
		}
		return nil, err
	}
	return app, nil
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap(ctx context.Context, opts Options) error {
	cfg := app.cfg

	// 1. Storage backend
	if app.store == nil {
		kvCfg := cfg.Storage.KV()
		kvCfg.Logger = app.logger.Named("kv")
		store, err := kv.Open(ctx, kvCfg)
		if err != nil {
			return &InitError{Component: "storage", Err: err}
		}
		app.store = store
		app.ownsStore = true
	}

	// 2. Enablement store with companion sync
	syncer := opts.Syncer
	if syncer == nil && cfg.Sync.URL != "" {
		syncer = enablement.NewHTTPSyncer(cfg.Sync.URL, cfg.Sync.Timeout.Duration)
	}
	esOpts := []enablement.Option{
		enablement.WithKey(cfg.Storage.Key),
		enablement.WithLogger(app.logger.Named("enablement")),
		enablement.WithSyncTimeout(cfg.Sync.Timeout.Duration),
	}
	if syncer != nil {
		esOpts = append(esOpts, enablement.WithSyncer(syncer))
	}
	app.enablement = enablement.New(app.store, esOpts...)

	// 3. Registry
	app.registry = plugin.NewRegistry(plugin.RegistryConfig{
		DefaultEnabled:    cfg.Plugins.DefaultEnabled,
		InitTimeout:       cfg.Plugins.InitTimeout.Duration,
		TransitiveCascade: cfg.Plugins.TransitiveCascade,
	},
		plugin.WithEnablementStore(app.enablement),
		plugin.WithBus(event.NewBus(event.WithLogger(app.logger))),
		plugin.WithNotifier(notify.New(notify.WithLogger(app.logger))),
		plugin.WithLogger(app.logger),
	)

	// 4. Built-in plugins
	if err := plugins.RegisterAll(app.registry); err != nil {
		return &InitError{Component: "plugins", Err: err}
	}

	// 5. Script plugins
	if cfg.Plugins.ScriptsDir != "" {
		app.loadScripts(cfg.Plugins.ScriptsDir)
	}

	// 6. Event feed
	if cfg.Feed.URL != "" {
		client, err := feed.New(cfg.Feed.URL, app.registry,
			feed.WithLogger(app.logger),
			feed.WithDeviceID(cfg.Feed.DeviceID),
			feed.WithReconnectDelay(cfg.Feed.ReconnectDelay.Duration),
		)
		if err != nil {
			return &InitError{Component: "feed", Err: err}
		}
		app.feed = client
	}

	return nil
}

// loadScripts registers every script plugin under dir. Broken plugins are
// logged and skipped.
func (app *Application) loadScripts(dir string) {
	logger := app.logger.Named("scripts")
	found, err := script.Discover(dir,
		script.WithLogger(logger),
		script.WithCallTimeout(app.cfg.Plugins.ScriptTimeout.Duration),
	)
	if err != nil {
		logger.Warn("some script plugins failed to load", zap.String("dir", dir), zap.Error(err))
	}

	for i, p := range found {
		m := p.Manifest()
		order := m.TabOrder
		if order == 0 {
			order = scriptTabBase + i
		}
		if err := app.registry.Register(p, plugin.RegisterOptions{RoutePath: m.Route(), TabOrder: order}); err != nil {
			logger.Warn("script plugin not registered", zap.String("plugin", m.ID), zap.Error(err))
			p.Destroy()
			continue
		}
		app.scripts = append(app.scripts, m.ID)
	}
}

// Run initializes enabled plugins and serves events until ctx is cancelled.
// Plugins enabled while running are initialized on the spot.
func (app *Application) Run(ctx context.Context) error {
	if app.closed.Load() {
		return ErrClosed
	}
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	pctx := app.registry.NewContext(app.cfg.Feed.DeviceID)

	var tasks taskGroup
	defer tasks.Stop()

	// Observers may run inside a plugin hook, so initialization happens
	// off the notifying goroutine.
	unsubscribe := app.registry.Subscribe(func(c notify.Change) {
		if c.Type != notify.ChangeEnabled || !c.Enabled || ctx.Err() != nil {
			return
		}
		tasks.Go(func() {
			if err := app.registry.InitializeAll(ctx, pctx); err != nil {
				app.logger.Debug("late initialization interrupted", zap.Error(err))
			}
		})
	})
	defer unsubscribe()

	if err := app.registry.InitializeAll(ctx, pctx); err != nil {
		return err
	}

	if app.cfg.Plugins.Watch {
		app.watch(ctx)
	}

	if app.feed != nil {
		unforward := app.registry.SubscribeToEvents(plugins.Outbound, func(env event.Envelope) {
			if err := app.feed.Send(env); err != nil {
				app.logger.Warn("outbound event dropped", zap.Stringer("event", env), zap.Error(err))
			}
		})
		defer unforward()

		tasks.Go(func() { app.feed.Run(ctx) })
	}

	app.logger.Info("running",
		zap.Int("plugins", app.registry.Count()),
		zap.Int("scripts", len(app.scripts)),
		zap.Bool("feed", app.feed != nil),
	)

	<-ctx.Done()
	return nil
}

func (app *Application) watch(ctx context.Context) {
	w, ok := app.store.(kv.Watcher)
	if !ok {
		app.logger.Warn("storage backend cannot be watched", zap.String("backend", app.cfg.Storage.Backend))
		return
	}
	err := w.Watch(ctx, app.enablement.Key(), func() {
		app.registry.ReloadEnabledState(ctx)
	})
	if err != nil {
		app.logger.Warn("watch enabled state failed", zap.Error(err))
	}
}

// taskGroup tracks goroutines started by Run. Go after Stop is a no-op.
type taskGroup struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
}

// Go runs fn in a goroutine and reports whether it was started.
func (g *taskGroup) Go(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

// Stop rejects new goroutines and waits for running ones.
func (g *taskGroup) Stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
	g.wg.Wait()
}

// Close destroys every plugin, waits for pending syncs and releases the
// storage backend. It is safe to call more than once.
func (app *Application) Close() error {
	var err error
	app.close.Do(func() {
		app.closed.Store(true)
		app.registry.DestroyAll()
		if app.ownsStore {
			err = app.store.Close()
		}
	})
	return err
}

// Registry returns the plugin registry.
func (app *Application) Registry() *plugin.Registry {
	return app.registry
}

// Config returns the configuration.
func (app *Application) Config() *config.Config {
	return app.cfg
}

// Feed returns the event feed client, or nil when no feed is configured.
func (app *Application) Feed() *feed.Client {
	return app.feed
}

// Scripts returns the IDs of registered script plugins.
func (app *Application) Scripts() []string {
	return append([]string(nil), app.scripts...)
}

// IsRunning reports whether Run is in progress.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}
