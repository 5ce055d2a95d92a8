package script

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

// Lua entry points. All are optional.
const (
	fnInitialize   = "initialize"
	fnOnEvent      = "on_event"
	fnOnActivate   = "on_activate"
	fnOnDeactivate = "on_deactivate"
	fnRender       = "render"
	fnDestroy      = "destroy"
)

// Plugin is a dashboard plugin implemented in Lua.
//
// Scripts see a global devscope table:
//
//	devscope.plugin_id            -- manifest id
//	devscope.device_id()          -- device of the current session
//	devscope.log(level, message)  -- "debug", "info", "warn" or "error"
//	devscope.emit(type, payload)  -- dispatch an event addressed to this plugin
type Plugin struct {
	*plugin.Base

	manifest *Manifest
	rt       *runtime
	logger   *zap.Logger

	mu          sync.Mutex
	pctx        *plugin.Context
	unsubscribe func()
	pending     []event.Envelope
	destroyed   bool
}

// Option configures a scripted plugin.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	callTimeout time.Duration
}

// WithLogger sets the logger for the plugin and its print output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCallTimeout bounds each call into Lua.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.callTimeout = d
	}
}

// Load reads the manifest in dir and compiles its entry point.
func Load(dir string, opts ...Option) (*Plugin, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	return New(m, opts...)
}

// New compiles and runs the manifest's entry point chunk.
func New(m *Manifest, opts ...Option) (*Plugin, error) {
	o := options{logger: zap.NewNop(), callTimeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named(m.ID)

	p := &Plugin{
		Base:     plugin.NewBase(m.Metadata()),
		manifest: m,
		rt:       newRuntime(logger, o.callTimeout),
		logger:   logger,
	}
	p.installAPI()

	if err := p.rt.doFile(m.MainPath()); err != nil {
		p.rt.close()
		return nil, fmt.Errorf("load %s: %w", m.ID, err)
	}
	return p, nil
}

// Manifest returns the plugin's manifest.
func (p *Plugin) Manifest() *Manifest {
	return p.manifest
}

// Initialize subscribes to the manifest's event types and calls the
// script's initialize(device_id).
func (p *Plugin) Initialize(ctx context.Context, pctx *plugin.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.pctx = pctx
	p.mu.Unlock()

	if len(p.manifest.Subscribe) > 0 && pctx != nil {
		unsubscribe := pctx.SubscribeToEvents(p.manifest.Subscribe, p.handleEvent)
		p.mu.Lock()
		destroyed := p.destroyed
		if !destroyed {
			p.unsubscribe = unsubscribe
		}
		p.mu.Unlock()
		if destroyed {
			unsubscribe()
			return ErrStateClosed
		}
	}

	deviceID := ""
	if pctx != nil {
		deviceID = pctx.DeviceID()
	}
	_, err := p.rt.call(fnInitialize, func(*lua.LState) []lua.LValue {
		return []lua.LValue{lua.LString(deviceID)}
	})
	p.flush()
	if err != nil {
		p.unsubscribeEvents()
	}
	return err
}

func (p *Plugin) unsubscribeEvents() {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// OnEvent implements plugin.EventReceiver.
func (p *Plugin) OnEvent(env event.Envelope) {
	p.handleEvent(env)
}

func (p *Plugin) handleEvent(env event.Envelope) {
	var payload any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			payload = string(env.Payload)
		}
	}

	_, err := p.rt.call(fnOnEvent, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{toLua(L, map[string]any{
			"plugin_id":  env.PluginID,
			"event_type": env.EventType,
			"payload":    payload,
		})}
	})
	if err != nil {
		p.logger.Warn("on_event failed", zap.String("event", env.EventType), zap.Error(err))
	}
	p.flush()
}

// Render calls the script's render(props) and returns its result as plain
// Go data.
func (p *Plugin) Render(props plugin.RenderProps) plugin.RenderNode {
	params := props.Params
	if params == nil {
		params = map[string]string{}
	}
	node, err := p.rt.call(fnRender, func(L *lua.LState) []lua.LValue {
		t := L.NewTable()
		t.RawSetString("device_id", lua.LString(props.DeviceID))
		t.RawSetString("active", lua.LBool(props.Active))
		t.RawSetString("params", toLua(L, params))
		return []lua.LValue{t}
	})
	p.flush()
	if err != nil {
		p.logger.Warn("render failed", zap.Error(err))
		return nil
	}
	return node
}

// OnActivate implements plugin.Plugin.
func (p *Plugin) OnActivate() {
	p.callHook(fnOnActivate)
}

// OnDeactivate implements plugin.Plugin.
func (p *Plugin) OnDeactivate() {
	p.callHook(fnOnDeactivate)
}

// Destroy unsubscribes, calls the script's destroy and closes the Lua state.
func (p *Plugin) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	p.unsubscribeEvents()
	p.callHook(fnDestroy)
	p.rt.close()
}

func (p *Plugin) callHook(name string) {
	if _, err := p.rt.call(name, nil); err != nil {
		p.logger.Warn("hook failed", zap.String("hook", name), zap.Error(err))
	}
	p.flush()
}

// flush dispatches events emitted during the last Lua call. It runs after
// the Lua state is released so handlers may call back into this plugin.
func (p *Plugin) flush() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	pctx := p.pctx
	p.mu.Unlock()

	if pctx == nil {
		return
	}
	for _, env := range pending {
		pctx.Dispatch(env)
	}
}

// installAPI registers the devscope module.
func (p *Plugin) installAPI() {
	p.rt.registerModule("devscope", map[string]lua.LGFunction{
		"device_id": func(L *lua.LState) int {
			p.mu.Lock()
			pctx := p.pctx
			p.mu.Unlock()
			if pctx == nil {
				L.Push(lua.LString(""))
			} else {
				L.Push(lua.LString(pctx.DeviceID()))
			}
			return 1
		},
		"log": func(L *lua.LState) int {
			level := L.CheckString(1)
			msg := L.CheckString(2)
			switch level {
			case "debug":
				p.logger.Debug(msg)
			case "warn":
				p.logger.Warn(msg)
			case "error":
				p.logger.Error(msg)
			default:
				p.logger.Info(msg)
			}
			return 0
		},
		"emit": func(L *lua.LState) int {
			eventType := L.CheckString(1)
			env, err := event.NewEnvelope(p.manifest.ID, eventType, toGo(L.Get(2)))
			if err != nil {
				L.RaiseError("emit %s: %v", eventType, err)
				return 0
			}
			p.mu.Lock()
			p.pending = append(p.pending, env)
			p.mu.Unlock()
			return 0
		},
	})

	// Module table is installed; add the constant id field
	p.rt.mu.Lock()
	if mod, ok := p.rt.L.GetGlobal("devscope").(*lua.LTable); ok {
		mod.RawSetString("plugin_id", lua.LString(p.manifest.ID))
	}
	p.rt.mu.Unlock()
}
