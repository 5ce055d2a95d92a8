package plugins

import (
	"errors"
	"fmt"

	"github.com/dshills/devscope/internal/plugin"
)

// Version is the version reported by every built-in plugin.
const Version = "1.0.0"

// Built-in plugin IDs.
const (
	IDHTTP        = "http"
	IDWebSocket   = "websocket"
	IDWSFrames    = "ws-frames"
	IDLogs        = "logs"
	IDMock        = "mock"
	IDBreakpoint  = "breakpoint"
	IDChaos       = "chaos"
	IDPerformance = "performance"
)

// Outbound lists the event types built-ins emit for the device server.
var Outbound = []string{EventBreakpointResume, EventChaosRule, EventMockRuleAdd}

// ErrNotInitialized is returned by actions of a plugin that has not been
// initialized.
var ErrNotInitialized = errors.New("plugin is not initialized")

// ErrDestroyed is returned by Initialize after the plugin was destroyed.
var ErrDestroyed = errors.New("plugin is destroyed")

// Builtin pairs a built-in plugin with its registration options.
type Builtin struct {
	Plugin  plugin.Plugin
	Options plugin.RegisterOptions
}

// All returns fresh instances of every built-in plugin in tab order.
func All() []Builtin {
	return []Builtin{
		{NewHTTP(), plugin.RegisterOptions{RoutePath: "/http", TabOrder: 10}},
		{NewWebSocket(), plugin.RegisterOptions{RoutePath: "/websocket", TabOrder: 20}},
		{NewWSFrames(), plugin.RegisterOptions{RoutePath: "/websocket/frames", TabOrder: 25}},
		{NewLogs(), plugin.RegisterOptions{RoutePath: "/logs", TabOrder: 30}},
		{NewMock(), plugin.RegisterOptions{RoutePath: "/mock", TabOrder: 40}},
		{NewBreakpoint(), plugin.RegisterOptions{RoutePath: "/breakpoints", TabOrder: 50}},
		{NewChaos(), plugin.RegisterOptions{RoutePath: "/chaos", TabOrder: 60}},
		{NewPerformance(), plugin.RegisterOptions{RoutePath: "/performance", TabOrder: 70}},
	}
}

// RegisterAll registers every built-in plugin with r.
func RegisterAll(r *plugin.Registry) error {
	var errs []error
	for _, b := range All() {
		if err := r.Register(b.Plugin, b.Options); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("register built-in plugins: %w", errors.Join(errs...))
	}
	return nil
}
