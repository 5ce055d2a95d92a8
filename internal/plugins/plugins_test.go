package plugins

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dshills/devscope/internal/event"
	"github.com/dshills/devscope/internal/plugin"
)

func newRegistry(t *testing.T, enabled []string) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry(plugin.RegistryConfig{DefaultEnabled: enabled, InitTimeout: time.Second})
	t.Cleanup(r.DestroyAll)
	if err := RegisterAll(r); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	return r
}

func initialized(t *testing.T, enabled ...string) *plugin.Registry {
	t.Helper()
	r := newRegistry(t, enabled)
	if err := r.InitializeAll(context.Background(), r.NewContext("device-1")); err != nil {
		t.Fatal(err)
	}
	return r
}

func envelope(t *testing.T, eventType string, payload any) event.Envelope {
	t.Helper()
	env, err := event.NewEnvelope("", eventType, payload)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func panel(t *testing.T, r *plugin.Registry, id string) Panel {
	t.Helper()
	p, ok := r.Plugin(id)
	if !ok {
		t.Fatalf("plugin %s not registered", id)
	}
	node, ok := p.Render(plugin.RenderProps{DeviceID: "device-1"}).(Panel)
	if !ok {
		t.Fatalf("%s did not render a Panel", id)
	}
	return node
}

func TestRegisterAll_DefaultTabs(t *testing.T) {
	r := newRegistry(t, nil)

	var ids []string
	for _, tab := range r.TabConfigs() {
		ids = append(ids, tab.PluginID)
	}
	want := []string{IDHTTP, IDWebSocket, IDLogs, IDPerformance}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("default tabs = %v, want %v", ids, want)
	}
}

func TestRegisterAll_Twice(t *testing.T) {
	r := newRegistry(t, nil)
	if err := RegisterAll(r); !errors.Is(err, plugin.ErrAlreadyRegistered) {
		t.Errorf("second RegisterAll() error = %v", err)
	}
	if r.Count() != len(All()) {
		t.Errorf("Count() = %d, want %d", r.Count(), len(All()))
	}
}

func TestAll_MetadataValid(t *testing.T) {
	seen := make(map[string]bool)
	for _, b := range All() {
		meta := b.Plugin.Metadata()
		if err := meta.Validate(); err != nil {
			t.Errorf("%s: %v", meta.ID, err)
		}
		if seen[meta.ID] {
			t.Errorf("duplicate id %s", meta.ID)
		}
		seen[meta.ID] = true
		if b.Options.RoutePath == "" {
			t.Errorf("%s has no route", meta.ID)
		}
	}
}

func TestMock_EnablesHTTP(t *testing.T) {
	r := newRegistry(t, []string{})

	r.SetPluginEnabled(IDMock, true)

	if !r.IsPluginEnabled(IDHTTP) || !r.IsPluginEnabled(IDMock) {
		t.Error("enabling mock did not enable http")
	}

	r.SetPluginEnabled(IDHTTP, false)
	for _, id := range []string{IDMock, IDHTTP} {
		if r.IsPluginEnabled(id) {
			t.Errorf("%s still enabled after disabling http", id)
		}
	}
}

func TestInitializeAll_SubscribesEnabledOnly(t *testing.T) {
	r := initialized(t, IDHTTP)

	if p, _ := r.Plugin(IDHTTP); p.State() != plugin.StateReady {
		t.Errorf("http state = %s", p.State())
	}
	if p, _ := r.Plugin(IDLogs); p.State() != plugin.StateUninitialized {
		t.Errorf("disabled logs state = %s", p.State())
	}
	if r.Bus().Count(EventLog) != 0 {
		t.Error("disabled plugin subscribed to events")
	}
}

func TestTally(t *testing.T) {
	tests := []struct {
		name   string
		tally  tallyFunc
		events []event.Envelope
		want   map[string]int64
	}{
		{
			name:  "http",
			tally: tallyHTTP,
			events: []event.Envelope{
				envelope(t, EventHTTPRequest, nil),
				envelope(t, EventHTTPRequest, nil),
				envelope(t, EventHTTPRequest, nil),
				envelope(t, EventHTTPResponse, map[string]any{"status": 200, "durationMs": 40}),
				envelope(t, EventHTTPResponse, map[string]any{"status": 503, "durationMs": 900}),
				envelope(t, EventHTTPError, map[string]any{"message": "timeout"}),
				envelope(t, EventHTTPError, nil),
			},
			want: map[string]int64{"requests": 3, "responses": 2, "failures": 1, "errors": 2, "pending": 0, "slowest_ms": 900},
		},
		{
			name:  "websocket",
			tally: tallyWebSocket,
			events: []event.Envelope{
				envelope(t, EventWSOpen, nil),
				envelope(t, EventWSOpen, nil),
				envelope(t, EventWSMessage, nil),
				envelope(t, EventWSClose, nil),
			},
			want: map[string]int64{"sessions": 2, "open": 1, "messages": 1},
		},
		{
			name:  "frames",
			tally: tallyFrames,
			events: []event.Envelope{
				envelope(t, EventWSFrame, map[string]any{"opcode": "text", "size": 10}),
				envelope(t, EventWSFrame, map[string]any{"opcode": "binary", "size": 90}),
				envelope(t, EventWSFrame, map[string]any{"opcode": "ping"}),
			},
			want: map[string]int64{"frames": 3, "bytes": 100, "text": 1, "binary": 1, "control": 1},
		},
		{
			name:  "logs",
			tally: tallyLogs,
			events: []event.Envelope{
				envelope(t, EventLog, map[string]any{"level": "ERROR"}),
				envelope(t, EventLog, map[string]any{"level": "warning"}),
				envelope(t, EventLog, map[string]any{"level": "verbose"}),
				envelope(t, EventLog, nil),
			},
			want: map[string]int64{"lines": 4, "error": 1, "warn": 1, "info": 2},
		},
		{
			name:  "mock",
			tally: tallyMock,
			events: []event.Envelope{
				envelope(t, EventMockRuleAdded, nil),
				envelope(t, EventMockRuleAdded, nil),
				envelope(t, EventMockRuleRemoved, nil),
				envelope(t, EventMockHit, nil),
			},
			want: map[string]int64{"rules": 1, "hits": 1},
		},
		{
			name:  "breakpoint",
			tally: tallyBreakpoint,
			events: []event.Envelope{
				envelope(t, EventBreakpointHit, nil),
				envelope(t, EventBreakpointResumed, nil),
				envelope(t, EventBreakpointResumed, nil),
			},
			want: map[string]int64{"hits": 1, "paused": 0},
		},
		{
			name:  "chaos",
			tally: tallyChaos,
			events: []event.Envelope{
				envelope(t, EventChaosInjected, map[string]any{"kind": FaultLatency}),
				envelope(t, EventChaosInjected, map[string]any{"kind": FaultDrop}),
				envelope(t, EventChaosInjected, nil),
			},
			want: map[string]int64{"faults": 3, FaultLatency: 1, FaultDrop: 1},
		},
		{
			name:  "performance",
			tally: tallyPerformance,
			events: []event.Envelope{
				envelope(t, EventPerfSample, map[string]any{"fps": 60, "memoryMb": 300, "cpu": 20}),
				envelope(t, EventPerfSample, map[string]any{"fps": 42, "memoryMb": 250}),
			},
			want: map[string]int64{"samples": 2, "fps": 42, "cpu": 20, "memory_mb": 250, "peak_memory_mb": 300},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := make(map[string]int64)
			for _, env := range tt.events {
				tt.tally(env, stats)
			}
			if !reflect.DeepEqual(stats, tt.want) {
				t.Errorf("stats = %v, want %v", stats, tt.want)
			}
		})
	}
}

func TestPanel_ReceivesBroadcast(t *testing.T) {
	r := initialized(t, IDLogs)

	r.DispatchEvent(event.Envelope{PluginID: "device", EventType: EventLog, Payload: []byte(`{"level":"error"}`)})

	got := panel(t, r, IDLogs)
	if got.Stats["lines"] != 1 || got.Stats["error"] != 1 {
		t.Errorf("stats = %v", got.Stats)
	}
	if got.Title != "Logs" || got.DeviceID != "device-1" || len(got.Recent) != 1 {
		t.Errorf("panel = %+v", got)
	}
}

func TestPanel_RecentBounded(t *testing.T) {
	r := initialized(t, IDLogs)

	for i := 0; i < RecentLimit+10; i++ {
		r.DispatchEvent(envelope(t, EventLog, map[string]any{"n": i}))
	}

	got := panel(t, r, IDLogs)
	if len(got.Recent) != RecentLimit {
		t.Fatalf("len(Recent) = %d, want %d", len(got.Recent), RecentLimit)
	}
	if string(got.Recent[0].Payload) != `{"n":10}` {
		t.Errorf("oldest kept = %s, want n=10", got.Recent[0].Payload)
	}
	if got.Stats["lines"] != int64(RecentLimit+10) {
		t.Errorf("lines = %d", got.Stats["lines"])
	}
}

func TestPanel_Reset(t *testing.T) {
	r := initialized(t, IDHTTP)
	r.DispatchEvent(envelope(t, EventHTTPRequest, nil))

	r.DispatchEvent(event.Envelope{PluginID: IDHTTP, EventType: EventReset})

	got := panel(t, r, IDHTTP)
	if len(got.Stats) != 0 || len(got.Recent) != 0 {
		t.Errorf("panel not reset: %+v", got)
	}
}

func TestBreakpoint_Resume(t *testing.T) {
	r := initialized(t, IDHTTP, IDBreakpoint)

	var got []event.Envelope
	r.SubscribeToEvents([]string{EventBreakpointResume}, func(env event.Envelope) {
		got = append(got, env)
	})

	p, _ := r.Plugin(IDBreakpoint)
	if err := p.(*Breakpoint).Resume("req-7"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("received %d events", len(got))
	}
	if got[0].PluginID != IDBreakpoint || string(got[0].Payload) != `{"requestId":"req-7"}` {
		t.Errorf("event = %s %s", got[0], got[0].Payload)
	}
}

func TestChaos_Inject(t *testing.T) {
	r := initialized(t, IDHTTP, IDChaos)

	var payload string
	r.SubscribeToEvents([]string{EventChaosRule}, func(env event.Envelope) {
		payload = string(env.Payload)
	})

	p, _ := r.Plugin(IDChaos)
	chaos := p.(*Chaos)

	if err := chaos.Inject(FaultLatency, "/api/*", 1500*time.Millisecond); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if want := `{"kind":"latency","latencyMs":1500,"pattern":"/api/*"}`; payload != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}

	if err := chaos.Inject("meteor", "/", 0); err == nil {
		t.Error("expected error for unknown fault kind")
	}
}

func TestMock_AddRule(t *testing.T) {
	r := initialized(t, IDHTTP, IDMock)

	var payload string
	r.SubscribeToEvents([]string{EventMockRuleAdd}, func(env event.Envelope) {
		payload = string(env.Payload)
	})

	p, _ := r.Plugin(IDMock)
	if err := p.(*Mock).AddRule("GET", "/users", 404); err != nil {
		t.Fatal(err)
	}
	if want := `{"method":"GET","path":"/users","status":404}`; payload != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestEmit_BeforeInitialize(t *testing.T) {
	b := NewBreakpoint()
	if err := b.Resume("r"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Resume() error = %v, want ErrNotInitialized", err)
	}
}

func TestDestroy_Unsubscribes(t *testing.T) {
	r := initialized(t, IDPerformance)
	if r.Bus().Count(EventPerfSample) != 1 {
		t.Fatalf("Count() = %d before destroy", r.Bus().Count(EventPerfSample))
	}

	r.Unregister(IDPerformance)

	if r.Bus().Count(EventPerfSample) != 0 {
		t.Error("subscription survived Destroy")
	}
}

func TestInitialize_AfterDestroy(t *testing.T) {
	r := plugin.NewRegistry(plugin.RegistryConfig{DefaultEnabled: []string{}})
	t.Cleanup(r.DestroyAll)

	perf := NewPerformance()
	perf.Destroy()

	err := perf.Initialize(context.Background(), r.NewContext("d"))
	if !errors.Is(err, ErrDestroyed) {
		t.Errorf("Initialize() error = %v, want ErrDestroyed", err)
	}
	if n := r.Bus().Count(EventPerfSample); n != 0 {
		t.Errorf("Count() = %d, destroyed plugin kept its subscription", n)
	}
}
