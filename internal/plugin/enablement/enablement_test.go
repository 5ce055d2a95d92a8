package enablement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/devscope/internal/kv"
)

// failingKV fails every operation.
type failingKV struct{}

func (failingKV) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("storage unavailable")
}

func (failingKV) Put(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func (failingKV) Delete(context.Context, string) error { return nil }

func (failingKV) Close() error { return nil }

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemoryStore()

	want := map[string]bool{"http": true, "mock": true, "chaos": false}
	New(backend).Save(ctx, want)

	// Fresh store over the same backend
	got := New(backend).Load(ctx)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %v, want %v", got, want)
	}
}

func TestStore_RoundTripFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b1, _ := kv.NewFileStore(dir)
	New(b1).Save(ctx, map[string]bool{"logs": false})

	b2, _ := kv.NewFileStore(dir)
	got := New(b2).Load(ctx)
	if !reflect.DeepEqual(got, map[string]bool{"logs": false}) {
		t.Errorf("Load() = %v", got)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(kv.NewMemoryStore(), WithLogger(zap.New(core)))

	got := s.Load(context.Background())
	if got == nil || len(got) != 0 {
		t.Errorf("Load() = %v, want empty map", got)
	}
	if logs.Len() != 0 {
		t.Errorf("missing blob should not warn, got %d log entries", logs.Len())
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		blob string
	}{
		{"garbage", "{not json"},
		{"wrong shape", `["http"]`},
		{"wrong value type", `{"http":"yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := kv.NewMemoryStore()
			backend.Put(ctx, DefaultKey, []byte(tt.blob))

			core, logs := observer.New(zapcore.WarnLevel)
			got := New(backend, WithLogger(zap.New(core))).Load(ctx)

			if len(got) != 0 {
				t.Errorf("Load() = %v, want empty", got)
			}
			if logs.Len() != 1 {
				t.Errorf("logged %d entries, want 1", logs.Len())
			}
		})
	}
}

func TestStore_LoadNull(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemoryStore()
	backend.Put(ctx, DefaultKey, []byte("null"))

	got := New(backend).Load(ctx)
	if got == nil {
		t.Fatal("Load() returned nil map")
	}
	got["http"] = true // must be writable
}

func TestStore_StorageFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(failingKV{}, WithLogger(zap.New(core)))

	if got := s.Load(context.Background()); len(got) != 0 {
		t.Errorf("Load() = %v, want empty", got)
	}
	s.Save(context.Background(), map[string]bool{"http": true})

	if logs.Len() != 2 {
		t.Errorf("logged %d entries, want 2", logs.Len())
	}
}

func TestStore_CustomKey(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemoryStore()

	s := New(backend, WithKey("device-42.plugins"))
	s.Save(ctx, map[string]bool{"mock": true})

	if _, err := backend.Get(ctx, "device-42.plugins"); err != nil {
		t.Errorf("blob not stored under custom key: %v", err)
	}
	if _, err := backend.Get(ctx, DefaultKey); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("blob unexpectedly stored under default key")
	}
}

func TestStore_SyncWithoutSyncer(t *testing.T) {
	s := New(kv.NewMemoryStore())
	s.Sync([]PluginState{{PluginID: "http"}})
	s.Wait()
}

func TestStore_SyncDelivers(t *testing.T) {
	var mu sync.Mutex
	var got []PluginState

	s := New(kv.NewMemoryStore(), WithSyncer(SyncerFunc(func(ctx context.Context, states []PluginState) error {
		mu.Lock()
		got = states
		mu.Unlock()
		return nil
	})))

	states := []PluginState{{PluginID: "http", DisplayName: "HTTP", IsEnabled: true}}
	s.Sync(states)
	states[0].IsEnabled = false // caller mutation after Sync must not leak
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || !got[0].IsEnabled {
		t.Errorf("synced %v", got)
	}
}

func TestStore_SyncFailureLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(kv.NewMemoryStore(),
		WithLogger(zap.New(core)),
		WithSyncer(SyncerFunc(func(context.Context, []PluginState) error {
			return errors.New("connection refused")
		})),
	)

	s.Sync(nil)
	s.Wait()

	if logs.FilterMessage("plugin state sync failed").Len() != 1 {
		t.Errorf("sync failure not logged: %v", logs.All())
	}
}

func TestHTTPSyncer(t *testing.T) {
	var received SyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	syncer := NewHTTPSyncer(srv.URL, 0)
	states := []PluginState{
		{PluginID: "http", DisplayName: "HTTP", IsEnabled: true},
		{PluginID: "mock", DisplayName: "Mock", IsEnabled: false},
	}
	if err := syncer.Sync(context.Background(), states); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !reflect.DeepEqual(received.Plugins, states) {
		t.Errorf("server received %v, want %v", received.Plugins, states)
	}
}

func TestHTTPSyncer_WireFormat(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
	}))
	defer srv.Close()

	NewHTTPSyncer(srv.URL, 0).Sync(context.Background(), []PluginState{{PluginID: "logs", DisplayName: "Logs", IsEnabled: true}})

	plugins, ok := raw["plugins"].([]any)
	if !ok || len(plugins) != 1 {
		t.Fatalf("body = %v", raw)
	}
	entry := plugins[0].(map[string]any)
	for _, field := range []string{"pluginId", "displayName", "isEnabled"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("field %q missing from %v", field, entry)
		}
	}
}

func TestHTTPSyncer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewHTTPSyncer(srv.URL, 0).Sync(context.Background(), nil); err == nil {
		t.Error("expected error for HTTP 500")
	}
}

func TestAllowList(t *testing.T) {
	def := NewAllowList(nil)
	for _, id := range DefaultAllowList {
		if !def.Contains(id) {
			t.Errorf("default allow list missing %s", id)
		}
	}
	if def.Contains("mock") {
		t.Error("mock should not be enabled by default")
	}

	empty := NewAllowList([]string{})
	if empty.Contains("http") {
		t.Error("explicit empty allow list should contain nothing")
	}

	custom := NewAllowList([]string{"chaos"})
	if !custom.Contains("chaos") || custom.Contains("http") {
		t.Errorf("custom allow list = %v", custom)
	}
}
