package event

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	if bus == nil {
		t.Fatal("NewBus() returned nil")
	}
	if got := bus.Count("foo"); got != 0 {
		t.Errorf("Count(foo) = %d, want 0", got)
	}
}

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsubscribe := bus.Subscribe([]string{"foo"}, func(env Envelope) {
		calls++
	})

	bus.Publish(Envelope{EventType: "foo"})
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}

	unsubscribe()
	bus.Publish(Envelope{EventType: "foo"})
	if calls != 1 {
		t.Errorf("handler called after unsubscribe: %d calls", calls)
	}
	if got := bus.Count("foo"); got != 0 {
		t.Errorf("Count(foo) after unsubscribe = %d, want 0", got)
	}
}

func TestBus_PublishOtherTypeNotDelivered(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe([]string{"foo"}, func(env Envelope) { calls++ })
	bus.Publish(Envelope{EventType: "bar"})

	if calls != 0 {
		t.Errorf("handler called %d times for unrelated type", calls)
	}
}

func TestBus_MultiTypeUnsubscribe(t *testing.T) {
	bus := NewBus()

	var got []string
	unsubscribe := bus.Subscribe([]string{"a", "b", "a"}, func(env Envelope) {
		got = append(got, env.EventType)
	})

	if bus.Count("a") != 1 {
		t.Errorf("Count(a) = %d, want 1 (duplicates collapsed)", bus.Count("a"))
	}

	bus.Publish(Envelope{EventType: "a"})
	bus.Publish(Envelope{EventType: "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}

	unsubscribe()
	unsubscribe() // idempotent

	bus.Publish(Envelope{EventType: "a"})
	bus.Publish(Envelope{EventType: "b"})
	if len(got) != 2 {
		t.Errorf("handler still receiving after unsubscribe: %v", got)
	}
	if len(bus.Types()) != 0 {
		t.Errorf("Types() = %v, want empty", bus.Types())
	}
}

func TestBus_DeliveryOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe([]string{"tick"}, func(env Envelope) {
			order = append(order, i)
		})
	}

	bus.Publish(Envelope{EventType: "tick"})

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}

func TestBus_Patterns(t *testing.T) {
	bus := NewBus()

	var got []string
	record := func(name string) Handler {
		return func(env Envelope) { got = append(got, name+":"+env.EventType) }
	}

	bus.Subscribe([]string{"http.*"}, record("all-http"))
	bus.Subscribe([]string{"http.response"}, record("response"))
	bus.Subscribe([]string{"**"}, record("everything"))
	// Both entries match http.response, delivered once
	unsubscribe := bus.Subscribe([]string{"http.response", "*.response"}, record("twice"))

	bus.Publish(Envelope{EventType: "http.response"})
	bus.Publish(Envelope{EventType: "log"})

	want := []string{
		"all-http:http.response",
		"response:http.response",
		"everything:http.response",
		"twice:http.response",
		"everything:log",
	}
	if len(got) != len(want) {
		t.Fatalf("deliveries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	unsubscribe()
	if bus.Count("*.response") != 0 {
		t.Errorf("Count(*.response) = %d after unsubscribe", bus.Count("*.response"))
	}
	got = nil
	bus.Publish(Envelope{EventType: "ws.response"})
	if len(got) != 1 || got[0] != "everything:ws.response" {
		t.Errorf("after unsubscribe deliveries = %v", got)
	}
}

func TestBus_PanicIsolation(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	bus := NewBus(WithLogger(zap.New(core)))

	var before, after int
	bus.Subscribe([]string{"boom"}, func(env Envelope) { before++ })
	bus.Subscribe([]string{"boom"}, func(env Envelope) { panic("bad handler") })
	bus.Subscribe([]string{"boom"}, func(env Envelope) { after++ })

	bus.Publish(Envelope{EventType: "boom"})

	if before != 1 || after != 1 {
		t.Errorf("before=%d after=%d, want 1 and 1", before, after)
	}
	if logs.Len() != 1 {
		t.Errorf("logged %d entries, want 1", logs.Len())
	}

	stats := bus.Stats()
	if stats.Panics != 1 {
		t.Errorf("Stats.Panics = %d, want 1", stats.Panics)
	}
	if stats.Delivered != 2 {
		t.Errorf("Stats.Delivered = %d, want 2", stats.Delivered)
	}
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus()

	var second int
	var unsubscribeSecond func()
	bus.Subscribe([]string{"x"}, func(env Envelope) {
		unsubscribeSecond()
	})
	unsubscribeSecond = bus.Subscribe([]string{"x"}, func(env Envelope) {
		second++
	})

	// Snapshot semantics: the in-flight publish still reaches the second handler
	bus.Publish(Envelope{EventType: "x"})
	bus.Publish(Envelope{EventType: "x"})

	if second != 1 {
		t.Errorf("second handler called %d times, want 1", second)
	}
}

func TestBus_NilHandler(t *testing.T) {
	bus := NewBus()
	unsubscribe := bus.Subscribe([]string{"x"}, nil)
	unsubscribe()
	if bus.Count("x") != 0 {
		t.Error("nil handler should not be registered")
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe([]string{"a"}, func(Envelope) {})
	bus.Subscribe([]string{"b"}, func(Envelope) {})

	bus.Clear()

	if bus.Count("a") != 0 || bus.Count("b") != 0 {
		t.Error("Clear() left subscriptions behind")
	}
}

func TestBus_Concurrent(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe([]string{"c"}, func(Envelope) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			bus.Publish(Envelope{EventType: "c"})
			unsub()
		}()
	}
	wg.Wait()

	if bus.Count("c") != 0 {
		t.Errorf("Count(c) = %d after all unsubscribed", bus.Count("c"))
	}
	if count == 0 {
		t.Error("no deliveries recorded")
	}
}

func TestEnvelope_Decode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"pluginId":"http","eventType":"http_request","payload":{"url":"/"}}`, false},
		{"no payload", `{"pluginId":"http","eventType":"ping"}`, false},
		{"missing type", `{"pluginId":"http"}`, true},
		{"garbage", `not json`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeEnvelope() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && env.PluginID != "http" {
				t.Errorf("PluginID = %q, want http", env.PluginID)
			}
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("logs", "log_line", map[string]string{"level": "warn"})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if string(env.Payload) != `{"level":"warn"}` {
		t.Errorf("Payload = %s", env.Payload)
	}

	env, err = NewEnvelope("logs", "log_line", nil)
	if err != nil {
		t.Fatalf("NewEnvelope(nil) error = %v", err)
	}
	if env.Payload != nil {
		t.Errorf("Payload = %s, want nil", env.Payload)
	}
}
