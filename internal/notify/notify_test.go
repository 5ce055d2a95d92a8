package notify

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	n := New()
	if n == nil {
		t.Fatal("New() returned nil")
	}
	defer n.Close()
}

func TestNew_WithAsync(t *testing.T) {
	n := New(WithAsync(100))
	if n == nil {
		t.Fatal("New() returned nil")
	}
	if !n.async {
		t.Error("expected async = true")
	}
	defer n.Close()
}

func TestChangeType_String(t *testing.T) {
	tests := []struct {
		ct   ChangeType
		want string
	}{
		{ChangeRegistered, "registered"},
		{ChangeUnregistered, "unregistered"},
		{ChangeEnabled, "enabled"},
		{ChangeState, "state"},
		{ChangeActive, "active"},
		{ChangeReload, "reload"},
		{ChangeReset, "reset"},
		{ChangeType(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.ct.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.ct, got, tt.want)
		}
	}
}

func TestNotifier_Subscribe(t *testing.T) {
	n := New()
	defer n.Close()

	var received atomic.Bool

	sub := n.Subscribe(func(change Change) {
		received.Store(true)
	})

	n.Notify(Change{PluginID: "http", Type: ChangeEnabled, Enabled: true})

	if !received.Load() {
		t.Error("observer did not receive notification")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()

	received.Store(false)
	n.Notify(Change{PluginID: "http", Type: ChangeEnabled})

	if received.Load() {
		t.Error("unsubscribed observer received notification")
	}
	if n.Count() != 0 {
		t.Errorf("Count() = %d, want 0", n.Count())
	}
}

func TestNotifier_SubscribePlugin(t *testing.T) {
	n := New()
	defer n.Close()

	var httpChanges, mockChanges atomic.Int32

	n.SubscribePlugin("http", func(change Change) { httpChanges.Add(1) })
	n.SubscribePlugin("mock", func(change Change) { mockChanges.Add(1) })

	n.Notify(Change{PluginID: "http", Type: ChangeEnabled})
	n.Notify(Change{PluginID: "http", Type: ChangeState, Detail: "ready"})
	n.Notify(Change{PluginID: "mock", Type: ChangeEnabled})

	if got := httpChanges.Load(); got != 2 {
		t.Errorf("http observer got %d changes, want 2", got)
	}
	if got := mockChanges.Load(); got != 1 {
		t.Errorf("mock observer got %d changes, want 1", got)
	}

	// Reload reaches everyone
	n.Notify(Change{Type: ChangeReload})
	if httpChanges.Load() != 3 || mockChanges.Load() != 2 {
		t.Errorf("reload not broadcast: http=%d mock=%d", httpChanges.Load(), mockChanges.Load())
	}
}

func TestNotifier_DeliveryOrder(t *testing.T) {
	n := New()
	defer n.Close()

	var order []int
	for i := 0; i < 4; i++ {
		i := i
		n.Subscribe(func(Change) { order = append(order, i) })
	}

	n.Notify(Change{Type: ChangeReset})

	if len(order) != 4 {
		t.Fatalf("got %d deliveries, want 4", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want subscription order", order)
		}
	}
}

func TestNotifier_ObserverPanic(t *testing.T) {
	n := New()
	defer n.Close()

	var after atomic.Bool
	n.Subscribe(func(Change) { panic("observer failure") })
	n.Subscribe(func(Change) { after.Store(true) })

	n.Notify(Change{Type: ChangeReset})

	if !after.Load() {
		t.Error("panicking observer blocked the next one")
	}
}

func TestNotifier_ReentrantObserver(t *testing.T) {
	n := New()
	defer n.Close()

	var depth atomic.Int32
	n.Subscribe(func(c Change) {
		if c.Type == ChangeEnabled && depth.Add(1) == 1 {
			// Observers may trigger further notifications synchronously
			n.Notify(Change{PluginID: "dep", Type: ChangeEnabled})
		}
	})

	n.Notify(Change{PluginID: "root", Type: ChangeEnabled})

	if got := depth.Load(); got != 2 {
		t.Errorf("depth = %d, want 2", got)
	}
}

func TestNotifier_Async(t *testing.T) {
	n := New(WithAsync(10))

	var mu sync.Mutex
	var got []string
	n.Subscribe(func(c Change) {
		mu.Lock()
		got = append(got, c.PluginID)
		mu.Unlock()
	})

	n.Notify(Change{PluginID: "a", Type: ChangeEnabled})
	n.Notify(Change{PluginID: "b", Type: ChangeEnabled})

	// Close drains the buffer
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v, want [a b]", got)
	}
}

func TestNotifier_NotifyAfterClose(t *testing.T) {
	n := New()

	var received atomic.Bool
	n.Subscribe(func(Change) { received.Store(true) })

	n.Close()
	n.Close()

	done := make(chan struct{})
	go func() {
		n.Notify(Change{Type: ChangeReset})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked after Close")
	}

	if received.Load() {
		t.Error("observer notified after Close")
	}
}
