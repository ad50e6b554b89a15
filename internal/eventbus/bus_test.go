package eventbus

import (
	"sync"
	"testing"
	"time"

	"fetchd/pkg/logx"
)

func TestPublishNoSubscribers(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	// Must not panic or block.
	b.Publish(DownloadStarted, map[string]any{"task_id": "x"})
}

func TestSubscribeAndPublish(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	var got []Event
	unsub := b.Subscribe("test:ping", func(e Event) { got = append(got, e) })
	defer unsub()

	b.Publish("test:ping", map[string]any{"n": 1})
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].Name != "test:ping" {
		t.Fatalf("Name = %q", got[0].Name)
	}
	if got[0].Data["n"] != 1 {
		t.Fatalf("Data[n] = %v", got[0].Data["n"])
	}
	if got[0].Time.IsZero() {
		t.Fatal("event time not set")
	}
}

func TestDeliveryInRegistrationOrder(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe("test:order", func(Event) { order = append(order, i) })
	}
	b.Publish("test:order", nil)

	if len(order) != 5 {
		t.Fatalf("deliveries = %d, want 5", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	b.Subscribe("test:boom", func(Event) { panic("boom") })
	delivered := false
	b.Subscribe("test:boom", func(Event) { delivered = true })

	b.Publish("test:boom", nil)
	if !delivered {
		t.Fatal("second handler not reached after first panicked")
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	n := 0
	unsub := b.Subscribe("test:u", func(Event) { n++ })
	b.Publish("test:u", nil)
	unsub()
	unsub() // idempotent
	b.Publish("test:u", nil)

	if n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
	if c := b.SubscriberCount("test:u"); c != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", c)
	}
}

func TestOnce(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	n := 0
	b.Once("test:once", func(Event) { n++ })
	b.Publish("test:once", nil)
	b.Publish("test:once", nil)

	if n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
	if c := b.SubscriberCount("test:once"); c != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", c)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	b.Subscribe("a", func(Event) {})
	b.Subscribe("a", func(Event) {})
	b.Subscribe("b", func(Event) {})

	b.UnsubscribeAll("a")
	if c := b.SubscriberCount(""); c != 1 {
		t.Fatalf("total = %d, want 1", c)
	}

	b.UnsubscribeAll()
	if c := b.SubscriberCount(""); c != 0 {
		t.Fatalf("total = %d, want 0", c)
	}
}

func TestAsyncDelivery(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	b.EnableAsync()
	defer b.DisableAsync()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 3)
	b.Subscribe("test:async", func(e Event) {
		mu.Lock()
		got = append(got, e.Data["id"].(string))
		mu.Unlock()
		done <- struct{}{}
	})

	b.PublishAsync("test:async", map[string]any{"id": "1"})
	b.PublishAsync("test:async", map[string]any{"id": "2"})
	b.PublishAsync("test:async", map[string]any{"id": "3"})

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i+1)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	// One delivery goroutine drains the queue, so order is FIFO.
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestPublishAsyncWithoutLoopDeliversInline(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	n := 0
	b.Subscribe("test:inline", func(Event) { n++ })
	b.PublishAsync("test:inline", nil)
	if n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	b.Subscribe("x", func(Event) {})
	b.Clear()
	if c := b.SubscriberCount(""); c != 0 {
		t.Fatalf("total = %d, want 0", c)
	}
}
