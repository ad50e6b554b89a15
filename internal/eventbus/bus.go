package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"fetchd/pkg/logx"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Events are immutable once published.
//   - Handlers for a synchronous publish run inline on the publisher's
//     goroutine, in registration order.
//   - A handler that panics never prevents delivery to later handlers
//     and never reaches the publisher.
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Name   string
	Data   map[string]any
	Time   time.Time
	Source string
}

// Handler receives published events. It must not block when the bus runs in
// asynchronous mode: all async deliveries share one delivery goroutine, so a
// stalled handler stalls every async subscriber behind it.
type Handler func(Event)

// Bus is a process-wide publish/subscribe hub keyed by event name.
//
// One instance is constructed by the composition root and injected into every
// component that announces or observes state transitions. Clear() exists for
// test isolation.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber
	seq  atomic.Uint64

	log logx.Logger

	// Async delivery state, guarded by asyncMu.
	asyncMu  sync.Mutex
	queue    chan Event
	stopCh   chan struct{}
	stopDone chan struct{}
}

type subscriber struct {
	id   uint64
	fn   Handler
	once bool
	// fired guards one-shot subscribers against double delivery when two
	// publishes race between snapshot and removal.
	fired atomic.Bool
}

const defaultAsyncQueue = 256

func New(log logx.Logger) *Bus {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bus{subs: map[string][]*subscriber{}, log: log}
}

// Subscribe registers a handler for the named event and returns a capability
// to remove it. The returned func is idempotent.
func (b *Bus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	return b.subscribe(name, fn, false)
}

// Once registers a handler that is removed after its first delivery.
func (b *Bus) Once(name string, fn Handler) (unsubscribe func()) {
	return b.subscribe(name, fn, true)
}

func (b *Bus) subscribe(name string, fn Handler, once bool) func() {
	sub := &subscriber{id: b.seq.Add(1), fn: fn, once: once}

	b.mu.Lock()
	b.subs[name] = append(b.subs[name], sub)
	b.mu.Unlock()

	var unsubOnce sync.Once
	return func() {
		unsubOnce.Do(func() { b.remove(name, sub.id) })
	}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[name]
	for i, s := range list {
		if s.id == id {
			b.subs[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

// UnsubscribeAll removes every handler for the given names, or every handler
// on the bus when called with no arguments.
func (b *Bus) UnsubscribeAll(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		b.subs = map[string][]*subscriber{}
		return
	}
	for _, n := range names {
		delete(b.subs, n)
	}
}

// Publish delivers the event synchronously to all current subscribers of name
// before returning. Publishing with zero subscribers is a no-op.
func (b *Bus) Publish(name string, data map[string]any) {
	b.dispatch(b.makeEvent(name, data, ""))
}

// PublishFrom is Publish with an explicit source tag.
func (b *Bus) PublishFrom(source, name string, data map[string]any) {
	b.dispatch(b.makeEvent(name, data, source))
}

// PublishAsync enqueues the event for the background delivery loop. If async
// mode is not enabled, or the queue is full, delivery falls back to
// synchronous dispatch so events are never silently lost.
func (b *Bus) PublishAsync(name string, data map[string]any) {
	e := b.makeEvent(name, data, "")

	b.asyncMu.Lock()
	q := b.queue
	b.asyncMu.Unlock()

	if q == nil {
		b.dispatch(e)
		return
	}
	select {
	case q <- e:
	default:
		b.log.Warn("event queue full; delivering inline", logx.String("event", name))
		b.dispatch(e)
	}
}

func (b *Bus) makeEvent(name string, data map[string]any, source string) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Name: name, Data: data, Time: time.Now(), Source: source}
}

func (b *Bus) dispatch(e Event) {
	// Snapshot so handlers can subscribe/unsubscribe without deadlocking.
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[e.Name]...)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.once {
			if !s.fired.CompareAndSwap(false, true) {
				continue
			}
			b.remove(e.Name, s.id)
		}
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s *subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in event handler",
				logx.String("event", e.Name),
				logx.Any("panic", r),
				logx.Stack(logx.StackTrace(3, 12)))
		}
	}()
	s.fn(e)
}

// EnableAsync starts the background delivery loop. Calling it while already
// enabled is a no-op.
func (b *Bus) EnableAsync() {
	b.asyncMu.Lock()
	defer b.asyncMu.Unlock()
	if b.queue != nil {
		return
	}
	b.queue = make(chan Event, defaultAsyncQueue)
	b.stopCh = make(chan struct{})
	b.stopDone = make(chan struct{})

	queue := b.queue
	stopCh := b.stopCh
	stopDone := b.stopDone
	go func() {
		defer close(stopDone)
		for {
			select {
			case <-stopCh:
				// Drain what is already queued so DisableAsync doesn't drop
				// events that were accepted before the stop.
				for {
					select {
					case e := <-queue:
						b.dispatch(e)
					default:
						return
					}
				}
			case e := <-queue:
				b.dispatch(e)
			}
		}
	}()
	b.log.Debug("async event delivery enabled", logx.Int("queue_cap", cap(queue)))
}

// DisableAsync stops the delivery loop, waiting (bounded) for queued events to
// drain. Subsequent PublishAsync calls deliver inline.
func (b *Bus) DisableAsync() {
	b.asyncMu.Lock()
	if b.queue == nil {
		b.asyncMu.Unlock()
		return
	}
	stopCh := b.stopCh
	stopDone := b.stopDone
	b.queue = nil
	b.stopCh = nil
	b.stopDone = nil
	b.asyncMu.Unlock()

	close(stopCh)
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		b.log.Warn("async event loop did not drain in time")
	}
}

// SubscriberCount returns the number of handlers for name, or the total
// across all events when name is empty.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name != "" {
		return len(b.subs[name])
	}
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	return n
}

// SubscribedEvents returns the names that currently have subscribers.
func (b *Bus) SubscribedEvents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subs))
	for n := range b.subs {
		names = append(names, n)
	}
	return names
}

// Clear removes every subscription. Intended for test isolation.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = map[string][]*subscriber{}
	b.mu.Unlock()
}
