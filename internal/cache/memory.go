package cache

import (
	"container/list"
	"sync"
	"time"
)

type memEntry struct {
	key       string
	value     any
	createdAt time.Time
	expiresAt time.Time // zero means no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is the fast tier: a bounded store with least-recently-used eviction.
// Both reads and writes count as a touch. Expiry is checked lazily on access.
type Memory struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	// order keeps most-recently-used at the front; eviction pops the back.
	order *list.List
}

func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Memory{
		maxSize: maxSize,
		entries: map[string]*list.Element{},
		order:   list.New(),
	}
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el := m.entries[key]
	if el == nil {
		return nil, false
	}
	e := el.Value.(*memEntry)
	if e.expired(time.Now()) {
		m.removeLocked(key, el)
		return nil, false
	}
	m.order.MoveToFront(el)
	return e.value, true
}

func (m *Memory) Set(key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el := m.entries[key]; el != nil {
		e := el.Value.(*memEntry)
		e.value = value
		e.createdAt = time.Now()
		e.expiresAt = expiresAt
		m.order.MoveToFront(el)
		return
	}

	for len(m.entries) >= m.maxSize {
		m.evictLocked()
	}
	e := &memEntry{key: key, value: value, createdAt: time.Now(), expiresAt: expiresAt}
	m.entries[key] = m.order.PushFront(e)
}

func (m *Memory) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	el := m.entries[key]
	if el == nil {
		return false
	}
	m.removeLocked(key, el)
	return true
}

func (m *Memory) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	el := m.entries[key]
	if el == nil {
		return false
	}
	if el.Value.(*memEntry).expired(time.Now()) {
		m.removeLocked(key, el)
		return false
	}
	return true
}

func (m *Memory) Clear() {
	m.mu.Lock()
	m.entries = map[string]*list.Element{}
	m.order.Init()
	m.mu.Unlock()
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) evictLocked() {
	back := m.order.Back()
	if back == nil {
		return
	}
	m.removeLocked(back.Value.(*memEntry).key, back)
}

func (m *Memory) removeLocked(key string, el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, key)
}
