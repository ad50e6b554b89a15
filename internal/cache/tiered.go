package cache

import (
	"time"

	"fetchd/pkg/logx"
)

// Tiered composes the memory and sqlite tiers under the uniform cache
// contract. Reads check memory first and backfill it on a durable hit; writes
// and deletes hit both tiers synchronously.
//
// The two tiers guard their own storage independently; there is no lock
// spanning both, so a racing get/set between tiers can at worst cost one
// extra factory call or a one-cycle staleness, never corruption.
type Tiered struct {
	name       string
	defaultTTL time.Duration
	mem        *Memory
	store      *Store
	log        logx.Logger
}

// Options configures one cache namespace.
type Options struct {
	// MemorySize bounds the fast tier (entries).
	MemorySize int
	// DefaultTTL applies when Set/GetOrSet receive ttl == 0. Zero means no
	// expiry.
	DefaultTTL time.Duration
}

func NewTiered(name string, store *Store, opt Options, log logx.Logger) *Tiered {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tiered{
		name:       name,
		defaultTTL: opt.DefaultTTL,
		mem:        NewMemory(opt.MemorySize),
		store:      store,
		log:        log.With(logx.String("cache", name)),
	}
}

func (c *Tiered) Name() string { return c.name }

func (c *Tiered) Get(key string) (any, bool) {
	if v, ok := c.mem.Get(key); ok {
		return v, true
	}
	if v, ok := c.store.Get(key); ok {
		// Write-through-on-read so the next lookup stays in memory.
		c.mem.Set(key, v, c.defaultTTL)
		return v, true
	}
	return nil, false
}

// Set writes to both tiers. ttl == 0 applies the namespace default.
func (c *Tiered) Set(key string, value any, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.mem.Set(key, value, ttl)
	c.store.Set(key, value, ttl)
}

// Delete removes the key from both tiers, reporting true if either had it.
func (c *Tiered) Delete(key string) bool {
	m := c.mem.Delete(key)
	s := c.store.Delete(key)
	return m || s
}

func (c *Tiered) Exists(key string) bool {
	return c.mem.Exists(key) || c.store.Exists(key)
}

func (c *Tiered) Clear() {
	c.mem.Clear()
	c.store.Clear()
}

// Cleanup proactively removes expired rows from the durable tier.
func (c *Tiered) Cleanup() int {
	n := c.store.CleanupExpired()
	if n > 0 {
		c.log.Debug("expired cache entries removed", logx.Int("count", n))
	}
	return n
}

// GetOrSet returns the cached value, or calls factory, stores its non-nil
// result in both tiers, and returns it.
//
// Two concurrent callers missing on the same key may both invoke factory
// (no single-flight); factories must be idempotent.
func (c *Tiered) GetOrSet(key string, factory func() (any, error), ttl time.Duration) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := factory()
	if err != nil {
		return nil, err
	}
	if v != nil {
		c.Set(key, v, ttl)
	}
	return v, nil
}
