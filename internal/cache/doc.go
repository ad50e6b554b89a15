// Package cache memoizes expensive lookups across two tiers: a bounded
// in-memory LRU and a durable sqlite store with expiry. Each namespace gets
// its own tiered instance, constructed by the composition root and injected
// where needed.
//
// Storage failures in the durable tier degrade to cache misses, never errors:
// the memory tier keeps working standalone.
package cache
