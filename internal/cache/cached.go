package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cached wraps fn with two-tier memoization keyed on its string argument.
// Results must be JSON-serializable, since a durable-tier hit round-trips
// through JSON to recover the typed value.
//
// This replaces attribute-style caching registries with an explicit wrapper:
// callers construct the cached variant once and hold it.
func Cached[V any](c *Tiered, prefix string, ttl time.Duration, fn func(ctx context.Context, arg string) (V, error)) func(ctx context.Context, arg string) (V, error) {
	return func(ctx context.Context, arg string) (V, error) {
		var zero V
		key := Key(prefix, arg)

		if raw, ok := c.Get(key); ok {
			if v, err := decode[V](raw); err == nil {
				return v, nil
			}
			// Undecodable cached value: drop it and fall through to fn.
			c.Delete(key)
		}

		v, err := fn(ctx, arg)
		if err != nil {
			return zero, err
		}
		c.Set(key, v, ttl)
		return v, nil
	}
}

// decode recovers a typed value from whatever shape the tier returned: the
// original value on a memory hit, or generic JSON types on a durable hit.
func decode[V any](raw any) (V, error) {
	var zero V
	if v, ok := raw.(V); ok {
		return v, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return zero, err
	}
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, err
	}
	return v, nil
}
