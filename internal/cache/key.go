package cache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// Key builds a stable cache key from a prefix and the identifying parameters
// of a request. Parts are canonicalized through JSON so field order and
// formatting cannot change the key.
func Key(prefix string, parts ...any) string {
	b, err := json.Marshal(parts)
	if err != nil {
		// Fall back to the formatted value; less stable but never fails.
		b = []byte(fmt.Sprint(parts...))
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf("%s:%016x", prefix, h.Sum64())
}
