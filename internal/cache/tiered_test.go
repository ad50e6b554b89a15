package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fetchd/pkg/logx"
)

func openTestTiered(t *testing.T, opt Options) *Tiered {
	t.Helper()
	store := openTestStore(t, "tiered")
	return NewTiered("tiered", store, opt, logx.Nop())
}

func TestTieredMemoryFirst(t *testing.T) {
	t.Parallel()
	c := openTestTiered(t, Options{MemorySize: 10})

	c.Set("k", "v", 0)
	if !c.mem.Exists("k") {
		t.Fatal("Set did not populate the memory tier")
	}
	if !c.store.Exists("k") {
		t.Fatal("Set did not populate the durable tier")
	}
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get = %v, %v", got, ok)
	}
}

func TestTieredBackfillOnDurableHit(t *testing.T) {
	t.Parallel()
	c := openTestTiered(t, Options{MemorySize: 10})

	c.Set("k", "v", 0)
	c.mem.Clear()

	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("durable hit = %v, %v", got, ok)
	}
	if !c.mem.Exists("k") {
		t.Fatal("durable hit did not backfill the memory tier")
	}
}

func TestTieredDefaultTTL(t *testing.T) {
	t.Parallel()
	c := openTestTiered(t, Options{MemorySize: 10, DefaultTTL: 30 * time.Millisecond})

	c.Set("k", "v", 0)
	time.Sleep(70 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry outlived the default ttl")
	}
}

func TestTieredDeleteAndClear(t *testing.T) {
	t.Parallel()
	c := openTestTiered(t, Options{MemorySize: 10})

	c.Set("k", "v", 0)
	if !c.Delete("k") {
		t.Fatal("Delete returned false for an existing key")
	}
	if c.Exists("k") {
		t.Fatal("entry survived Delete")
	}

	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Clear()
	if c.Exists("a") || c.Exists("b") {
		t.Fatal("entries survived Clear")
	}
}

func TestTieredGetOrSet(t *testing.T) {
	t.Parallel()
	c := openTestTiered(t, Options{MemorySize: 10})

	calls := 0
	factory := func() (any, error) {
		calls++
		return "built", nil
	}

	got, err := c.GetOrSet("k", factory, 0)
	if err != nil || got != "built" {
		t.Fatalf("GetOrSet = %v, %v", got, err)
	}
	got, err = c.GetOrSet("k", factory, 0)
	if err != nil || got != "built" {
		t.Fatalf("second GetOrSet = %v, %v", got, err)
	}
	if calls != 1 {
		t.Fatalf("factory calls = %d, want 1", calls)
	}

	_, err = c.GetOrSet("bad", func() (any, error) { return nil, errors.New("boom") }, 0)
	if err == nil {
		t.Fatal("factory error swallowed")
	}
	if c.Exists("bad") {
		t.Fatal("failed factory result cached")
	}
}

func TestTieredSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	first, err := OpenStore(path, "persist", logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	c1 := NewTiered("persist", first, Options{MemorySize: 10}, logx.Nop())
	c1.Set("k", "survives", 0)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := OpenStore(path, "persist", logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	c2 := NewTiered("persist", second, Options{MemorySize: 10}, logx.Nop())
	got, ok := c2.Get("k")
	if !ok || got != "survives" {
		t.Fatalf("after reopen Get = %v, %v", got, ok)
	}
}

func TestKeyDeterministic(t *testing.T) {
	t.Parallel()
	a := Key("video_info", "https://example.com/v", true)
	b := Key("video_info", "https://example.com/v", true)
	if a != b {
		t.Fatalf("same parts produced %q and %q", a, b)
	}
	if a == Key("video_info", "https://example.com/other", true) {
		t.Fatal("different parts collided")
	}
	if a == Key("format", "https://example.com/v", true) {
		t.Fatal("prefix not part of the key")
	}
}

func TestCachedMemoizes(t *testing.T) {
	t.Parallel()
	c := openTestTiered(t, Options{MemorySize: 10})

	calls := 0
	fetch := Cached(c, "title", 0, func(ctx context.Context, url string) (string, error) {
		calls++
		return "Title of " + url, nil
	})

	ctx := context.Background()
	got, err := fetch(ctx, "u1")
	if err != nil || got != "Title of u1" {
		t.Fatalf("fetch = %q, %v", got, err)
	}
	if got, _ = fetch(ctx, "u1"); got != "Title of u1" {
		t.Fatalf("memoized fetch = %q", got)
	}
	if calls != 1 {
		t.Fatalf("fn calls = %d, want 1", calls)
	}

	// A durable hit decodes back to the declared type after the memory tier
	// is dropped.
	c.mem.Clear()
	if got, err = fetch(ctx, "u1"); err != nil || got != "Title of u1" {
		t.Fatalf("durable fetch = %q, %v", got, err)
	}
	if calls != 1 {
		t.Fatalf("fn calls after durable hit = %d, want 1", calls)
	}
}
