package cache

import (
	"path/filepath"
	"testing"
	"time"

	"fetchd/pkg/logx"
)

func openTestStore(t *testing.T, namespace string) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"), namespace, logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "video_info")

	if _, ok := s.Get("missing"); ok {
		t.Fatal("hit on an empty store")
	}
	s.Set("k", "value", 0)
	got, ok := s.Get("k")
	if !ok || got != "value" {
		t.Fatalf("Get = %v, %v", got, ok)
	}

	s.Set("k", "updated", 0)
	if got, _ := s.Get("k"); got != "updated" {
		t.Fatalf("after upsert Get = %v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestStoreExpiry(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "format")

	s.Set("short", "v", 20*time.Millisecond)
	s.Set("keep", "v", time.Hour)
	time.Sleep(50 * time.Millisecond)

	if _, ok := s.Get("short"); ok {
		t.Fatal("expired entry still served")
	}
	if !s.Exists("keep") {
		t.Fatal("unexpired entry dropped")
	}
}

func TestStoreCleanupExpired(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "version")

	s.Set("old", "v", 10*time.Millisecond)
	s.Set("live", "v", time.Hour)
	s.Set("eternal", "v", 0)
	time.Sleep(40 * time.Millisecond)

	if n := s.CleanupExpired(); n != 1 {
		t.Fatalf("CleanupExpired = %d, want 1", n)
	}
	if !s.Exists("live") || !s.Exists("eternal") {
		t.Fatal("cleanup removed a live entry")
	}
}

func TestStoreDeleteClear(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "misc")

	s.Set("a", "1", 0)
	if !s.Delete("a") {
		t.Fatal("Delete returned false for an existing key")
	}
	if s.Delete("a") {
		t.Fatal("Delete returned true for a missing key")
	}

	s.Set("x", "1", 0)
	s.Set("y", "2", 0)
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len after Clear = %d", s.Len())
	}
}

func TestStoreNamespaceIsolation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	a, err := OpenStore(path, "alpha", logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore alpha: %v", err)
	}
	defer a.Close()
	b, err := OpenStore(path, "beta", logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore beta: %v", err)
	}
	defer b.Close()

	a.Set("k", "from-alpha", 0)
	if b.Exists("k") {
		t.Fatal("namespaces share entries")
	}
}

func TestTableNameRejectsInvalidNamespace(t *testing.T) {
	t.Parallel()
	if _, err := tableName("drop table; --"); err == nil {
		t.Fatal("invalid namespace accepted")
	}
	got, err := tableName("video_info")
	if err != nil {
		t.Fatalf("tableName: %v", err)
	}
	if got != "cache_video_info" {
		t.Fatalf("tableName = %q", got)
	}
}
