package history

import (
	"path/filepath"
	"testing"
	"time"

	"fetchd/internal/eventbus"
	"fetchd/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	added, err := s.Add(Record{
		URL:      "https://example.com/v1",
		Title:    "First",
		FilePath: "/downloads/first.mp4",
		Format:   "bestvideo+bestaudio",
		Size:     12 << 20,
		Uploader: "someone",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" {
		t.Fatal("Add did not assign an id")
	}
	if added.Status != "completed" {
		t.Fatalf("default status = %q", added.Status)
	}

	got, ok, err := s.Get(added.ID)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Title != "First" || got.Size != 12<<20 {
		t.Fatalf("Get returned %+v", got)
	}
	if got.DownloadedAt.IsZero() {
		t.Fatal("DownloadedAt not persisted")
	}

	if _, ok, err := s.Get("nope"); err != nil || ok {
		t.Fatalf("Get for unknown id = %v, %v", ok, err)
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, title := range []string{"oldest", "middle", "newest"} {
		if _, err := s.Add(Record{
			URL:          "https://example.com/v",
			Title:        title,
			DownloadedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := s.List(10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 || got[0].Title != "newest" || got[2].Title != "oldest" {
		t.Fatalf("List order: %+v", got)
	}

	got, err = s.List(1, 1)
	if err != nil {
		t.Fatalf("List with offset: %v", err)
	}
	if len(got) != 1 || got[0].Title != "middle" {
		t.Fatalf("List(1,1) = %+v", got)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.Add(Record{URL: "https://example.com/cats", Title: "Cat compilation", Uploader: "alice"})
	s.Add(Record{URL: "https://example.com/dogs", Title: "Dog tricks", Uploader: "bob"})

	got, err := s.Search("cat", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Cat compilation" {
		t.Fatalf("Search(cat) = %+v", got)
	}

	got, _ = s.Search("bob", 10)
	if len(got) != 1 || got[0].Uploader != "bob" {
		t.Fatalf("Search(bob) = %+v", got)
	}
}

func TestDeleteAndClear(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	r, _ := s.Add(Record{URL: "u", Title: "t"})
	ok, err := s.Delete(r.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, err = s.Delete(r.ID)
	if err != nil || ok {
		t.Fatalf("second Delete = %v, %v", ok, err)
	}

	s.Add(Record{URL: "u1", Title: "a"})
	s.Add(Record{URL: "u2", Title: "b"})
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ := s.List(10, 0)
	if len(got) != 0 {
		t.Fatalf("records after Clear: %+v", got)
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.Add(Record{URL: "u1", Title: "ancient", DownloadedAt: time.Now().Add(-48 * time.Hour)})
	s.Add(Record{URL: "u2", Title: "recent"})

	n, err := s.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("Prune = %d, want 1", n)
	}
	got, _ := s.List(10, 0)
	if len(got) != 1 || got[0].Title != "recent" {
		t.Fatalf("after Prune: %+v", got)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.Add(Record{URL: "u1", Title: "a"})
	s.Add(Record{URL: "u2", Title: "b"})
	s.Add(Record{URL: "u3", Title: "c", Status: "failed", ErrorMessage: "network error"})

	got, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got["completed"] != 2 || got["failed"] != 1 {
		t.Fatalf("Stats = %v", got)
	}
}

func TestSizeString(t *testing.T) {
	t.Parallel()
	if got := (Record{}).SizeString(); got != "unknown" {
		t.Fatalf("SizeString for zero size = %q", got)
	}
	if got := (Record{Size: 1024}).SizeString(); got == "unknown" || got == "" {
		t.Fatalf("SizeString(1024) = %q", got)
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	bus := eventbus.New(logx.Nop())
	rec := NewRecorder(s, bus, logx.Nop())
	rec.Attach()

	bus.Publish(eventbus.DownloadCompleted, map[string]any{
		"task_id":   "t1",
		"url":       "https://example.com/v",
		"title":     "A video",
		"file_path": "/downloads/a.mp4",
	})
	bus.Publish(eventbus.DownloadFailed, map[string]any{
		"task_id": "t2",
		"url":     "https://example.com/broken",
		"error":   "format unavailable",
	})

	got, err := s.List(10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	byStatus := map[string]Record{}
	for _, r := range got {
		byStatus[r.Status] = r
	}
	if byStatus["completed"].Title != "A video" || byStatus["completed"].FilePath != "/downloads/a.mp4" {
		t.Fatalf("completed record = %+v", byStatus["completed"])
	}
	if byStatus["failed"].ErrorMessage != "format unavailable" {
		t.Fatalf("failed record = %+v", byStatus["failed"])
	}

	rec.Detach()
	bus.Publish(eventbus.DownloadCompleted, map[string]any{"url": "u", "title": "late"})
	got, _ = s.List(10, 0)
	if len(got) != 2 {
		t.Fatal("record added after Detach")
	}
}
