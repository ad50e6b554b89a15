// Package history keeps a durable record of finished downloads. It learns
// about them the same way every other component does: by subscribing to the
// event bus, so the scheduler never knows it exists.
package history

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"fetchd/pkg/logx"
)

// Record is one finished (or failed) download.
type Record struct {
	ID           string
	URL          string
	Title        string
	FilePath     string
	Format       string
	Size         int64
	Duration     int64 // seconds
	Uploader     string
	Status       string
	ErrorMessage string
	DownloadedAt time.Time
	CreatedAt    time.Time
}

// SizeString renders Size for display ("12 MB"), or "unknown" when absent.
func (r Record) SizeString() string {
	if r.Size <= 0 {
		return "unknown"
	}
	return humanize.Bytes(uint64(r.Size))
}

// FileExists reports whether the downloaded file is still on disk.
func (r Record) FileExists() bool {
	if r.FilePath == "" {
		return false
	}
	_, err := os.Stat(r.FilePath)
	return err == nil
}

// Store persists records in sqlite.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(path string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id            TEXT PRIMARY KEY,
			url           TEXT NOT NULL,
			title         TEXT NOT NULL,
			file_path     TEXT,
			format        TEXT,
			size          INTEGER DEFAULT 0,
			duration      INTEGER DEFAULT 0,
			uploader      TEXT,
			status        TEXT DEFAULT 'completed',
			err           TEXT,
			downloaded_at TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_downloaded ON history(downloaded_at);
		CREATE INDEX IF NOT EXISTS idx_history_url ON history(url);
	`)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add inserts the record, assigning an id and timestamps when missing.
func (s *Store) Add(r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	if r.DownloadedAt.IsZero() {
		r.DownloadedAt = now
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Status == "" {
		r.Status = "completed"
	}

	_, err := s.db.Exec(`
		INSERT INTO history(id, url, title, file_path, format, size, duration, uploader, status, err, downloaded_at, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.URL, r.Title, r.FilePath, r.Format, r.Size, r.Duration, r.Uploader,
		r.Status, nullStr(r.ErrorMessage),
		r.DownloadedAt.Format(time.RFC3339Nano), r.CreatedAt.Format(time.RFC3339Nano),
	)
	return r, err
}

// List returns records newest-first.
func (s *Store) List(limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, url, title, file_path, format, size, duration, uploader, status, err, downloaded_at, created_at
		 FROM history ORDER BY downloaded_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Search does a substring match over url, title, and uploader.
func (s *Store) Search(query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	pat := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.Query(
		`SELECT id, url, title, file_path, format, size, duration, uploader, status, err, downloaded_at, created_at
		 FROM history
		 WHERE url LIKE ? OR title LIKE ? OR uploader LIKE ?
		 ORDER BY downloaded_at DESC LIMIT ?`, pat, pat, pat, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) Get(id string) (Record, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, url, title, file_path, format, size, duration, uploader, status, err, downloaded_at, created_at
		 FROM history WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func (s *Store) Delete(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM history`)
	return err
}

// Prune removes records downloaded before the cutoff and returns the count.
func (s *Store) Prune(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.db.Exec(`DELETE FROM history WHERE downloaded_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns record counts keyed by status.
func (s *Store) Stats() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM history GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var errMsg sql.NullString
	var downloadedAt, createdAt string
	err := row.Scan(&r.ID, &r.URL, &r.Title, &r.FilePath, &r.Format, &r.Size, &r.Duration,
		&r.Uploader, &r.Status, &errMsg, &downloadedAt, &createdAt)
	if err != nil {
		return Record{}, err
	}
	r.ErrorMessage = errMsg.String
	r.DownloadedAt, _ = time.Parse(time.RFC3339Nano, downloadedAt)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
