package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fetchd/pkg/logx"
)

// Store is the durable tier: one key/value table per namespace with a
// nullable expiry column. All failures degrade to miss/no-op after logging so
// callers never see storage errors (the memory tier keeps the cache usable).
type Store struct {
	db    *sql.DB
	log   logx.Logger
	table string
}

// OpenStore opens (or creates) the sqlite-backed tier for one namespace.
// Namespaces map to tables, so independent caches can share a database file.
func OpenStore(path, namespace string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache db path is required")
	}
	table, err := tableName(namespace)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &Store{db: db, log: log, table: table}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func tableName(namespace string) (string, error) {
	ns := strings.ToLower(strings.TrimSpace(namespace))
	if ns == "" {
		ns = "default"
	}
	for _, r := range ns {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return "", fmt.Errorf("invalid cache namespace %q", namespace)
		}
	}
	return "cache_" + ns, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at INTEGER,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_expires ON %[1]s(expires_at);
	`, s.table))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored value, or a miss when absent, expired, broken, or
// the read fails. Expired rows are deleted on the way out.
func (s *Store) Get(key string) (any, bool) {
	if s == nil || s.db == nil {
		return nil, false
	}
	var raw string
	var expiresAt sql.NullInt64
	err := s.db.QueryRow(
		fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = ?`, s.table), key,
	).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.log.Warn("cache read failed", logx.String("table", s.table), logx.Err(err))
		return nil, false
	}
	if expiresAt.Valid && time.Now().UnixMilli() > expiresAt.Int64 {
		_ = s.Delete(key)
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		s.log.Warn("cache entry corrupt; dropping", logx.String("table", s.table), logx.String("key", key), logx.Err(err))
		_ = s.Delete(key)
		return nil, false
	}
	return v, true
}

// Set upserts the value. ttl <= 0 stores the entry without expiry.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if s == nil || s.db == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Warn("cache value not serializable", logx.String("table", s.table), logx.String("key", key), logx.Err(err))
		return
	}
	now := time.Now().Format(time.RFC3339Nano)
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}
	_, err = s.db.Exec(fmt.Sprintf(`
		INSERT INTO %s(key, value, created_at, expires_at, updated_at) VALUES(?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at, updated_at=excluded.updated_at`,
		s.table),
		key, string(raw), now, expiresAt, now,
	)
	if err != nil {
		s.log.Warn("cache write failed", logx.String("table", s.table), logx.Err(err))
	}
}

func (s *Store) Delete(key string) bool {
	if s == nil || s.db == nil {
		return false
	}
	res, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.table), key)
	if err != nil {
		s.log.Warn("cache delete failed", logx.String("table", s.table), logx.Err(err))
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

func (s *Store) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Store) Clear() {
	if s == nil || s.db == nil {
		return
	}
	if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		s.log.Warn("cache clear failed", logx.String("table", s.table), logx.Err(err))
	}
}

// CleanupExpired bulk-deletes every row whose expiry has passed and returns
// the number removed.
func (s *Store) CleanupExpired() int {
	if s == nil || s.db == nil {
		return 0
	}
	res, err := s.db.Exec(
		fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < ?`, s.table),
		time.Now().UnixMilli(),
	)
	if err != nil {
		s.log.Warn("cache cleanup failed", logx.String("table", s.table), logx.Err(err))
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

func (s *Store) Len() int {
	if s == nil || s.db == nil {
		return 0
	}
	var n int
	if err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0
	}
	return n
}
