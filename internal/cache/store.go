// Package cache implements the persistent result store on embedded SQLite.
// Entries carry an absolute expiry; a read past expiry is a miss, never stale
// data. Writes are last-writer-wins on the same key.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/revradar/retrieval-engine/internal/clock"
	"github.com/revradar/retrieval-engine/internal/metrics"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS entries (
    key        TEXT PRIMARY KEY,
    content    BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires_at);
`

// Store is a TTL'd key→content store backed by a local SQLite file, so cached
// results survive process restarts. Safe for concurrent readers and writers;
// callers need no external lock.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	clk clock.Clock
}

// Open opens or creates the store at path with the given default positive TTL.
func Open(path string, positiveTTL time.Duration, clk clock.Clock) (*Store, error) {
	if positiveTTL <= 0 {
		return nil, fmt.Errorf("cache: positive TTL must be > 0")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &Store{db: db, ttl: positiveTTL, clk: clk}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the content for key, or ok=false on miss or expiry. Expired
// rows are deleted opportunistically on read.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		content   []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content, expires_at FROM entries WHERE key = ?`, key,
	).Scan(&content, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if s.clk.Now().Unix() >= expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ? AND expires_at = ?`, key, expiresAt)
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}
	metrics.CacheHits.Inc()
	return content, true, nil
}

// Put stores content under key with the store's default positive TTL,
// overwriting any existing entry.
func (s *Store) Put(ctx context.Context, key string, content []byte) error {
	return s.PutWithTTL(ctx, key, content, s.ttl)
}

// PutWithTTL stores content under key with an explicit TTL. Callers layering
// short-lived negative entries use this with their own window.
func (s *Store) PutWithTTL(ctx context.Context, key string, content []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache put: ttl must be > 0")
	}
	now := s.clk.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (key, content, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET content = excluded.content,
		 created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, content, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// PurgeExpired removes all expired rows and returns how many were deleted.
// Maintenance only; Get never returns expired data regardless.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE expires_at <= ?`, s.clk.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache purge count: %w", err)
	}
	return n, nil
}
