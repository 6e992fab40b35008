package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// CacheStore is the SQLite response-cache backend. Atomicity comes from the
// primary key on query_hash, never from application locks.
type CacheStore struct {
	db *DB
}

// NewCacheStore creates a cache store using the given database.
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db}
}

// Put stores an entry unless a live entry already owns the key. An expired
// entry is replaced in the same statement. Reports whether this call wrote.
func (s *CacheStore) Put(ctx context.Context, e domain.CacheEntry, now time.Time) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO response_cache (query_hash, query_text, response, intent, hit_count, created_at, expires_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(query_hash) DO UPDATE SET
		   query_text = excluded.query_text,
		   response = excluded.response,
		   intent = excluded.intent,
		   hit_count = 0,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at
		 WHERE response_cache.expires_at IS NOT NULL AND response_cache.expires_at <= ?`,
		e.Key, e.QueryText, e.Response, string(e.Intent), formatTime(e.CreatedAt), nullTime(e.ExpiresAt), formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("storing cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Hit increments the hit counter of a live entry and returns it. Missing or
// expired entries report domain.ErrNotFound.
func (s *CacheStore) Hit(ctx context.Context, key string, now time.Time) (*domain.CacheEntry, error) {
	var (
		e                 domain.CacheEntry
		intent, createdAt string
		expiresAt         sql.NullString
	)
	err := s.db.sql.QueryRowContext(ctx,
		`UPDATE response_cache SET hit_count = hit_count + 1
		 WHERE query_hash = ? AND (expires_at IS NULL OR expires_at > ?)
		 RETURNING query_hash, query_text, response, intent, hit_count, created_at, expires_at`,
		key, formatTime(now),
	).Scan(&e.Key, &e.QueryText, &e.Response, &intent, &e.HitCount, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	e.Intent = domain.Intent(intent)
	e.CreatedAt = parseTime(createdAt)
	e.ExpiresAt = timePtr(expiresAt)
	return &e, nil
}

// Purge deletes entries that expired before now and reports how many.
func (s *CacheStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM response_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries, expired ones included.
func (s *CacheStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM response_cache`).Scan(&n)
	return n, err
}
