package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GetCacheEntry returns the entry stored under key in bucket, or ErrNotFound.
func (s *Store) GetCacheEntry(ctx context.Context, bucket, key string) (CacheEntry, error) {
	var e CacheEntry
	var headerJSON, storedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT key, status, header_json, body, stored_at
		FROM cache_entries WHERE bucket = ? AND key = ?`, bucket, key,
	).Scan(&e.Key, &e.Status, &headerJSON, &e.Body, &storedAt)
	if err == sql.ErrNoRows {
		return CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return CacheEntry{}, err
	}
	if err := json.Unmarshal([]byte(headerJSON), &e.Header); err != nil {
		return CacheEntry{}, fmt.Errorf("decoding cached headers for %s: %w", key, err)
	}
	if e.StoredAt, err = time.Parse(time.RFC3339Nano, storedAt); err != nil {
		return CacheEntry{}, fmt.Errorf("parsing stored_at for %s: %w", key, err)
	}
	return e, nil
}

// PutCacheEntry replaces the entry for e.Key in a single statement, so a
// concurrent reader sees either the old or the new entry.
func (s *Store) PutCacheEntry(ctx context.Context, bucket string, e CacheEntry) error {
	if e.Header == nil {
		e.Header = http.Header{}
	}
	headerJSON, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encoding headers for %s: %w", e.Key, err)
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (bucket, key, status, header_json, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			status = excluded.status, header_json = excluded.header_json,
			body = excluded.body, stored_at = excluded.stored_at`,
		bucket, e.Key, e.Status, string(headerJSON), e.Body, storedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) CountCacheEntries(ctx context.Context, bucket string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries WHERE bucket = ?", bucket).Scan(&n)
	return n, err
}

// DeleteCacheBucketsExcept drops every entry that does not belong to keep and
// returns the number of rows removed.
func (s *Store) DeleteCacheBucketsExcept(ctx context.Context, keep string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE bucket <> ?", keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
