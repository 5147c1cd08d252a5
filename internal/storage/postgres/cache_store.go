package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

const (
	upsertCacheSQL = `INSERT INTO cache_entries (platform, content_type, key, payload, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (platform, content_type, key) DO UPDATE SET
    payload = EXCLUDED.payload,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at`
	deleteCacheSQL         = `DELETE FROM cache_entries WHERE platform = $1 AND content_type = $2 AND key = $3`
	deleteCachePlatformSQL = `DELETE FROM cache_entries WHERE platform = $1`
	deleteCacheAllSQL      = `DELETE FROM cache_entries`
	deleteCacheExpiredSQL  = `DELETE FROM cache_entries WHERE expires_at <= $1`
	loadFreshCacheSQL      = `SELECT platform, content_type, key, payload, created_at, expires_at
FROM cache_entries WHERE expires_at > $1 ORDER BY platform, content_type, key`
)

// CacheStore mirrors the in-memory cache into Postgres.
type CacheStore struct {
	db DB
}

// NewCacheStore returns a CacheStore backed by db.
func NewCacheStore(db DB) *CacheStore {
	return &CacheStore{db: db}
}

// Upsert writes entry, replacing any previous payload under the same key.
func (s *CacheStore) Upsert(ctx context.Context, entry poller.CacheEntry) error {
	k := entry.Key
	payload := entry.Payload
	if payload == nil {
		payload = []byte{}
	}
	if _, err := s.db.Exec(ctx, upsertCacheSQL,
		string(k.Platform), k.ContentType, k.Key, payload, entry.CreatedAt, entry.ExpiresAt,
	); err != nil {
		return fmt.Errorf("upsert cache entry %s: %w", k, err)
	}
	return nil
}

// Delete removes one entry.
func (s *CacheStore) Delete(ctx context.Context, key poller.CacheKey) error {
	if _, err := s.db.Exec(ctx, deleteCacheSQL, string(key.Platform), key.ContentType, key.Key); err != nil {
		return fmt.Errorf("delete cache entry %s: %w", key, err)
	}
	return nil
}

// DeletePlatform removes every entry for platform.
func (s *CacheStore) DeletePlatform(ctx context.Context, platform poller.Platform) error {
	if _, err := s.db.Exec(ctx, deleteCachePlatformSQL, string(platform)); err != nil {
		return fmt.Errorf("delete cache entries for %s: %w", platform, err)
	}
	return nil
}

// DeleteAll empties the table.
func (s *CacheStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, deleteCacheAllSQL); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	return nil
}

// DeleteExpired removes entries that expired at or before now.
func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteCacheExpiredSQL, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LoadFresh returns entries still valid at now.
func (s *CacheStore) LoadFresh(ctx context.Context, now time.Time) ([]poller.CacheEntry, error) {
	rows, err := s.db.Query(ctx, loadFreshCacheSQL, now)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	var out []poller.CacheEntry
	for rows.Next() {
		var (
			e        poller.CacheEntry
			platform string
		)
		if err := rows.Scan(&platform, &e.Key.ContentType, &e.Key.Key, &e.Payload, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		e.Key.Platform = poller.Platform(platform)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return out, nil
}
