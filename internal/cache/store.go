// Package cache keeps recently fetched platform payloads with a TTL so
// schedules whose content is still fresh skip the upstream call.
package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/telemetry"
)

const stripeCount = 64

// Stats summarizes cache usage.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Store is a concurrent TTL cache. Reads never block; writes to the same
// key are serialized through striped mutexes.
type Store struct {
	clock     poller.Clock
	persister poller.CachePersister
	logger    *zap.Logger

	entries sync.Map // string -> *poller.CacheEntry
	stripes [stripeCount]sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a Store. persister may be nil.
func New(clock poller.Clock, persister poller.CachePersister, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		clock:     clock,
		persister: persister,
		logger:    logger.Named("cache"),
	}
}

func (s *Store) stripe(k string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return &s.stripes[h.Sum32()%stripeCount]
}

// Get returns a fresh entry. Expired entries are evicted on read.
func (s *Store) Get(key poller.CacheKey) (poller.CacheEntry, bool) {
	k := key.String()
	v, ok := s.entries.Load(k)
	if !ok {
		s.miss()
		return poller.CacheEntry{}, false
	}
	entry := v.(*poller.CacheEntry)
	if !entry.Fresh(s.clock.Now()) {
		s.entries.CompareAndDelete(k, v)
		s.miss()
		return poller.CacheEntry{}, false
	}
	s.hits.Add(1)
	telemetry.ObserveCacheLookup(true)
	return *entry, true
}

// Fresh reports whether key holds an unexpired entry.
func (s *Store) Fresh(key poller.CacheKey) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Store) miss() {
	s.misses.Add(1)
	telemetry.ObserveCacheLookup(false)
}

// Set stores payload under key for ttl. A non-positive ttl means "do not
// cache" and the write is dropped.
func (s *Store) Set(ctx context.Context, key poller.CacheKey, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := s.clock.Now()
	entry := &poller.CacheEntry{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	k := key.String()
	mu := s.stripe(k)
	mu.Lock()
	defer mu.Unlock()
	s.entries.Store(k, entry)
	if s.persister != nil {
		if err := s.persister.Upsert(ctx, *entry); err != nil {
			s.logger.Warn("cache write-through failed", zap.String("key", k), zap.Error(err))
			return fmt.Errorf("persist cache entry: %w", err)
		}
	}
	return nil
}

// Delete removes one key.
func (s *Store) Delete(ctx context.Context, key poller.CacheKey) error {
	k := key.String()
	mu := s.stripe(k)
	mu.Lock()
	defer mu.Unlock()
	s.entries.Delete(k)
	if s.persister != nil {
		if err := s.persister.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete persisted cache entry: %w", err)
		}
	}
	return nil
}

// ClearPlatform removes every entry for platform and returns how many were dropped.
func (s *Store) ClearPlatform(ctx context.Context, platform poller.Platform) (int, error) {
	n := s.removeWhere(func(e *poller.CacheEntry) bool { return e.Key.Platform == platform })
	if s.persister != nil {
		if err := s.persister.DeletePlatform(ctx, platform); err != nil {
			return n, fmt.Errorf("clear persisted platform cache: %w", err)
		}
	}
	s.logger.Info("cleared platform cache", zap.String("platform", string(platform)), zap.Int("entries", n))
	return n, nil
}

// ClearAll empties the cache.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	n := s.removeWhere(func(*poller.CacheEntry) bool { return true })
	if s.persister != nil {
		if err := s.persister.DeleteAll(ctx); err != nil {
			return n, fmt.Errorf("clear persisted cache: %w", err)
		}
	}
	s.logger.Info("cleared cache", zap.Int("entries", n))
	return n, nil
}

// CleanupExpired evicts every expired entry and returns the count.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	n := s.removeWhere(func(e *poller.CacheEntry) bool { return !e.Fresh(now) })
	telemetry.ObserveCacheEvictions(n)
	if s.persister != nil {
		if _, err := s.persister.DeleteExpired(ctx, now); err != nil {
			return n, fmt.Errorf("cleanup persisted cache: %w", err)
		}
	}
	return n, nil
}

func (s *Store) removeWhere(match func(*poller.CacheEntry) bool) int {
	removed := 0
	s.entries.Range(func(k, v any) bool {
		entry := v.(*poller.CacheEntry)
		if !match(entry) {
			return true
		}
		mu := s.stripe(k.(string))
		mu.Lock()
		if s.entries.CompareAndDelete(k, v) {
			removed++
		}
		mu.Unlock()
		return true
	})
	return removed
}

// Warm loads unexpired entries from the persister. Existing keys win.
func (s *Store) Warm(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	entries, err := s.persister.LoadFresh(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("load persisted cache: %w", err)
	}
	loaded := 0
	for i := range entries {
		entry := entries[i]
		if _, existed := s.entries.LoadOrStore(entry.Key.String(), &entry); !existed {
			loaded++
		}
	}
	s.logger.Info("warmed cache", zap.Int("entries", loaded))
	return loaded, nil
}

// Stats reports entry count and hit ratio.
func (s *Store) Stats() Stats {
	n := 0
	s.entries.Range(func(any, any) bool {
		n++
		return true
	})
	hits, misses := s.hits.Load(), s.misses.Load()
	st := Stats{Entries: n, Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}
