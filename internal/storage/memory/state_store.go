package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// QuotaStore keeps the latest ledger state per platform. Saves with a version
// at or below the stored one are ignored.
type QuotaStore struct {
	mu     sync.RWMutex
	states map[poller.Platform]poller.QuotaState
}

// NewQuotaStore returns an empty QuotaStore.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{states: make(map[poller.Platform]poller.QuotaState)}
}

// Load returns the stored state or poller.ErrNotFound.
func (s *QuotaStore) Load(_ context.Context, platform poller.Platform) (poller.QuotaState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[platform]
	if !ok {
		return poller.QuotaState{}, poller.ErrNotFound
	}
	st.Operations = maps.Clone(st.Operations)
	return st, nil
}

// Save stores state if it is newer than what is held.
func (s *QuotaStore) Save(_ context.Context, state poller.QuotaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.states[state.Platform]; ok && state.Version <= cur.Version {
		return nil
	}
	state.Operations = maps.Clone(state.Operations)
	s.states[state.Platform] = state
	return nil
}

// RecordStore keeps effectiveness records in append order.
type RecordStore struct {
	mu      sync.RWMutex
	records []poller.EffectivenessRecord
}

// NewRecordStore returns an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// Append stores rec.
func (s *RecordStore) Append(_ context.Context, rec poller.EffectivenessRecord) error {
	rec.PublishedAt = append([]time.Time(nil), rec.PublishedAt...)
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// LoadSince returns records at or after since, ordered by timestamp.
func (s *RecordStore) LoadSince(_ context.Context, since time.Time) ([]poller.EffectivenessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []poller.EffectivenessRecord
	for _, r := range s.records {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// DeleteBefore drops records older than before and reports how many.
func (s *RecordStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var n int64
	for _, r := range s.records {
		if r.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return n, nil
}

// CacheStore mirrors cache entries keyed by CacheKey.String().
type CacheStore struct {
	mu      sync.RWMutex
	entries map[string]poller.CacheEntry
}

// NewCacheStore returns an empty CacheStore.
func NewCacheStore() *CacheStore {
	return &CacheStore{entries: make(map[string]poller.CacheEntry)}
}

// Upsert stores a copy of entry.
func (s *CacheStore) Upsert(_ context.Context, entry poller.CacheEntry) error {
	entry.Payload = append([]byte(nil), entry.Payload...)
	s.mu.Lock()
	s.entries[entry.Key.String()] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes one entry.
func (s *CacheStore) Delete(_ context.Context, key poller.CacheKey) error {
	s.mu.Lock()
	delete(s.entries, key.String())
	s.mu.Unlock()
	return nil
}

// DeletePlatform removes every entry of platform.
func (s *CacheStore) DeletePlatform(_ context.Context, platform poller.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.Key.Platform == platform {
			delete(s.entries, k)
		}
	}
	return nil
}

// DeleteAll removes every entry.
func (s *CacheStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	clear(s.entries)
	s.mu.Unlock()
	return nil
}

// DeleteExpired removes entries not fresh at now.
func (s *CacheStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if !e.Fresh(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// LoadFresh returns entries still fresh at now.
func (s *CacheStore) LoadFresh(_ context.Context, now time.Time) ([]poller.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]poller.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Fresh(now) {
			e.Payload = append([]byte(nil), e.Payload...)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// ScheduleStore holds definitions set by an admin collaborator or tests.
type ScheduleStore struct {
	mu   sync.RWMutex
	defs map[string]poller.ScheduleDefinition
}

// NewScheduleStore returns a store seeded with defs.
func NewScheduleStore(defs ...poller.ScheduleDefinition) *ScheduleStore {
	s := &ScheduleStore{defs: make(map[string]poller.ScheduleDefinition, len(defs))}
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return s
}

// List returns every definition ordered by id.
func (s *ScheduleStore) List(context.Context) ([]poller.ScheduleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]poller.ScheduleDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		d.Slots = append([]poller.Slot(nil), d.Slots...)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put inserts or replaces a definition.
func (s *ScheduleStore) Put(def poller.ScheduleDefinition) {
	s.mu.Lock()
	s.defs[def.ID] = def
	s.mu.Unlock()
}

// Remove deletes a definition.
func (s *ScheduleStore) Remove(id string) {
	s.mu.Lock()
	delete(s.defs, id)
	s.mu.Unlock()
}

// SeenStore keeps reported content ids per schedule with the time they were
// first seen.
type SeenStore struct {
	mu   sync.RWMutex
	seen map[string]map[string]time.Time
}

// NewSeenStore returns an empty SeenStore.
func NewSeenStore() *SeenStore {
	return &SeenStore{seen: make(map[string]map[string]time.Time)}
}

// Load returns up to limit ids for scheduleID, most recently seen first.
func (s *SeenStore) Load(_ context.Context, scheduleID string, limit int) ([]string, error) {
	s.mu.RLock()
	ids := s.seen[scheduleID]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := ids[out[i]], ids[out[j]]
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i] < out[j]
	})
	s.mu.RUnlock()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Add records ids for scheduleID. Ids already present keep their first time.
func (s *SeenStore) Add(_ context.Context, scheduleID string, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.seen[scheduleID]
	if m == nil {
		m = make(map[string]time.Time, len(ids))
		s.seen[scheduleID] = m
	}
	for _, id := range ids {
		if _, ok := m[id]; !ok {
			m[id] = at
		}
	}
	return nil
}

// DeleteBefore forgets ids first seen before before and reports how many.
func (s *SeenStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for sched, m := range s.seen {
		for id, at := range m {
			if at.Before(before) {
				delete(m, id)
				n++
			}
		}
		if len(m) == 0 {
			delete(s.seen, sched)
		}
	}
	return n, nil
}
