package poller

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// ScheduleStore exposes the externally managed schedule definitions.
type ScheduleStore interface {
	List(ctx context.Context) ([]ScheduleDefinition, error)
}

// RecordStore persists effectiveness history.
type RecordStore interface {
	Append(ctx context.Context, rec EffectivenessRecord) error
	LoadSince(ctx context.Context, since time.Time) ([]EffectivenessRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SeenStore remembers which content ids a schedule has already reported, so
// a restart does not announce them again.
type SeenStore interface {
	// Load returns up to limit ids for scheduleID, most recently seen first.
	Load(ctx context.Context, scheduleID string, limit int) ([]string, error)
	Add(ctx context.Context, scheduleID string, ids []string, at time.Time) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// QuotaStateStore persists ledger counters and lockout across restarts.
type QuotaStateStore interface {
	Load(ctx context.Context, platform Platform) (QuotaState, error)
	Save(ctx context.Context, state QuotaState) error
}

// CachePersister mirrors cache writes into durable storage.
type CachePersister interface {
	Upsert(ctx context.Context, entry CacheEntry) error
	Delete(ctx context.Context, key CacheKey) error
	DeletePlatform(ctx context.Context, platform Platform) error
	DeleteAll(ctx context.Context) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	LoadFresh(ctx context.Context, now time.Time) ([]CacheEntry, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces record and event IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
