package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/streamwatch/internal/clock/manual"
	"github.com/JakeFAU/streamwatch/internal/poller"
)

type fakePersister struct {
	mu        sync.Mutex
	rows      map[string]poller.CacheEntry
	upsertErr error
}

func newFakePersister() *fakePersister {
	return &fakePersister{rows: make(map[string]poller.CacheEntry)}
}

func (f *fakePersister) Upsert(_ context.Context, e poller.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.rows[e.Key.String()] = e
	return nil
}

func (f *fakePersister) Delete(_ context.Context, k poller.CacheKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, k.String())
	return nil
}

func (f *fakePersister) DeletePlatform(_ context.Context, p poller.Platform) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, e := range f.rows {
		if e.Key.Platform == p {
			delete(f.rows, k)
		}
	}
	return nil
}

func (f *fakePersister) DeleteAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = make(map[string]poller.CacheEntry)
	return nil
}

func (f *fakePersister) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, e := range f.rows {
		if !e.Fresh(now) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakePersister) LoadFresh(_ context.Context, now time.Time) ([]poller.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []poller.CacheEntry
	for _, e := range f.rows {
		if e.Fresh(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakePersister) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func key(p poller.Platform, id string) poller.CacheKey {
	return poller.CacheKey{Platform: p, ContentType: "uploads", Key: id}
}

func TestSetGetExpire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := manual.New(time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC))
	s := New(clk, nil, nil)
	k := key(poller.PlatformYouTube, "UC123")

	_, ok := s.Get(k)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, k, []byte(`{"items":[]}`), time.Hour))
	entry, ok := s.Get(k)
	require.True(t, ok)
	require.JSONEq(t, `{"items":[]}`, string(entry.Payload))
	require.Equal(t, clk.Now().Add(time.Hour), entry.ExpiresAt)

	clk.Advance(59 * time.Minute)
	require.True(t, s.Fresh(k))

	clk.Advance(time.Minute)
	require.False(t, s.Fresh(k), "entry is stale once now reaches expires_at")
	require.Equal(t, 0, s.Stats().Entries, "expired entry is evicted on read")
}

func TestSetWithNonPositiveTTLIsDropped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newFakePersister()
	s := New(manual.New(time.Now()), p, nil)
	k := key(poller.PlatformTikTok, "creator")

	require.NoError(t, s.Set(ctx, k, []byte("x"), 0))
	require.NoError(t, s.Set(ctx, k, []byte("x"), -time.Second))
	require.False(t, s.Fresh(k))
	require.Equal(t, 0, p.len())
}

func TestSetOverwritesAndCopiesPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(manual.New(time.Now()), nil, nil)
	k := key(poller.PlatformYouTube, "UC1")
	payload := []byte("first")

	require.NoError(t, s.Set(ctx, k, payload, time.Minute))
	payload[0] = 'F'
	entry, ok := s.Get(k)
	require.True(t, ok)
	require.Equal(t, "first", string(entry.Payload))

	require.NoError(t, s.Set(ctx, k, []byte("second"), time.Minute))
	entry, _ = s.Get(k)
	require.Equal(t, "second", string(entry.Payload))
}

func TestClearPlatformAndAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newFakePersister()
	s := New(manual.New(time.Now()), p, nil)
	for i := range 3 {
		require.NoError(t, s.Set(ctx, key(poller.PlatformYouTube, fmt.Sprint(i)), []byte("y"), time.Hour))
	}
	require.NoError(t, s.Set(ctx, key(poller.PlatformFacebook, "page"), []byte("f"), time.Hour))

	n, err := s.ClearPlatform(ctx, poller.PlatformYouTube)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.True(t, s.Fresh(key(poller.PlatformFacebook, "page")))
	require.Equal(t, 1, p.len())

	require.NoError(t, s.Delete(ctx, key(poller.PlatformFacebook, "page")))
	require.False(t, s.Fresh(key(poller.PlatformFacebook, "page")))

	require.NoError(t, s.Set(ctx, key(poller.PlatformInstagram, "acct"), []byte("i"), time.Hour))
	n, err = s.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, s.Stats().Entries)
	require.Equal(t, 0, p.len())
}

func TestCleanupExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := manual.New(time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC))
	p := newFakePersister()
	s := New(clk, p, nil)
	require.NoError(t, s.Set(ctx, key(poller.PlatformYouTube, "short"), []byte("a"), time.Minute))
	require.NoError(t, s.Set(ctx, key(poller.PlatformYouTube, "short2"), []byte("b"), 2*time.Minute))
	require.NoError(t, s.Set(ctx, key(poller.PlatformYouTube, "long"), []byte("c"), time.Hour))

	clk.Advance(5 * time.Minute)
	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, s.Stats().Entries)
	require.Equal(t, 1, p.len())
}

func TestWriteThroughFailureIsReported(t *testing.T) {
	t.Parallel()

	p := newFakePersister()
	p.upsertErr = errors.New("db down")
	s := New(manual.New(time.Now()), p, nil)
	k := key(poller.PlatformYouTube, "UC")

	err := s.Set(context.Background(), k, []byte("x"), time.Minute)
	require.Error(t, err)
	require.True(t, s.Fresh(k), "in-memory entry is still served")
}

func TestWarmLoadsFreshEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := manual.New(time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC))
	p := newFakePersister()
	p.rows["fresh"] = poller.CacheEntry{Key: key(poller.PlatformYouTube, "fresh"), Payload: []byte("f"), ExpiresAt: clk.Now().Add(time.Hour)}
	p.rows["stale"] = poller.CacheEntry{Key: key(poller.PlatformYouTube, "stale"), Payload: []byte("s"), ExpiresAt: clk.Now().Add(-time.Hour)}

	s := New(clk, p, nil)
	n, err := s.Warm(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, s.Fresh(key(poller.PlatformYouTube, "fresh")))
	require.False(t, s.Fresh(key(poller.PlatformYouTube, "stale")))
}

func TestStatsHitRate(t *testing.T) {
	t.Parallel()

	s := New(manual.New(time.Now()), nil, nil)
	k := key(poller.PlatformYouTube, "UC")
	require.NoError(t, s.Set(context.Background(), k, []byte("x"), time.Minute))

	s.Get(k)
	s.Get(k)
	s.Get(k)
	s.Get(key(poller.PlatformYouTube, "missing"))

	st := s.Stats()
	require.Equal(t, int64(3), st.Hits)
	require.Equal(t, int64(1), st.Misses)
	require.InDelta(t, 0.75, st.HitRate, 1e-9)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(manual.New(time.Now()), newFakePersister(), nil)
	k := key(poller.PlatformYouTube, "hot")

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 50 {
				_ = s.Set(ctx, k, []byte(fmt.Sprintf("%d-%d", i, j)), time.Minute)
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				if e, ok := s.Get(k); ok && len(e.Payload) == 0 {
					t.Error("read an empty payload")
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, s.Stats().Entries)
}
