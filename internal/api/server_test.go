package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/streamwatch/internal/cache"
	"github.com/JakeFAU/streamwatch/internal/clock/manual"
	"github.com/JakeFAU/streamwatch/internal/learner"
	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/progress"
	"github.com/JakeFAU/streamwatch/internal/progress/sinks"
	"github.com/JakeFAU/streamwatch/internal/quota"
	"github.com/JakeFAU/streamwatch/internal/schedule"
	memstore "github.com/JakeFAU/streamwatch/internal/storage/memory"
)

// Monday 2024-05-06 09:00 UTC.
var monday9 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clk     *manual.Clock
	ledger  *quota.Ledger
	cache   *cache.Store
	tracker *cache.AccessTracker
	learner *learner.Learner
	sched   *schedule.Scheduler
	ring    *sinks.RingSink
	deps    Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clk: manual.New(monday9)}
	ledger, err := quota.NewLedger(quota.Config{
		Platform:   poller.PlatformYouTube,
		DailyLimit: 10_000,
		Costs:      map[poller.Operation]int{"search": 100},
		Location:   time.UTC,
	}, nil, f.clk, nil)
	require.NoError(t, err)
	f.ledger = ledger
	reg, err := quota.NewRegistry(ledger)
	require.NoError(t, err)

	f.cache = cache.New(f.clk, nil, nil)
	f.tracker = cache.NewAccessTracker(time.UTC, 0, 0)
	f.learner = learner.New(learner.DefaultConfig(), nil, nil, f.clk, nil)
	store := memstore.NewScheduleStore(poller.ScheduleDefinition{
		ID:        "yt-news",
		ChannelID: "UC1",
		Platform:  poller.PlatformYouTube,
		Priority:  3,
		Active:    true,
		Slots:     []poller.Slot{{Weekday: time.Monday, Hour: 9}},
	})
	f.sched = schedule.New(store, f.learner, f.clk, schedule.DefaultTolerance, nil)
	_, err = f.sched.Due(context.Background(), monday9)
	require.NoError(t, err)
	f.ring = sinks.NewRingSink(10)

	f.deps = Deps{
		Quota:     reg,
		Scheduler: f.sched,
		Learner:   f.learner,
		Cache:     f.cache,
		Tracker:   f.tracker,
		Events:    f.ring,
		Clock:     f.clk,
	}
	return f
}

func serve(t *testing.T, h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ready := errors.New("postgres unreachable")
	f.deps.Ready = func(context.Context) error { return ready }
	h := NewServer(Config{}, f.deps).Handler()

	rec := serve(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, h, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "postgres unreachable", decode(t, rec)["error"])

	ready = nil
	f.deps.Ready = func(context.Context) error { return ready }
	rec = serve(t, NewServer(Config{}, f.deps).Handler(), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := serve(t, NewServer(Config{}, f.deps).Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "streamwatch_")
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := NewServer(Config{APIKey: "secret"}, f.deps).Handler()

	require.Equal(t, http.StatusUnauthorized, serve(t, h, http.MethodGet, "/v1/quota", nil).Code)
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/v1/quota", map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/v1/quota?api_key=secret", nil).Code)
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/healthz", nil).Code)
}

func TestQuotaStatsAndReset(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := NewServer(Config{}, f.deps).Handler()
	adm := f.ledger.TryReserve("search", 100)
	require.True(t, adm.Granted)
	require.NoError(t, f.ledger.Commit(context.Background(), adm.Reservation))

	rec := serve(t, h, http.MethodGet, "/v1/quota", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	stats := decode(t, rec)["quota"].([]any)
	require.Len(t, stats, 1)
	require.EqualValues(t, 100, stats[0].(map[string]any)["used"])

	rec = serve(t, h, http.MethodGet, "/v1/quota", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Empty(t, rec.Body.String())

	rec = serve(t, h, http.MethodPost, "/v1/quota/youtube/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, f.ledger.Stats().Used)

	rec = serve(t, h, http.MethodPost, "/v1/quota/tiktok/reset", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulesAndEffectiveness(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := NewServer(Config{}, f.deps).Handler()
	_, err := f.learner.Record(context.Background(), poller.EffectivenessRecord{ScheduleID: "yt-news", QuotaSpent: 100, ContentFound: 2})
	require.NoError(t, err)

	rec := serve(t, h, http.MethodGet, "/v1/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["schedules"].([]any)
	require.Len(t, list, 1)
	require.Equal(t, "due", list[0].(map[string]any)["state"])

	rec = serve(t, h, http.MethodGet, "/v1/schedules/yt-news/effectiveness?recent=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.EqualValues(t, 1, body["attempts"])
	require.InDelta(t, 0.02, body["score"], 1e-9)

	require.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/v1/schedules/missing/effectiveness", nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/v1/schedules/yt-news/effectiveness?recent=-1", nil).Code)
}

func TestSuggestions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := NewServer(Config{}, f.deps).Handler()
	rec := serve(t, h, http.MethodGet, "/v1/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, decode(t, rec), "suggestions")
}

func TestCacheReadRecordsAccessAndClears(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := NewServer(Config{}, f.deps).Handler()
	key := poller.CacheKey{Platform: poller.PlatformYouTube, ContentType: "live", Key: "UC1"}
	require.NoError(t, f.cache.Set(context.Background(), key, []byte(`{"items":[1]}`), time.Hour))

	rec := serve(t, h, http.MethodGet, "/v1/cache/youtube/live/UC1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[1]}`, rec.Body.String())
	require.Equal(t, "2024-05-06T10:00:00Z", rec.Header().Get("X-Cache-Expires-At"))
	usages := f.tracker.Usages(monday9)
	require.Len(t, usages, 1)
	require.Equal(t, 1, usages[0].HourDays[9])

	require.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/v1/cache/youtube/live/UC2", nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/v1/cache/myspace/live/UC1", nil).Code)
	require.Equal(t, 1, f.tracker.Len(), "misses on unscheduled keys are not tracked")

	rec = serve(t, h, http.MethodDelete, "/v1/cache/youtube", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decode(t, rec)["removed"])
	require.False(t, f.cache.Fresh(key))

	require.NoError(t, f.cache.Set(context.Background(), key, []byte(`{}`), time.Hour))
	rec = serve(t, h, http.MethodDelete, "/v1/cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, f.cache.Stats().Entries)
}

func TestCacheMissTracksOnlyScheduledChannels(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := NewServer(Config{}, f.deps).Handler()

	for _, id := range []string{"UC-x1", "UC-x2", "UC-x3"} {
		require.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/v1/cache/youtube/live/"+id, nil).Code)
	}
	require.Zero(t, f.tracker.Len())
	require.Empty(t, f.tracker.Usages(monday9))

	// UC1 belongs to yt-news; a stale read of it still counts as demand.
	require.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/v1/cache/youtube/live/UC1", nil).Code)
	usages := f.tracker.Usages(monday9)
	require.Len(t, usages, 1)
	require.Equal(t, "UC1", usages[0].Key.Key)
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := NewServer(Config{}, f.deps).Handler()
	require.NoError(t, f.ring.Consume(context.Background(), []progress.Event{
		{ID: "1", Kind: progress.KindScheduleOutcome, ScheduleID: "yt-news", Platform: poller.PlatformYouTube, State: poller.StateRecorded},
		{ID: "2", Kind: progress.KindQuotaLocked, Platform: poller.PlatformYouTube},
	}))

	rec := serve(t, h, http.MethodGet, "/v1/events?kind=quota_locked", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["events"].([]any)
	require.Len(t, events, 1)
	require.Equal(t, "2", events[0].(map[string]any)["id"])

	require.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/v1/events?limit=abc", nil).Code)
}

func TestUnavailableComponents(t *testing.T) {
	t.Parallel()

	h := NewServer(Config{}, Deps{}).Handler()
	for _, path := range []string{"/v1/quota", "/v1/schedules", "/v1/suggestions", "/v1/events", "/v1/cache/youtube/live/x"} {
		require.Equal(t, http.StatusServiceUnavailable, serve(t, h, http.MethodGet, path, nil).Code, path)
	}
}
