package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS quota_state").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn is required")
}

func TestQuotaStoreLoad(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	lock := t0.Add(time.Hour)
	rows := pgxmock.NewRows([]string{"platform", "window_start", "used", "locked_until", "operations", "version", "updated_at"}).
		AddRow("youtube", t0.Add(-9*time.Hour), 9900, &lock, []byte(`{"search":{"calls":99,"units":9900}}`), int64(12), t0)
	mock.ExpectQuery("FROM quota_state WHERE platform").WithArgs("youtube").WillReturnRows(rows)

	st, err := NewQuotaStore(mock).Load(context.Background(), poller.PlatformYouTube)
	require.NoError(t, err)
	require.Equal(t, poller.PlatformYouTube, st.Platform)
	require.Equal(t, 9900, st.Used)
	require.Equal(t, lock, st.LockedUntil)
	require.Equal(t, int64(12), st.Version)
	require.Equal(t, poller.OperationUsage{Calls: 99, Units: 9900}, st.Operations["search"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaStoreLoadNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectQuery("FROM quota_state WHERE platform").WithArgs("tiktok").WillReturnError(pgx.ErrNoRows)

	_, err := NewQuotaStore(mock).Load(context.Background(), poller.PlatformTikTok)
	require.ErrorIs(t, err, poller.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaStoreSave(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectExec("INSERT INTO quota_state").
		WithArgs("youtube", t0, 100, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(3), t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO quota_state").
		WithArgs("youtube", t0, 100, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(4), t0).
		WillReturnError(errors.New("connection reset"))

	s := NewQuotaStore(mock)
	state := poller.QuotaState{Platform: poller.PlatformYouTube, WindowStart: t0, Used: 100, Version: 3, UpdatedAt: t0}
	require.NoError(t, s.Save(context.Background(), state))

	state.Version = 4
	state.LockedUntil = t0.Add(time.Hour)
	err := s.Save(context.Background(), state)
	require.ErrorContains(t, err, "save quota state youtube")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreRoundTrip(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewRecordStore(mock)
	published := []time.Time{t0.Add(-time.Minute)}
	rec := poller.EffectivenessRecord{
		ID: "rec-1", ScheduleID: "yt-news", Timestamp: t0, QuotaSpent: 100, ContentFound: 2,
		Slot: "Mon 09:00", Outcome: poller.KindOK, PublishedAt: published,
	}
	mock.ExpectExec("INSERT INTO effectiveness_records").
		WithArgs("rec-1", "yt-news", t0, 100, 2, "Mon 09:00", "ok", published).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Append(context.Background(), rec))

	rows := pgxmock.NewRows([]string{"id", "schedule_id", "ts", "quota_spent", "content_found", "slot", "outcome", "published_at"}).
		AddRow("rec-1", "yt-news", t0, 100, 2, "Mon 09:00", "ok", published).
		AddRow("rec-2", "yt-news", t0.Add(time.Hour), 100, 0, "", "fatal", []time.Time{})
	mock.ExpectQuery("FROM effectiveness_records WHERE ts").WithArgs(t0).WillReturnRows(rows)
	got, err := s.LoadSince(context.Background(), t0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, rec, got[0])
	require.Equal(t, poller.KindFatal, got[1].Outcome)

	mock.ExpectExec("DELETE FROM effectiveness_records").WithArgs(t0).WillReturnResult(pgxmock.NewResult("DELETE", 7))
	n, err := s.DeleteBefore(context.Background(), t0)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreQueryError(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectQuery("FROM effectiveness_records").WillReturnError(errors.New("timeout"))
	_, err := NewRecordStore(mock).LoadSince(context.Background(), t0)
	require.ErrorContains(t, err, "query effectiveness records")
}

func TestSeenStore(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewSeenStore(mock)

	mock.ExpectExec("INSERT INTO seen_content").
		WithArgs("yt-news", []string{"v1", "v2"}, t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	require.NoError(t, s.Add(context.Background(), "yt-news", []string{"v1", "v2"}, t0))
	require.NoError(t, s.Add(context.Background(), "yt-news", nil, t0), "nothing to add skips the round trip")

	rows := pgxmock.NewRows([]string{"content_id"}).AddRow("v2").AddRow("v1")
	mock.ExpectQuery("FROM seen_content").WithArgs("yt-news", 500).WillReturnRows(rows)
	ids, err := s.Load(context.Background(), "yt-news", 500)
	require.NoError(t, err)
	require.Equal(t, []string{"v2", "v1"}, ids)

	mock.ExpectExec("DELETE FROM seen_content").WithArgs(t0).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	n, err := s.DeleteBefore(context.Background(), t0)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	mock.ExpectQuery("FROM seen_content").WillReturnError(errors.New("timeout"))
	_, err = s.Load(context.Background(), "fb-live", 10)
	require.ErrorContains(t, err, "query seen content for fb-live")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheStore(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCacheStore(mock)
	ctx := context.Background()
	key := poller.CacheKey{Platform: poller.PlatformYouTube, ContentType: "uploads", Key: "UC1"}

	mock.ExpectExec("INSERT INTO cache_entries").
		WithArgs("youtube", "uploads", "UC1", []byte("{}"), t0, t0.Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Upsert(ctx, poller.CacheEntry{Key: key, Payload: []byte("{}"), CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}))

	rows := pgxmock.NewRows([]string{"platform", "content_type", "key", "payload", "created_at", "expires_at"}).
		AddRow("youtube", "uploads", "UC1", []byte("{}"), t0, t0.Add(time.Hour))
	mock.ExpectQuery("FROM cache_entries WHERE expires_at").WithArgs(t0).WillReturnRows(rows)
	fresh, err := s.LoadFresh(ctx, t0)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Equal(t, key, fresh[0].Key)

	mock.ExpectExec("DELETE FROM cache_entries WHERE platform = \\$1 AND").
		WithArgs("youtube", "uploads", "UC1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, s.Delete(ctx, key))

	mock.ExpectExec("DELETE FROM cache_entries WHERE platform").
		WithArgs("facebook").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	require.NoError(t, s.DeletePlatform(ctx, poller.PlatformFacebook))

	mock.ExpectExec("DELETE FROM cache_entries WHERE expires_at").
		WithArgs(t0).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	n, err := s.DeleteExpired(ctx, t0)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	mock.ExpectExec("DELETE FROM cache_entries").WillReturnError(errors.New("read only"))
	require.ErrorContains(t, s.DeleteAll(ctx), "delete cache entries")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleStoreSkipsInvalidRows(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	mock := newMock(t)
	rows := pgxmock.NewRows([]string{"id", "channel_id", "platform", "operation", "priority", "timezone", "active", "slots"}).
		AddRow("yt-news", "UC1", "youtube", "search", 5, "America/Chicago", true, []byte(`[{"day":"mon","time":"09:00"}]`)).
		AddRow("bad-platform", "x", "myspace", "", 3, "", true, []byte(`[]`)).
		AddRow("bad-slots", "x", "tiktok", "", 3, "", true, []byte(`not json`)).
		AddRow("fb-off", "page", "facebook", "", 2, "", false, []byte(`[{"day":"fri","time":"18:30"}]`))
	mock.ExpectQuery("FROM schedules").WillReturnRows(rows)

	defs, err := NewScheduleStore(mock, zap.New(core)).List(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, "yt-news", defs[0].ID)
	require.Equal(t, poller.Slot{Weekday: time.Monday, Hour: 9}, defs[0].Slots[0])
	require.True(t, defs[0].Active)
	require.False(t, defs[1].Active)
	require.Equal(t, 2, logs.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}
