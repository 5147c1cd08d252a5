package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/clock/manual"
	"github.com/JakeFAU/streamwatch/internal/poller"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent("e1"))
	hub.Emit(sampleEvent("e2"))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent("e1"))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWhenFull asserts Emit never blocks callers and counts drops.
func TestHubEmitNonBlockingWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent("e1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	emitted, dropped := hub.Stats()
	require.Zero(t, emitted)
	require.Equal(t, int64(1), dropped)
}

// TestHubFlushOnClose ensures Close drains buffered events and closes sinks.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent("e1"))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.closed.Load())

	hub.Emit(sampleEvent("late"))
	emitted, _ := hub.Stats()
	require.Equal(t, int64(1), emitted)
}

type counterIDs struct{ n atomic.Int64 }

func (c *counterIDs) NewID() (string, error) { return fmt.Sprintf("id-%d", c.n.Add(1)), nil }

func TestHubStampsAndValidates(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, IDs: &counterIDs{}, Clock: manual.New(now)}, sink)

	hub.Emit(Event{Kind: KindQuotaLocked, Platform: poller.PlatformYouTube, Note: "quotaExceeded"})
	// Each of these fails validation.
	hub.Emit(Event{Kind: KindScheduleOutcome, Platform: poller.PlatformYouTube})
	hub.Emit(Event{Kind: "mystery", Platform: poller.PlatformYouTube})
	hub.Emit(Event{Kind: KindContentDiscovered, Platform: poller.PlatformYouTube, ScheduleID: "s"})
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	got := batches[0][0]
	require.Equal(t, "id-1", got.ID)
	require.Equal(t, now, got.TS)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := sampleEvent("x")
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{name: "missing id", mutate: func(e *Event) { e.ID = "" }},
		{name: "missing ts", mutate: func(e *Event) { e.TS = time.Time{} }},
		{name: "bad platform", mutate: func(e *Event) { e.Platform = "vine" }},
		{name: "negative units", mutate: func(e *Event) { e.QuotaUnits = -1 }},
		{name: "outcome without state", mutate: func(e *Event) { e.State = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt := base
			tc.mutate(&evt)
			require.Error(t, evt.Validate())
		})
	}
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  atomic.Bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(id string) Event {
	return Event{
		ID:         id,
		TS:         time.Now(),
		Kind:       KindScheduleOutcome,
		ScheduleID: "yt-news",
		Platform:   poller.PlatformYouTube,
		State:      poller.StateRecorded,
		ErrorKind:  poller.KindOK,
		QuotaUnits: 100,
	}
}
