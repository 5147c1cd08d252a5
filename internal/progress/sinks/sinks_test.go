package sinks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/progress"
	"github.com/JakeFAU/streamwatch/internal/publisher/memory"
)

func discovery(id string) progress.Event {
	return progress.Event{
		ID:         id,
		TS:         time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
		Kind:       progress.KindContentDiscovered,
		ScheduleID: "yt-news",
		Platform:   poller.PlatformYouTube,
		Content:    &poller.ContentItem{ID: "v-" + id, Platform: poller.PlatformYouTube, Title: "Live " + id},
	}
}

func outcome(id string) progress.Event {
	return progress.Event{
		ID:         id,
		TS:         time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
		Kind:       progress.KindScheduleOutcome,
		ScheduleID: "yt-news",
		Platform:   poller.PlatformYouTube,
		State:      poller.StateFailed,
		ErrorKind:  poller.KindFatal,
		Note:       "401 unauthorized",
	}
}

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{discovery("1"), outcome("2")}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("poll event").All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	require.Equal(t, "content_discovered", first["kind"])
	require.Equal(t, "v-1", first["content_id"])
	second := entries[1].ContextMap()
	require.Equal(t, "failed", second["state"])
	require.Equal(t, "401 unauthorized", second["note"])
}

func TestPublishSinkForwardsSelectedKinds(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublishSink(pub, "discoveries", nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{discovery("1"), outcome("2"), discovery("3")}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "discoveries", msgs[0].Topic)
	require.Equal(t, "1", msgs[0].Payload.(progress.Event).ID)
	require.Equal(t, "3", msgs[1].Payload.(progress.Event).ID)

	all := NewPublishSink(pub, "all", nil, progress.KindContentDiscovered, progress.KindScheduleOutcome)
	require.NoError(t, all.Consume(context.Background(), []progress.Event{outcome("4")}))
	require.Len(t, pub.Messages(), 3)
}

func TestPublishSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("unavailable"))
	sink := NewPublishSink(pub, "discoveries", nil)
	err := sink.Consume(context.Background(), []progress.Event{discovery("1"), discovery("2")})
	require.ErrorContains(t, err, "publish event 1")
	require.ErrorContains(t, err, "publish event 2")
}

func TestRingSinkKeepsNewestFirst(t *testing.T) {
	t.Parallel()

	ring := NewRingSink(3)
	require.Empty(t, ring.Recent(10, ""))

	var batch []progress.Event
	for i := range 5 {
		if i%2 == 0 {
			batch = append(batch, discovery(fmt.Sprint(i)))
		} else {
			batch = append(batch, outcome(fmt.Sprint(i)))
		}
	}
	require.NoError(t, ring.Consume(context.Background(), batch))

	got := ring.Recent(0, "")
	require.Len(t, got, 3)
	require.Equal(t, []string{"4", "3", "2"}, []string{got[0].ID, got[1].ID, got[2].ID})

	require.Len(t, ring.Recent(2, ""), 2)
	disc := ring.Recent(10, progress.KindContentDiscovered)
	require.Len(t, disc, 2)
	require.Equal(t, "4", disc[0].ID)
}
