package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/streamwatch/internal/clock/manual"
	"github.com/JakeFAU/streamwatch/internal/poller"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	clk := manual.New(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))
	store := newFakeStateStore()
	yt, err := NewLedger(Config{Platform: poller.PlatformYouTube, DailyLimit: 10000, Location: time.UTC}, store, clk, nil)
	require.NoError(t, err)
	tt, err := NewLedger(Config{Platform: poller.PlatformTikTok, DailyLimit: 1000, Location: time.UTC}, store, clk, nil)
	require.NoError(t, err)

	reg, err := NewRegistry(yt, tt)
	require.NoError(t, err)
	require.Equal(t, []poller.Platform{poller.PlatformTikTok, poller.PlatformYouTube}, reg.Platforms())

	got, err := reg.For(poller.PlatformYouTube)
	require.NoError(t, err)
	require.Same(t, yt, got)

	_, err = reg.For(poller.PlatformFacebook)
	require.ErrorIs(t, err, ErrUnknownPlatform)

	stats := reg.Stats()
	require.Len(t, stats, 2)
	require.Equal(t, poller.PlatformTikTok, stats[0].Platform)
	require.Equal(t, 1000, stats[0].Limit)

	require.NoError(t, reg.Restore(context.Background()))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	clk := manual.New(time.Now())
	a, err := NewLedger(Config{Platform: poller.PlatformYouTube, DailyLimit: 10, Location: time.UTC}, nil, clk, nil)
	require.NoError(t, err)
	b, err := NewLedger(Config{Platform: poller.PlatformYouTube, DailyLimit: 20, Location: time.UTC}, nil, clk, nil)
	require.NoError(t, err)

	_, err = NewRegistry(a, b)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
