package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

func TestArchivePath(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 6, 9, 0, 0, 5, time.FixedZone("x", -7*3600))
	target := poller.Target{Platform: poller.PlatformYouTube, Operation: "search", ID: "UC../abc"}
	got := ArchivePath(target, at)
	require.Equal(t, "raw/youtube/2024/05/06/search/UC.._abc-1715011200000000005.json", got)

	require.Contains(t, ArchivePath(poller.Target{Platform: poller.PlatformTikTok, Operation: "video_query"}, at), "/_-")
}
