package platform

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

func TestYouTubeFetchBuildsRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op       poller.Operation
		path     string
		param    string
		expected string
	}{
		{op: YouTubeSearch, path: "/search", param: "channelId", expected: "UCxyz"},
		{op: YouTubePlaylistItems, path: "/playlistItems", param: "playlistId", expected: "UUxyz"},
		{op: YouTubeVideos, path: "/videos", param: "id", expected: "UCxyz"},
		{op: YouTubeChannels, path: "/channels", param: "id", expected: "UCxyz"},
	}
	for _, tc := range tests {
		t.Run(string(tc.op), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, tc.path, r.URL.Path)
				require.Equal(t, tc.expected, r.URL.Query().Get(tc.param))
				require.Equal(t, "secret", r.URL.Query().Get("key"))
				_, _ = io.WriteString(w, `{"items":[]}`)
			}))
			t.Cleanup(srv.Close)

			yt := NewYouTube(newTestClient(), srv.URL+"/", "secret")
			resp, err := yt.Fetch(context.Background(), poller.Target{Platform: "youtube", Operation: tc.op, ID: "UCxyz"})
			require.NoError(t, err)
			require.True(t, resp.OK())
		})
	}
}

func TestYouTubeDecodeSearch(t *testing.T) {
	t.Parallel()

	yt := NewYouTube(newTestClient(), "", "k")
	body := []byte(`{"items":[
		{"id":{"kind":"youtube#video","videoId":"v1"},"snippet":{"title":"Live now","channelId":"UC1","publishedAt":"2024-05-10T18:00:00Z","liveBroadcastContent":"live"}},
		{"id":{"kind":"youtube#video"},"snippet":{"title":"missing id","channelId":"UC1","publishedAt":"2024-05-10T18:00:00Z"}},
		{"id":{"videoId":"v3"},"snippet":{"publishedAt":"yesterday"}}
	]}`)
	items, discarded, err := yt.Decode(YouTubeSearch, body)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, discarded, 2)
	require.Equal(t, "v1", items[0].ID)
	require.True(t, items[0].Live)
	require.Equal(t, "https://www.youtube.com/watch?v=v1", items[0].URL)
}

func TestYouTubeDecodePlaylistItems(t *testing.T) {
	t.Parallel()

	yt := NewYouTube(newTestClient(), "", "k")
	body := []byte(`{"items":[{
		"id":"UUx.abc",
		"snippet":{"title":"Upload","channelId":"UC1","publishedAt":"2024-05-10T19:00:00Z","resourceId":{"videoId":"v9"}},
		"contentDetails":{"videoId":"v9","videoPublishedAt":"2024-05-10T18:30:00Z"}
	}]}`)
	items, discarded, err := yt.Decode(YouTubePlaylistItems, body)
	require.NoError(t, err)
	require.Empty(t, discarded)
	require.Len(t, items, 1)
	require.Equal(t, "v9", items[0].ID)
	require.Equal(t, "uploads", items[0].Kind)
	require.Equal(t, 18, items[0].PublishedAt.Hour())
}

func TestYouTubeDecodeVideosLiveDetails(t *testing.T) {
	t.Parallel()

	yt := NewYouTube(newTestClient(), "", "k")
	body := []byte(`{"items":[
		{"id":"on","snippet":{"title":"a","publishedAt":"2024-05-10T18:00:00Z"},"liveStreamingDetails":{"actualStartTime":"2024-05-10T18:00:00Z"}},
		{"id":"done","snippet":{"title":"b","publishedAt":"2024-05-10T18:00:00Z"},"liveStreamingDetails":{"actualStartTime":"2024-05-10T18:00:00Z","actualEndTime":"2024-05-10T19:00:00Z"}}
	]}`)
	items, _, err := yt.Decode(YouTubeVideos, body)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.True(t, items[0].Live)
	require.False(t, items[1].Live)
}

func TestYouTubeDecodeMalformed(t *testing.T) {
	t.Parallel()

	_, _, err := NewYouTube(newTestClient(), "", "k").Decode(YouTubeSearch, []byte(`{"items":`))
	require.ErrorIs(t, err, ErrMalformedBody)
}

func TestYouTubeQuotaExhausted(t *testing.T) {
	t.Parallel()

	yt := NewYouTube(newTestClient(), "", "k")
	tests := []struct {
		name string
		resp Response
		want bool
	}{
		{"quotaExceeded", Response{StatusCode: 403, Body: []byte(`{"error":{"errors":[{"reason":"quotaExceeded"}]}}`)}, true},
		{"dailyLimitExceeded", Response{StatusCode: 403, Body: []byte(`{"error":{"errors":[{"reason":"dailyLimitExceeded"}]}}`)}, true},
		{"forbidden", Response{StatusCode: 403, Body: []byte(`{"error":{"errors":[{"reason":"forbidden"}]}}`)}, false},
		{"wrong status", Response{StatusCode: 429, Body: []byte(`{"error":{"errors":[{"reason":"quotaExceeded"}]}}`)}, false},
		{"not json", Response{StatusCode: 403, Body: []byte(`nope`)}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, yt.QuotaExhausted(tc.resp))
		})
	}
}
