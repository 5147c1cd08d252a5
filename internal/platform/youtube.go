package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// YouTube Data API v3 operations.
const (
	YouTubeSearch        poller.Operation = "search"
	YouTubePlaylistItems poller.Operation = "playlist_items"
	YouTubeVideos        poller.Operation = "videos"
	YouTubeChannels      poller.Operation = "channels"
)

// YouTubeDefaultCosts are the documented unit costs per call.
var YouTubeDefaultCosts = map[poller.Operation]int{
	YouTubeSearch:        100,
	YouTubePlaylistItems: 1,
	YouTubeVideos:        1,
	YouTubeChannels:      1,
}

const defaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"

// YouTube polls channels through the Data API.
type YouTube struct {
	operationTable
	client  *Client
	baseURL string
	apiKey  string
}

// NewYouTube builds the adapter. An empty baseURL uses the public endpoint.
func NewYouTube(client *Client, baseURL, apiKey string) *YouTube {
	if baseURL == "" {
		baseURL = defaultYouTubeBaseURL
	}
	return &YouTube{
		operationTable: operationTable{
			def: YouTubePlaylistItems,
			types: map[poller.Operation]string{
				YouTubeSearch:        "live",
				YouTubePlaylistItems: "uploads",
				YouTubeVideos:        "video",
				YouTubeChannels:      "channel",
			},
		},
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// Platform implements Adapter.
func (*YouTube) Platform() poller.Platform {
	return poller.PlatformYouTube
}

// Fetch implements Adapter.
func (y *YouTube) Fetch(ctx context.Context, target poller.Target) (Response, error) {
	if y.apiKey == "" {
		return Response{}, ErrMissingCredentials
	}
	q := url.Values{}
	q.Set("key", y.apiKey)
	var path string
	switch target.Operation {
	case YouTubeSearch:
		path = "/search"
		q.Set("part", "snippet")
		q.Set("channelId", target.ID)
		q.Set("eventType", "live")
		q.Set("type", "video")
		q.Set("order", "date")
	case YouTubePlaylistItems:
		path = "/playlistItems"
		q.Set("part", "snippet,contentDetails")
		q.Set("playlistId", uploadsPlaylist(target.ID))
		q.Set("maxResults", "25")
	case YouTubeVideos:
		path = "/videos"
		q.Set("part", "snippet,liveStreamingDetails")
		q.Set("id", target.ID)
	case YouTubeChannels:
		path = "/channels"
		q.Set("part", "snippet")
		q.Set("id", target.ID)
	default:
		return Response{}, fmt.Errorf("%w: youtube/%s", ErrUnsupportedOperation, target.Operation)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("build youtube request: %w", err)
	}
	return y.client.Do(ctx, string(poller.PlatformYouTube), req)
}

// uploadsPlaylist maps a channel id (UC…) to its uploads playlist (UU…).
func uploadsPlaylist(channelID string) string {
	if strings.HasPrefix(channelID, "UC") {
		return "UU" + channelID[2:]
	}
	return channelID
}

type ytSnippet struct {
	Title                string    `json:"title"`
	ChannelID            string    `json:"channelId"`
	PublishedAt          time.Time `json:"publishedAt"`
	LiveBroadcastContent string    `json:"liveBroadcastContent"`
	ResourceID           struct {
		VideoID string `json:"videoId"`
	} `json:"resourceId"`
}

type ytItem struct {
	ID             json.RawMessage `json:"id"`
	Snippet        ytSnippet       `json:"snippet"`
	ContentDetails struct {
		VideoID          string    `json:"videoId"`
		VideoPublishedAt time.Time `json:"videoPublishedAt"`
	} `json:"contentDetails"`
	LiveStreamingDetails *struct {
		ActualStartTime *time.Time `json:"actualStartTime"`
		ActualEndTime   *time.Time `json:"actualEndTime"`
	} `json:"liveStreamingDetails"`
}

type ytList struct {
	Items []json.RawMessage `json:"items"`
}

// Decode implements Adapter.
func (y *YouTube) Decode(op poller.Operation, body []byte) ([]poller.ContentItem, []error, error) {
	var list ytList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	items := make([]poller.ContentItem, 0, len(list.Items))
	var discarded []error
	for i, raw := range list.Items {
		item, err := y.decodeItem(op, raw)
		if err != nil {
			discarded = append(discarded, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		items = append(items, item)
	}
	return items, discarded, nil
}

func (y *YouTube) decodeItem(op poller.Operation, raw json.RawMessage) (poller.ContentItem, error) {
	var it ytItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return poller.ContentItem{}, err
	}
	item := poller.ContentItem{
		Platform:    poller.PlatformYouTube,
		ChannelID:   it.Snippet.ChannelID,
		Title:       it.Snippet.Title,
		PublishedAt: it.Snippet.PublishedAt,
		Kind:        y.ContentType(op),
	}
	switch op {
	case YouTubeSearch:
		var id struct {
			VideoID string `json:"videoId"`
		}
		if err := json.Unmarshal(it.ID, &id); err != nil {
			return poller.ContentItem{}, err
		}
		item.ID = id.VideoID
		item.Live = it.Snippet.LiveBroadcastContent == "live"
	case YouTubePlaylistItems:
		item.ID = it.ContentDetails.VideoID
		if item.ID == "" {
			item.ID = it.Snippet.ResourceID.VideoID
		}
		if !it.ContentDetails.VideoPublishedAt.IsZero() {
			item.PublishedAt = it.ContentDetails.VideoPublishedAt
		}
	case YouTubeVideos, YouTubeChannels:
		if err := json.Unmarshal(it.ID, &item.ID); err != nil {
			return poller.ContentItem{}, err
		}
		if d := it.LiveStreamingDetails; d != nil {
			item.Live = d.ActualStartTime != nil && d.ActualEndTime == nil
		}
	default:
		return poller.ContentItem{}, fmt.Errorf("%w: youtube/%s", ErrUnsupportedOperation, op)
	}
	if op == YouTubeChannels {
		item.URL = "https://www.youtube.com/channel/" + item.ID
		item.ChannelID = item.ID
	} else if item.ID != "" {
		item.URL = "https://www.youtube.com/watch?v=" + item.ID
	}
	return item, item.Validate()
}

// QuotaExhausted implements Adapter. YouTube reports the daily cap as a 403
// whose error reason is quotaExceeded or dailyLimitExceeded.
func (*YouTube) QuotaExhausted(resp Response) bool {
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	var body struct {
		Error struct {
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return false
	}
	for _, e := range body.Error.Errors {
		if e.Reason == "quotaExceeded" || e.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return false
}
