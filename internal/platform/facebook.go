package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// Facebook Graph operations.
const (
	FacebookLiveVideos poller.Operation = "live_videos"
	FacebookVideos     poller.Operation = "videos"
)

// Facebook polls pages for live and uploaded videos.
type Facebook struct {
	operationTable
	graph graphAPI
}

// NewFacebook builds the adapter with a page access token.
func NewFacebook(client *Client, baseURL, token string) *Facebook {
	return &Facebook{
		operationTable: operationTable{
			def: FacebookLiveVideos,
			types: map[poller.Operation]string{
				FacebookLiveVideos: "live",
				FacebookVideos:     "uploads",
			},
		},
		graph: newGraphAPI(client, poller.PlatformFacebook, baseURL, token),
	}
}

// Platform implements Adapter.
func (*Facebook) Platform() poller.Platform {
	return poller.PlatformFacebook
}

// Fetch implements Adapter.
func (f *Facebook) Fetch(ctx context.Context, target poller.Target) (Response, error) {
	switch target.Operation {
	case FacebookLiveVideos:
		return f.graph.get(ctx, target.ID, "live_videos", "id,title,status,creation_time,permalink_url")
	case FacebookVideos:
		return f.graph.get(ctx, target.ID, "videos", "id,title,created_time,permalink_url")
	default:
		return Response{}, fmt.Errorf("%w: facebook/%s", ErrUnsupportedOperation, target.Operation)
	}
}

type fbVideo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	CreationTime string `json:"creation_time"`
	CreatedTime  string `json:"created_time"`
	PermalinkURL string `json:"permalink_url"`
}

// Graph timestamps use a numeric zone offset without a colon.
const graphTimeLayout = "2006-01-02T15:04:05-0700"

// Decode implements Adapter.
func (f *Facebook) Decode(op poller.Operation, body []byte) ([]poller.ContentItem, []error, error) {
	raws, err := decodeGraphList(body)
	if err != nil {
		return nil, nil, err
	}
	items := make([]poller.ContentItem, 0, len(raws))
	var discarded []error
	for i, raw := range raws {
		var v fbVideo
		if err := json.Unmarshal(raw, &v); err != nil {
			discarded = append(discarded, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		stamp := v.CreationTime
		if stamp == "" {
			stamp = v.CreatedTime
		}
		published, err := time.Parse(graphTimeLayout, stamp)
		if err != nil {
			discarded = append(discarded, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		item := poller.ContentItem{
			ID:          v.ID,
			Platform:    poller.PlatformFacebook,
			Title:       v.Title,
			URL:         v.PermalinkURL,
			Kind:        f.ContentType(op),
			Live:        v.Status == "LIVE",
			PublishedAt: published.UTC(),
		}
		if err := item.Validate(); err != nil {
			discarded = append(discarded, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		items = append(items, item)
	}
	return items, discarded, nil
}

// QuotaExhausted implements Adapter.
func (*Facebook) QuotaExhausted(resp Response) bool {
	return graphQuotaExhausted(resp)
}
