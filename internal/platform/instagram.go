package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// Instagram Graph operations.
const (
	InstagramMedia     poller.Operation = "media"
	InstagramLiveMedia poller.Operation = "live_media"
)

// Instagram polls business accounts through the Graph API.
type Instagram struct {
	operationTable
	graph graphAPI
}

// NewInstagram builds the adapter with a Graph access token.
func NewInstagram(client *Client, baseURL, token string) *Instagram {
	return &Instagram{
		operationTable: operationTable{
			def: InstagramMedia,
			types: map[poller.Operation]string{
				InstagramMedia:     "uploads",
				InstagramLiveMedia: "live",
			},
		},
		graph: newGraphAPI(client, poller.PlatformInstagram, baseURL, token),
	}
}

// Platform implements Adapter.
func (*Instagram) Platform() poller.Platform {
	return poller.PlatformInstagram
}

// Fetch implements Adapter.
func (in *Instagram) Fetch(ctx context.Context, target poller.Target) (Response, error) {
	switch target.Operation {
	case InstagramMedia:
		return in.graph.get(ctx, target.ID, "media", "id,caption,media_type,permalink,timestamp")
	case InstagramLiveMedia:
		return in.graph.get(ctx, target.ID, "live_media", "id,media_type,media_product_type,permalink,timestamp")
	default:
		return Response{}, fmt.Errorf("%w: instagram/%s", ErrUnsupportedOperation, target.Operation)
	}
}

type igMedia struct {
	ID        string `json:"id"`
	Caption   string `json:"caption"`
	MediaType string `json:"media_type"`
	Permalink string `json:"permalink"`
	Timestamp string `json:"timestamp"`
}

// Decode implements Adapter.
func (in *Instagram) Decode(op poller.Operation, body []byte) ([]poller.ContentItem, []error, error) {
	raws, err := decodeGraphList(body)
	if err != nil {
		return nil, nil, err
	}
	items := make([]poller.ContentItem, 0, len(raws))
	var discarded []error
	for i, raw := range raws {
		var m igMedia
		if err := json.Unmarshal(raw, &m); err != nil {
			discarded = append(discarded, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		published, err := time.Parse(graphTimeLayout, m.Timestamp)
		if err != nil {
			discarded = append(discarded, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		item := poller.ContentItem{
			ID:          m.ID,
			Platform:    poller.PlatformInstagram,
			Title:       firstLine(m.Caption),
			URL:         m.Permalink,
			Kind:        in.ContentType(op),
			Live:        op == InstagramLiveMedia,
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
func (*Instagram) QuotaExhausted(resp Response) bool {
	return graphQuotaExhausted(resp)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
