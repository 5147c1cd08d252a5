package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// TikTokVideoQuery searches a creator's recent videos through the Research API.
const TikTokVideoQuery poller.Operation = "video_query"

const (
	defaultTikTokBaseURL = "https://open.tiktokapis.com/v2"
	tiktokLookbackDays   = 7
	tiktokMaxCount       = 20
)

// TikTok polls creators by username.
type TikTok struct {
	operationTable
	client  *Client
	baseURL string
	token   string
	clock   poller.Clock
}

// NewTikTok builds the adapter with a client access token.
func NewTikTok(client *Client, baseURL, token string, clock poller.Clock) *TikTok {
	if baseURL == "" {
		baseURL = defaultTikTokBaseURL
	}
	return &TikTok{
		operationTable: operationTable{
			def:   TikTokVideoQuery,
			types: map[poller.Operation]string{TikTokVideoQuery: "uploads"},
		},
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		clock:   clock,
	}
}

// Platform implements Adapter.
func (*TikTok) Platform() poller.Platform {
	return poller.PlatformTikTok
}

type tiktokCondition struct {
	Operation   string   `json:"operation"`
	FieldName   string   `json:"field_name"`
	FieldValues []string `json:"field_values"`
}

type tiktokQuery struct {
	Query struct {
		And []tiktokCondition `json:"and"`
	} `json:"query"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	MaxCount  int    `json:"max_count"`
}

// Fetch implements Adapter.
func (t *TikTok) Fetch(ctx context.Context, target poller.Target) (Response, error) {
	if t.token == "" {
		return Response{}, ErrMissingCredentials
	}
	if target.Operation != TikTokVideoQuery {
		return Response{}, fmt.Errorf("%w: tiktok/%s", ErrUnsupportedOperation, target.Operation)
	}
	now := t.clock.Now().UTC()
	var q tiktokQuery
	q.Query.And = []tiktokCondition{{Operation: "EQ", FieldName: "username", FieldValues: []string{target.ID}}}
	q.StartDate = now.AddDate(0, 0, -tiktokLookbackDays).Format("20060102")
	q.EndDate = now.Format("20060102")
	q.MaxCount = tiktokMaxCount

	payload, err := json.Marshal(q)
	if err != nil {
		return Response{}, fmt.Errorf("encode tiktok query: %w", err)
	}
	u := t.baseURL + "/research/video/query/?fields=id,username,create_time,video_description"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build tiktok request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")
	return t.client.Do(ctx, string(poller.PlatformTikTok), req)
}

type tiktokEnvelope struct {
	Data struct {
		Videos []json.RawMessage `json:"videos"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tiktokVideo struct {
	ID          json.Number `json:"id"`
	Username    string      `json:"username"`
	CreateTime  int64       `json:"create_time"`
	Description string      `json:"video_description"`
}

// Decode implements Adapter.
func (t *TikTok) Decode(op poller.Operation, body []byte) ([]poller.ContentItem, []error, error) {
	var env tiktokEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	if env.Error.Code != "" && env.Error.Code != "ok" {
		return nil, nil, fmt.Errorf("%w: tiktok error %s: %s", ErrMalformedBody, env.Error.Code, env.Error.Message)
	}
	items := make([]poller.ContentItem, 0, len(env.Data.Videos))
	var discarded []error
	for i, raw := range env.Data.Videos {
		var v tiktokVideo
		if err := json.Unmarshal(raw, &v); err != nil {
			discarded = append(discarded, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		if v.CreateTime <= 0 {
			discarded = append(discarded, fmt.Errorf("item %d: missing create_time", i))
			continue
		}
		id := v.ID.String()
		item := poller.ContentItem{
			ID:          id,
			Platform:    poller.PlatformTikTok,
			ChannelID:   v.Username,
			Title:       firstLine(v.Description),
			URL:         "https://www.tiktok.com/@" + v.Username + "/video/" + id,
			Kind:        t.ContentType(op),
			PublishedAt: time.Unix(v.CreateTime, 0).UTC(),
		}
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			discarded = append(discarded, fmt.Errorf("item %d: invalid id %q", i, id))
			continue
		}
		items = append(items, item)
	}
	return items, discarded, nil
}

// QuotaExhausted implements Adapter. The Research API answers 429 with
// daily_quota_limit_exceeded once the day's request allowance is spent.
func (*TikTok) QuotaExhausted(resp Response) bool {
	if resp.StatusCode != http.StatusTooManyRequests {
		return false
	}
	var env tiktokEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return false
	}
	return env.Error.Code == "daily_quota_limit_exceeded"
}
