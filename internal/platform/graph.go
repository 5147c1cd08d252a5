package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// graphAPI is the request and error plumbing shared by the Facebook and
// Instagram adapters, which both sit on the Meta Graph API.
type graphAPI struct {
	client   *Client
	baseURL  string
	token    string
	platform poller.Platform
}

func newGraphAPI(client *Client, platform poller.Platform, baseURL, token string) graphAPI {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	return graphAPI{client: client, baseURL: strings.TrimRight(baseURL, "/"), token: token, platform: platform}
}

func (g graphAPI) get(ctx context.Context, node, edge, fields string) (Response, error) {
	if g.token == "" {
		return Response{}, ErrMissingCredentials
	}
	q := url.Values{}
	q.Set("fields", fields)
	q.Set("access_token", g.token)
	u := fmt.Sprintf("%s/%s/%s?%s", g.baseURL, url.PathEscape(node), edge, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build %s request: %w", g.platform, err)
	}
	return g.client.Do(ctx, string(g.platform), req)
}

type graphList struct {
	Data []json.RawMessage `json:"data"`
}

func decodeGraphList(body []byte) ([]json.RawMessage, error) {
	var list graphList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	return list.Data, nil
}

// Graph API throttling codes: 4 application, 17 user, 32 page request limit.
var graphQuotaCodes = map[int]bool{4: true, 17: true, 32: true}

func graphQuotaExhausted(resp Response) bool {
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusForbidden {
		return false
	}
	var body struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return false
	}
	return graphQuotaCodes[body.Error.Code]
}
