package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/streamwatch/internal/policy/ratelimit"
)

// DefaultMaxBodyBytes bounds how much of a response body is read.
const DefaultMaxBodyBytes = 8 << 20

// ErrResponseTooLarge is returned when a body exceeds the configured limit.
var ErrResponseTooLarge = errors.New("platform: response too large")

// Client is the HTTP transport shared by all adapters. Requests are paced
// per platform before they leave the process.
type Client struct {
	http      *http.Client
	limiter   *ratelimit.Limiter
	userAgent string
	maxBody   int64
}

// ClientConfig configures the shared client. MaxBodyBytes ≤ 0 uses
// DefaultMaxBodyBytes.
type ClientConfig struct {
	Timeout      time.Duration
	UserAgent    string
	Limiter      *ratelimit.Limiter
	MaxBodyBytes int64
}

// NewClient builds a Client. A nil limiter disables pacing.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "streamwatch/1.0"
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		limiter:   limiter,
		userAgent: ua,
		maxBody:   maxBody,
	}
}

// Do sends req after waiting for the platform's token and reads the body.
func (c *Client) Do(ctx context.Context, key string, req *http.Request) (Response, error) {
	if err := c.limiter.Wait(ctx, key); err != nil {
		return Response{}, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%s request: %w", key, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return Response{}, fmt.Errorf("%s read body: %w", key, err)
	}
	if int64(len(body)) > c.maxBody {
		return Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone()},
			fmt.Errorf("%w: %s body exceeds %d bytes", ErrResponseTooLarge, key, c.maxBody)
	}
	return Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}
