// Package ratelimit paces outbound API calls with one token bucket per platform.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/streamwatch/internal/telemetry"
	"golang.org/x/time/rate"
)

// Rule is the token bucket shape for one key.
type Rule struct {
	RPS   float64
	Burst int
}

// Config holds rate limiter configuration.
type Config struct {
	Default   Rule
	Overrides map[string]Rule
}

// Limiter manages per-platform rate limits.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	def       Rule
	overrides map[string]Rule
}

// New creates a new Limiter. A non-positive RPS means unlimited.
func New(cfg Config) *Limiter {
	overrides := make(map[string]Rule, len(cfg.Overrides))
	for k, v := range cfg.Overrides {
		overrides[k] = v
	}
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		def:       cfg.Default,
		overrides: overrides,
	}
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	rule, ok := l.overrides[key]
	if !ok {
		rule = l.def
	}
	limit := rate.Limit(rule.RPS)
	if rule.RPS <= 0 {
		limit = rate.Inf
	}
	burst := rule.Burst
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(limit, burst)
	l.limiters[key] = lim
	return lim
}

// Wait blocks until a token is available for key, respecting the context.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	start := time.Now()
	if err := l.limiterFor(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(key, waited)
	}
	return nil
}
