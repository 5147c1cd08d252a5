// Package fetch runs one upstream request with retry, backoff and error
// classification. Execute never returns an error for expected failures; the
// outcome's Kind tells the caller what happened.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/platform"
	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/telemetry"
)

// ErrFatal marks outcomes that must not be retried.
var ErrFatal = errors.New("fetch: fatal")

// ErrRetriesExhausted marks a retryable failure that ran out of attempts.
var ErrRetriesExhausted = errors.New("fetch: retries exhausted")

// Clock supplies time and interruptible sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Config tunes the retry policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig is three attempts with 1s, 2s, 4s… backoff capped at 30s.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Outcome is the typed result of Execute.
type Outcome struct {
	Target     poller.Target
	Items      []poller.ContentItem
	Raw        []byte
	Kind       poller.ErrorKind
	StatusCode int
	Attempts   []poller.FetchAttempt
	Discarded  int
	Exhausted  bool
	Err        error
	Duration   time.Duration
}

// Executor performs fetches through the platform adapters.
type Executor struct {
	adapters *platform.Registry
	cfg      Config
	clock    Clock
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New builds an Executor. Zero config fields take DefaultConfig values.
func New(adapters *platform.Registry, cfg Config, clock Clock, logger *zap.Logger) *Executor {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		adapters: adapters,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.Named("fetch"),
		tracer:   telemetry.Tracer(),
	}
}

// Backoff returns the delay before retry n (0-based): min(MaxDelay, BaseDelay·2ⁿ).
func (e *Executor) Backoff(n int) time.Duration {
	d := e.cfg.BaseDelay
	for range n {
		d *= 2
		if d >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	return min(d, e.cfg.MaxDelay)
}

// Execute fetches target, retrying retryable failures.
func (e *Executor) Execute(ctx context.Context, target poller.Target) Outcome {
	start := e.clock.Now()
	out := Outcome{Target: target}

	adapter, err := e.adapters.Get(target.Platform)
	if err != nil {
		out.Kind = poller.KindFatal
		out.Err = fmt.Errorf("%w: %w", ErrFatal, err)
		return e.finish(out, start)
	}

	for attempt := range e.cfg.MaxAttempts {
		if ctx.Err() != nil {
			out.Kind = poller.KindCanceled
			out.Err = ctx.Err()
			return e.finish(out, start)
		}

		res := e.attempt(ctx, adapter, target, attempt)
		out.Attempts = append(out.Attempts, res.record)
		out.StatusCode = res.record.StatusCode
		out.Kind = res.record.Kind
		out.Err = res.err

		if res.record.Kind != poller.KindRetryable {
			if res.record.Kind == poller.KindOK {
				out.Items = res.items
				out.Raw = res.raw
				out.Discarded = res.discarded
			}
			return e.finish(out, start)
		}
		if attempt == e.cfg.MaxAttempts-1 {
			break
		}

		delay := e.Backoff(attempt)
		if hint, ok := retryAfter(res.header, e.clock.Now()); ok {
			delay = hint
		}
		out.Attempts[len(out.Attempts)-1].NextRetryAt = e.clock.Now().Add(delay)
		e.logger.Debug("retrying fetch",
			zap.Stringer("target", target),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(res.err),
		)
		if err := e.clock.Sleep(ctx, delay); err != nil {
			out.Kind = poller.KindCanceled
			out.Err = err
			return e.finish(out, start)
		}
	}

	out.Exhausted = true
	out.Err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, len(out.Attempts), out.Err)
	e.logger.Warn("fetch retries exhausted",
		zap.Stringer("target", target),
		zap.Int("attempts", len(out.Attempts)),
		zap.Int("status", out.StatusCode),
		zap.Error(out.Err),
	)
	return e.finish(out, start)
}

func (e *Executor) finish(out Outcome, start time.Time) Outcome {
	out.Duration = e.clock.Now().Sub(start)
	if out.Kind == poller.KindFatal {
		e.logger.Error("fetch failed",
			zap.Stringer("target", out.Target),
			zap.Int("status", out.StatusCode),
			zap.Error(out.Err),
		)
	}
	telemetry.ObserveDiscarded(string(out.Target.Platform), out.Discarded)
	return out
}

type attemptResult struct {
	record    poller.FetchAttempt
	header    http.Header
	items     []poller.ContentItem
	raw       []byte
	discarded int
	err       error
}

func (e *Executor) attempt(ctx context.Context, adapter platform.Adapter, target poller.Target, index int) attemptResult {
	ctx, span := e.tracer.Start(ctx, "fetch.attempt", trace.WithAttributes(
		attribute.String("platform", string(target.Platform)),
		attribute.String("operation", string(target.Operation)),
		attribute.String("target.id", target.ID),
		attribute.Int("attempt", index),
	))
	defer span.End()

	began := e.clock.Now()
	resp, err := adapter.Fetch(ctx, target)
	res := attemptResult{header: resp.Header}
	res.record = poller.FetchAttempt{Target: target, Index: index, StatusCode: resp.StatusCode}

	switch {
	case err != nil:
		res.record.Kind, res.err = classifyTransport(ctx, err)
	case resp.OK():
		items, discarded, decodeErr := adapter.Decode(target.Operation, resp.Body)
		if decodeErr != nil {
			res.record.Kind = poller.KindFatal
			res.err = fmt.Errorf("%w: %w", ErrFatal, decodeErr)
			break
		}
		for _, d := range discarded {
			e.logger.Debug("discarded invalid item", zap.Stringer("target", target), zap.Error(d))
		}
		res.record.Kind = poller.KindOK
		res.items = items
		res.raw = resp.Body
		res.discarded = len(discarded)
	case adapter.QuotaExhausted(resp):
		res.record.Kind = poller.KindQuotaExceeded
		res.err = fmt.Errorf("%s daily quota exhausted (status %d)", target.Platform, resp.StatusCode)
	case retryableStatus(resp.StatusCode):
		res.record.Kind = poller.KindRetryable
		res.err = fmt.Errorf("upstream status %d", resp.StatusCode)
	default:
		res.record.Kind = poller.KindFatal
		res.err = fmt.Errorf("%w: upstream status %d: %s", ErrFatal, resp.StatusCode, snippet(resp.Body))
	}

	res.record.Duration = e.clock.Now().Sub(began)
	if res.err != nil {
		res.record.Error = res.err.Error()
		span.RecordError(res.err)
		span.SetStatus(codes.Error, string(res.record.Kind))
	}
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.String("outcome", string(res.record.Kind)),
	)
	telemetry.ObserveFetchAttempt(string(target.Platform), string(target.Operation), string(res.record.Kind), res.record.Duration)
	return res
}

func classifyTransport(ctx context.Context, err error) (poller.ErrorKind, error) {
	if ctx.Err() != nil {
		return poller.KindCanceled, err
	}
	if errors.Is(err, platform.ErrMissingCredentials) || errors.Is(err, platform.ErrUnsupportedOperation) ||
		errors.Is(err, platform.ErrResponseTooLarge) {
		return poller.KindFatal, fmt.Errorf("%w: %w", ErrFatal, err)
	}
	return poller.KindRetryable, err
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(0, at.Sub(now)), true
	}
	return 0, false
}

func snippet(body []byte) string {
	const n = 200
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}
