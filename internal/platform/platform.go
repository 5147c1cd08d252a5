// Package platform talks to the upstream content APIs. Each Adapter knows how
// to build requests for its operations, decode the responses into content
// items, and recognize a definitive daily-quota rejection.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

var (
	// ErrUnknownPlatform is returned when no adapter is registered for a platform.
	ErrUnknownPlatform = errors.New("platform: unknown platform")
	// ErrUnsupportedOperation is returned for operations an adapter does not implement.
	ErrUnsupportedOperation = errors.New("platform: unsupported operation")
	// ErrMissingCredentials is returned when an adapter has no API key or token.
	ErrMissingCredentials = errors.New("platform: missing credentials")
	// ErrMalformedBody is returned when a response body cannot be decoded at all.
	ErrMalformedBody = errors.New("platform: malformed response body")
)

// Response is the raw upstream answer for one request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Adapter is implemented by each supported platform.
type Adapter interface {
	Platform() poller.Platform
	// Fetch performs one request. Transport failures are returned as errors;
	// any HTTP status is returned as a Response.
	Fetch(ctx context.Context, target poller.Target) (Response, error)
	// Decode parses a successful body. Items that fail validation are
	// returned in discarded; err is set only when the whole body is unusable.
	Decode(op poller.Operation, body []byte) (items []poller.ContentItem, discarded []error, err error)
	// QuotaExhausted reports whether resp is a definitive daily-limit rejection.
	QuotaExhausted(resp Response) bool
	DefaultOperation() poller.Operation
	OperationFor(contentType string) (poller.Operation, bool)
	ContentType(op poller.Operation) string
}

// Registry selects adapters by platform id.
type Registry struct {
	adapters map[poller.Platform]Adapter
}

// NewRegistry indexes adapters by their platform.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[poller.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Get returns the adapter for p.
func (r *Registry) Get(p poller.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}
	return a, nil
}

// Platforms lists registered platforms in stable order.
func (r *Registry) Platforms() []poller.Platform {
	out := make([]poller.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TargetFor builds the fetch target for a schedule.
func (r *Registry) TargetFor(def poller.ScheduleDefinition) (poller.Target, error) {
	a, err := r.Get(def.Platform)
	if err != nil {
		return poller.Target{}, err
	}
	op := def.Operation
	if op == "" {
		op = a.DefaultOperation()
	}
	ct := a.ContentType(op)
	if ct == "" {
		return poller.Target{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedOperation, def.Platform, op)
	}
	return poller.Target{Platform: def.Platform, Operation: op, ID: def.ChannelID, ContentType: ct}, nil
}

// TargetForPrediction builds the fetch target for a prefetch prediction.
func (r *Registry) TargetForPrediction(p poller.PrefetchPrediction) (poller.Target, error) {
	a, err := r.Get(p.Platform)
	if err != nil {
		return poller.Target{}, err
	}
	op, ok := a.OperationFor(p.ContentType)
	if !ok {
		return poller.Target{}, fmt.Errorf("%w: %s content type %q", ErrUnsupportedOperation, p.Platform, p.ContentType)
	}
	return poller.Target{Platform: p.Platform, Operation: op, ID: p.ContentID, ContentType: p.ContentType}, nil
}

// operationTable maps operations to the content type they populate.
type operationTable struct {
	def   poller.Operation
	types map[poller.Operation]string
}

func (t operationTable) DefaultOperation() poller.Operation {
	return t.def
}

func (t operationTable) ContentType(op poller.Operation) string {
	return t.types[op]
}

func (t operationTable) OperationFor(contentType string) (poller.Operation, bool) {
	for op, ct := range t.types {
		if ct == contentType {
			return op, true
		}
	}
	return "", false
}
