package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// Registry holds one ledger per configured platform.
type Registry struct {
	ledgers map[poller.Platform]*Ledger
}

// NewRegistry groups ledgers by platform. Duplicate platforms are rejected.
func NewRegistry(ledgers ...*Ledger) (*Registry, error) {
	r := &Registry{ledgers: make(map[poller.Platform]*Ledger, len(ledgers))}
	for _, l := range ledgers {
		if _, dup := r.ledgers[l.Platform()]; dup {
			return nil, fmt.Errorf("%w: duplicate ledger for %s", ErrInvalidConfig, l.Platform())
		}
		r.ledgers[l.Platform()] = l
	}
	return r, nil
}

// For returns the ledger for p.
func (r *Registry) For(p poller.Platform) (*Ledger, error) {
	l, ok := r.ledgers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}
	return l, nil
}

// Platforms lists configured platforms in stable order.
func (r *Registry) Platforms() []poller.Platform {
	out := make([]poller.Platform, 0, len(r.ledgers))
	for p := range r.ledgers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats snapshots every ledger.
func (r *Registry) Stats() []Stats {
	platforms := r.Platforms()
	out := make([]Stats, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, r.ledgers[p].Stats())
	}
	return out
}

// Restore reloads persisted state for every ledger.
func (r *Registry) Restore(ctx context.Context) error {
	var errs []error
	for _, p := range r.Platforms() {
		if err := r.ledgers[p].Restore(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
