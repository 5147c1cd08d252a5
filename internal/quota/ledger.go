// Package quota enforces the daily upstream cost budget for each platform.
//
// A Ledger admits work through TryReserve and later settles each reservation
// with Commit (the attempt reached the upstream) or Release (it did not). All
// counter changes happen inside one mutex-guarded critical section so
// concurrent callers can never push used+reserved past the daily limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/telemetry"
)

// DefaultTimezone matches the YouTube Data API quota reset.
const DefaultTimezone = "America/Los_Angeles"

// Reason explains a denied reservation.
type Reason string

// Denial reasons.
const (
	ReasonNone      Reason = ""
	ReasonExhausted Reason = "exhausted"
	ReasonLockedOut Reason = "locked_out"
	ReasonInvalid   Reason = "invalid"
)

var (
	// ErrInvalidConfig is returned when a ledger cannot be constructed.
	ErrInvalidConfig = errors.New("quota: invalid config")
	// ErrUnknownPlatform is returned by the Registry for unconfigured platforms.
	ErrUnknownPlatform = errors.New("quota: unknown platform")
)

// Config describes one platform budget.
type Config struct {
	Platform     poller.Platform
	DailyLimit   int
	SafetyMargin int
	Costs        map[poller.Operation]int
	DefaultCost  int
	Location     *time.Location
}

// Reservation is a provisional hold on quota units.
type Reservation struct {
	ID        string           `json:"id"`
	Platform  poller.Platform  `json:"platform"`
	Operation poller.Operation `json:"operation"`
	Units     int              `json:"units"`
	CreatedAt time.Time        `json:"created_at"`
}

// Admission is the result of TryReserve.
type Admission struct {
	Reservation Reservation
	Granted     bool
	Remaining   int
	Reason      Reason
}

// Stats is a point-in-time snapshot of a ledger.
type Stats struct {
	Platform     poller.Platform                            `json:"platform"`
	Used         int                                        `json:"used"`
	Reserved     int                                        `json:"reserved"`
	Limit        int                                        `json:"limit"`
	SafetyMargin int                                        `json:"safety_margin"`
	Remaining    int                                        `json:"remaining"`
	Available    int                                        `json:"available"`
	Percentage   float64                                    `json:"percentage"`
	Operations   map[poller.Operation]poller.OperationUsage `json:"operations"`
	WindowStart  time.Time                                  `json:"window_start"`
	NextReset    time.Time                                  `json:"next_reset"`
	Locked       bool                                       `json:"locked"`
	LockedUntil  time.Time                                  `json:"locked_until,omitzero"`
}

// Ledger tracks used and reserved units for one platform's daily window.
type Ledger struct {
	cfg    Config
	store  poller.QuotaStateStore
	clock  poller.Clock
	logger *zap.Logger

	mu          sync.Mutex
	windowStart time.Time
	used        int
	reserved    int
	lockedUntil time.Time
	ops         map[poller.Operation]poller.OperationUsage
	pending     map[string]Reservation
	seq         uint64
	version     int64

	saveMu    sync.Mutex
	savedUpTo int64
}

// NewLedger validates cfg and returns a ledger positioned in the current window.
// store may be nil, in which case state lives only in memory.
func NewLedger(cfg Config, store poller.QuotaStateStore, clock poller.Clock, logger *zap.Logger) (*Ledger, error) {
	if !cfg.Platform.Valid() {
		return nil, fmt.Errorf("%w: platform %q", ErrInvalidConfig, cfg.Platform)
	}
	if cfg.DailyLimit <= 0 {
		return nil, fmt.Errorf("%w: daily limit must be positive", ErrInvalidConfig)
	}
	if cfg.SafetyMargin < 0 || cfg.SafetyMargin >= cfg.DailyLimit {
		return nil, fmt.Errorf("%w: safety margin must be in [0, daily limit)", ErrInvalidConfig)
	}
	if cfg.DefaultCost <= 0 {
		cfg.DefaultCost = 1
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		cfg.Location = loc
	}
	costs := make(map[poller.Operation]int, len(cfg.Costs))
	for op, c := range cfg.Costs {
		if c <= 0 {
			return nil, fmt.Errorf("%w: cost for %q must be positive", ErrInvalidConfig, op)
		}
		costs[op] = c
	}
	cfg.Costs = costs
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		cfg:     cfg,
		store:   store,
		clock:   clock,
		logger:  logger.Named("quota").With(zap.String("platform", string(cfg.Platform))),
		ops:     make(map[poller.Operation]poller.OperationUsage),
		pending: make(map[string]Reservation),
	}
	l.windowStart = l.startOfWindow(clock.Now())
	l.observeLocked()
	return l, nil
}

// Platform returns the platform this ledger budgets.
func (l *Ledger) Platform() poller.Platform {
	return l.cfg.Platform
}

// Cost returns the weighted cost of one call to op.
func (l *Ledger) Cost(op poller.Operation) int {
	if c, ok := l.cfg.Costs[op]; ok {
		return c
	}
	return l.cfg.DefaultCost
}

// TryReserve atomically checks the budget and holds units for op.
func (l *Ledger) TryReserve(op poller.Operation, units int) Admission {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(now)

	remaining := l.cfg.DailyLimit - l.used - l.reserved
	switch {
	case units <= 0:
		return Admission{Remaining: remaining, Reason: ReasonInvalid}
	case l.lockedLocked(now):
		telemetry.ObserveQuotaDenial(string(l.cfg.Platform), string(ReasonLockedOut))
		return Admission{Remaining: remaining, Reason: ReasonLockedOut}
	case l.used+l.reserved+units > l.cfg.DailyLimit-l.cfg.SafetyMargin:
		telemetry.ObserveQuotaDenial(string(l.cfg.Platform), string(ReasonExhausted))
		return Admission{Remaining: remaining, Reason: ReasonExhausted}
	}

	l.seq++
	res := Reservation{
		ID:        string(l.cfg.Platform) + "-" + strconv.FormatUint(l.seq, 10),
		Platform:  l.cfg.Platform,
		Operation: op,
		Units:     units,
		CreatedAt: now,
	}
	l.pending[res.ID] = res
	l.reserved += units
	l.observeLocked()
	return Admission{Reservation: res, Granted: true, Remaining: remaining - units}
}

// Commit converts a reservation into used units. Committing an unknown or
// already settled reservation is a no-op.
func (l *Ledger) Commit(ctx context.Context, res Reservation) error {
	now := l.clock.Now()
	l.mu.Lock()
	held, ok := l.pending[res.ID]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	delete(l.pending, res.ID)
	l.reserved -= held.Units
	l.rollLocked(now)
	l.used += held.Units
	usage := l.ops[held.Operation]
	usage.Calls++
	usage.Units += held.Units
	l.ops[held.Operation] = usage
	state := l.snapshotLocked(now)
	l.mu.Unlock()

	return l.persist(ctx, state)
}

// Release drops a reservation without charging it. Unknown or settled
// reservations are ignored.
func (l *Ledger) Release(res Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.pending[res.ID]
	if !ok {
		return
	}
	delete(l.pending, res.ID)
	l.reserved -= held.Units
	l.observeLocked()
}

// Lock records a definitive upstream exhaustion signal. Every TryReserve
// fails until the next daily window boundary.
func (l *Ledger) Lock(ctx context.Context, reason string) error {
	now := l.clock.Now()
	l.mu.Lock()
	l.rollLocked(now)
	until := l.nextBoundary()
	if !l.lockedUntil.Before(until) {
		l.mu.Unlock()
		return nil
	}
	l.lockedUntil = until
	state := l.snapshotLocked(now)
	l.mu.Unlock()

	l.logger.Warn("quota locked out",
		zap.String("reason", reason),
		zap.Time("locked_until", until),
	)
	return l.persist(ctx, state)
}

// Reset zeroes the window counters and clears any lockout. Outstanding
// reservations stay held so their Commit or Release still balances.
func (l *Ledger) Reset(ctx context.Context) error {
	now := l.clock.Now()
	l.mu.Lock()
	l.windowStart = l.startOfWindow(now)
	l.used = 0
	l.lockedUntil = time.Time{}
	l.ops = make(map[poller.Operation]poller.OperationUsage)
	state := l.snapshotLocked(now)
	l.mu.Unlock()

	l.logger.Info("quota reset")
	return l.persist(ctx, state)
}

// Available returns how many units TryReserve could still grant right now.
func (l *Ledger) Available() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(now)
	if l.lockedLocked(now) {
		return 0
	}
	return max(0, l.cfg.DailyLimit-l.cfg.SafetyMargin-l.used-l.reserved)
}

// Stats returns a snapshot of the ledger.
func (l *Ledger) Stats() Stats {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(now)

	ops := make(map[poller.Operation]poller.OperationUsage, len(l.ops))
	for k, v := range l.ops {
		ops[k] = v
	}
	locked := l.lockedLocked(now)
	available := max(0, l.cfg.DailyLimit-l.cfg.SafetyMargin-l.used-l.reserved)
	if locked {
		available = 0
	}
	st := Stats{
		Platform:     l.cfg.Platform,
		Used:         l.used,
		Reserved:     l.reserved,
		Limit:        l.cfg.DailyLimit,
		SafetyMargin: l.cfg.SafetyMargin,
		Remaining:    l.cfg.DailyLimit - l.used - l.reserved,
		Available:    available,
		Percentage:   float64(l.used) / float64(l.cfg.DailyLimit) * 100,
		Operations:   ops,
		WindowStart:  l.windowStart,
		NextReset:    l.nextBoundary(),
		Locked:       locked,
	}
	if locked {
		st.LockedUntil = l.lockedUntil
	}
	return st
}

// Restore loads persisted state. State from an earlier window is discarded.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	state, err := l.store.Load(ctx, l.cfg.Platform)
	if errors.Is(err, poller.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load quota state: %w", err)
	}

	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(now)
	if state.Version > l.version {
		l.version = state.Version
	}
	if !state.WindowStart.Equal(l.windowStart) {
		l.logger.Info("discarding quota state from previous window", zap.Time("window_start", state.WindowStart))
		return nil
	}
	l.used = max(0, state.Used)
	if state.LockedUntil.After(now) {
		l.lockedUntil = state.LockedUntil
	}
	l.ops = make(map[poller.Operation]poller.OperationUsage, len(state.Operations))
	for k, v := range state.Operations {
		l.ops[k] = v
	}
	l.observeLocked()
	return nil
}

func (l *Ledger) startOfWindow(t time.Time) time.Time {
	local := t.In(l.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.cfg.Location)
}

func (l *Ledger) nextBoundary() time.Time {
	return l.windowStart.AddDate(0, 0, 1)
}

// rollLocked starts a new window once now passes the boundary. Reservations
// in flight keep their hold.
func (l *Ledger) rollLocked(now time.Time) {
	if now.Before(l.nextBoundary()) {
		return
	}
	l.windowStart = l.startOfWindow(now)
	l.used = 0
	l.ops = make(map[poller.Operation]poller.OperationUsage)
	if !l.lockedUntil.After(now) {
		l.lockedUntil = time.Time{}
	}
	l.observeLocked()
}

func (l *Ledger) lockedLocked(now time.Time) bool {
	return now.Before(l.lockedUntil)
}

func (l *Ledger) snapshotLocked(now time.Time) poller.QuotaState {
	l.version++
	ops := make(map[poller.Operation]poller.OperationUsage, len(l.ops))
	for k, v := range l.ops {
		ops[k] = v
	}
	l.observeLocked()
	return poller.QuotaState{
		Platform:    l.cfg.Platform,
		WindowStart: l.windowStart,
		Used:        l.used,
		LockedUntil: l.lockedUntil,
		Operations:  ops,
		Version:     l.version,
		UpdatedAt:   now,
	}
}

func (l *Ledger) observeLocked() {
	telemetry.ObserveQuota(string(l.cfg.Platform), l.used, l.reserved, l.cfg.DailyLimit, l.lockedLocked(l.clock.Now()))
}

// persist writes state unless a newer version has already been saved.
func (l *Ledger) persist(ctx context.Context, state poller.QuotaState) error {
	if l.store == nil {
		return nil
	}
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	if state.Version <= l.savedUpTo {
		return nil
	}
	if err := l.store.Save(ctx, state); err != nil {
		l.logger.Error("failed to persist quota state", zap.Error(err))
		return fmt.Errorf("save quota state: %w", err)
	}
	l.savedUpTo = state.Version
	return nil
}
