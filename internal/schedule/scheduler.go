// Package schedule decides which schedule definitions are due, tracks each
// schedule's state within a slot and orders admission under quota pressure.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/telemetry"
)

// DefaultTolerance is how far from a slot's wall-clock time a tick may land
// and still count as that slot.
const DefaultTolerance = 2 * time.Minute

// Scorer supplies recent effectiveness for tie-breaking.
type Scorer interface {
	Score(scheduleID string) float64
}

// Item is one due slot of one schedule.
type Item struct {
	Definition poller.ScheduleDefinition
	Slot       poller.Slot
	// SlotKey identifies the slot occurrence: local date plus slot label.
	SlotKey string
	// SlotTime is the occurrence's wall-clock time.
	SlotTime time.Time
	// Pending is set when the item carries over from an earlier no-quota skip.
	Pending bool
}

// ID returns the schedule id.
func (i Item) ID() string { return i.Definition.ID }

// Status is the dashboard view of one schedule.
type Status struct {
	ScheduleID  string               `json:"schedule_id"`
	ChannelID   string               `json:"channel_id"`
	Platform    poller.Platform      `json:"platform"`
	Priority    int                  `json:"priority"`
	Active      bool                 `json:"active"`
	State       poller.ScheduleState `json:"state"`
	LastOutcome poller.ScheduleState `json:"last_outcome,omitempty"`
	LastKind    poller.ErrorKind     `json:"last_kind,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
	LastSlot    string               `json:"last_slot,omitempty"`
	LastRunAt   time.Time            `json:"last_run_at,omitzero"`
	NextSlotAt  time.Time            `json:"next_slot_at,omitzero"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Result is what the orchestrator reports when an item leaves execution.
type Result struct {
	State poller.ScheduleState
	Kind  poller.ErrorKind
	Err   error
}

type entry struct {
	def         poller.ScheduleDefinition
	state       poller.ScheduleState
	handledKey  string
	pending     *Item
	lastOutcome poller.ScheduleState
	lastKind    poller.ErrorKind
	lastErr     string
	lastSlot    string
	lastRunAt   time.Time
	updatedAt   time.Time
}

// Scheduler owns per-schedule state. Definitions are re-read from the store
// on every Due call.
type Scheduler struct {
	store     poller.ScheduleStore
	scorer    Scorer
	clock     poller.Clock
	logger    *zap.Logger
	tolerance time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a Scheduler. scorer may be nil, in which case ties fall back to id order.
func New(store poller.ScheduleStore, scorer Scorer, clock poller.Clock, tolerance time.Duration, logger *zap.Logger) *Scheduler {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:     store,
		scorer:    scorer,
		clock:     clock,
		logger:    logger.Named("scheduler"),
		tolerance: tolerance,
		entries:   make(map[string]*entry),
	}
}

// Definitions returns the valid schedule definitions currently in the store.
func (s *Scheduler) Definitions(ctx context.Context) ([]poller.ScheduleDefinition, error) {
	defs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	valid := defs[:0:0]
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			s.logger.Warn("skipping invalid schedule", zap.String("schedule_id", def.ID), zap.Error(err))
			continue
		}
		if _, dup := seen[def.ID]; dup {
			s.logger.Warn("skipping duplicate schedule", zap.String("schedule_id", def.ID))
			continue
		}
		seen[def.ID] = struct{}{}
		valid = append(valid, def)
	}
	return valid, nil
}

// Due returns every schedule whose slot matches now, plus items still pending
// from an earlier no-quota skip. Pending items are dropped once the next slot
// of the same schedule comes due.
func (s *Scheduler) Due(ctx context.Context, now time.Time) ([]Item, error) {
	defs, err := s.Definitions(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string]struct{}, len(defs))
	var due []Item
	for _, def := range defs {
		live[def.ID] = struct{}{}
		e := s.entries[def.ID]
		if e == nil {
			e = &entry{def: def, state: poller.StateIdle, updatedAt: now}
			s.entries[def.ID] = e
		}
		e.def = def
		if !def.Active {
			e.pending = nil
			e.state = poller.StateIdle
			continue
		}
		if e.state != poller.StateIdle && e.state != poller.StateSkippedNoQuota && e.state != poller.StateDue {
			// Still reserving or executing from an earlier tick.
			continue
		}

		item, ok := s.match(def, now)
		switch {
		case ok && item.SlotKey != e.handledKey && (e.pending == nil || e.pending.SlotKey != item.SlotKey):
			if e.pending != nil {
				s.logger.Info("pending slot superseded",
					zap.String("schedule_id", def.ID),
					zap.String("slot_key", e.pending.SlotKey),
					zap.String("next_slot_key", item.SlotKey))
			}
			e.pending = nil
			due = append(due, item)
		case e.pending != nil:
			p := *e.pending
			p.Definition = def
			p.Pending = true
			due = append(due, p)
		default:
			continue
		}
		e.state = poller.StateDue
		e.updatedAt = now
	}
	for id := range s.entries {
		if _, ok := live[id]; !ok {
			delete(s.entries, id)
		}
	}
	return due, nil
}

// match finds the slot occurrence of def within tolerance of now.
func (s *Scheduler) match(def poller.ScheduleDefinition, now time.Time) (Item, bool) {
	loc, err := def.Location()
	if err != nil {
		return Item{}, false
	}
	local := now.In(loc)
	for _, slot := range def.Slots {
		for _, offset := range []int{0, -1, 1} {
			at := time.Date(local.Year(), local.Month(), local.Day()+offset, slot.Hour, slot.Minute, 0, 0, loc)
			if at.Weekday() != slot.Weekday {
				continue
			}
			diff := now.Sub(at)
			if diff < 0 {
				diff = -diff
			}
			if diff <= s.tolerance {
				return Item{
					Definition: def,
					Slot:       slot,
					SlotKey:    slotKey(at, slot),
					SlotTime:   at,
				}, true
			}
		}
	}
	return Item{}, false
}

func slotKey(at time.Time, slot poller.Slot) string {
	return at.Format("2006-01-02") + " " + slot.String()
}

// NextSlot returns the first slot occurrence of def strictly after now.
func NextSlot(def poller.ScheduleDefinition, now time.Time) (time.Time, bool) {
	loc, err := def.Location()
	if err != nil || len(def.Slots) == 0 {
		return time.Time{}, false
	}
	local := now.In(loc)
	var best time.Time
	for _, slot := range def.Slots {
		for offset := 0; offset <= 7; offset++ {
			at := time.Date(local.Year(), local.Month(), local.Day()+offset, slot.Hour, slot.Minute, 0, 0, loc)
			if at.Weekday() != slot.Weekday || !at.After(now) {
				continue
			}
			if best.IsZero() || at.Before(best) {
				best = at
			}
			break
		}
	}
	return best, !best.IsZero()
}

// Admit orders items by priority (highest first), then by lowest recent
// effectiveness, then by schedule id, and offers each to reserve. Once an
// item is denied, strictly lower-priority items on the same platform are
// denied without being offered.
func (s *Scheduler) Admit(items []Item, reserve func(Item) bool) (admitted, denied []Item) {
	ordered := append([]Item(nil), items...)
	scores := make(map[string]float64, len(ordered))
	for _, it := range ordered {
		if s.scorer != nil {
			scores[it.ID()] = s.scorer.Score(it.ID())
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Definition.Priority != b.Definition.Priority {
			return a.Definition.Priority > b.Definition.Priority
		}
		if scores[a.ID()] != scores[b.ID()] {
			return scores[a.ID()] < scores[b.ID()]
		}
		return a.ID() < b.ID()
	})

	deniedAt := make(map[poller.Platform]int)
	for _, it := range ordered {
		p := it.Definition.Platform
		if floor, ok := deniedAt[p]; ok && it.Definition.Priority < floor {
			denied = append(denied, it)
			continue
		}
		s.Transition(it, poller.StateReserving)
		if reserve(it) {
			admitted = append(admitted, it)
			continue
		}
		if _, ok := deniedAt[p]; !ok {
			deniedAt[p] = it.Definition.Priority
		}
		denied = append(denied, it)
	}
	return admitted, denied
}

// Transition moves an in-flight item to a non-terminal state.
func (s *Scheduler) Transition(item Item, state poller.ScheduleState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entries[item.ID()]; e != nil {
		e.state = state
		e.updatedAt = s.clock.Now()
	}
}

// Complete records how an item left the cycle. A no-quota skip keeps the
// item pending so later ticks retry it; every other outcome marks the slot
// handled and returns the schedule to idle.
func (s *Scheduler) Complete(item Item, res Result) {
	now := s.clock.Now()
	s.mu.Lock()
	e := s.entries[item.ID()]
	if e == nil {
		e = &entry{def: item.Definition}
		s.entries[item.ID()] = e
	}
	e.lastOutcome = res.State
	e.lastKind = res.Kind
	e.lastErr = ""
	if res.Err != nil {
		e.lastErr = res.Err.Error()
	}
	e.lastSlot = item.SlotKey
	e.updatedAt = now
	if res.State == poller.StateSkippedNoQuota {
		p := item
		e.pending = &p
		e.state = poller.StateSkippedNoQuota
	} else {
		e.pending = nil
		e.handledKey = item.SlotKey
		e.state = poller.StateIdle
		if res.State == poller.StateRecorded || res.State == poller.StateFailed {
			e.lastRunAt = now
		}
	}
	s.mu.Unlock()

	telemetry.ObserveScheduleOutcome(string(item.Definition.Platform), string(res.State))
	fields := []zap.Field{
		zap.String("schedule_id", item.ID()),
		zap.String("slot_key", item.SlotKey),
		zap.String("state", string(res.State)),
	}
	if res.Kind != "" {
		fields = append(fields, zap.String("kind", string(res.Kind)))
	}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	}
	if res.State == poller.StateFailed {
		s.logger.Warn("schedule failed for slot", fields...)
		return
	}
	s.logger.Debug("schedule slot completed", fields...)
}

// Status returns a snapshot of every known schedule, ordered by id.
func (s *Scheduler) Status() []Status {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for id, e := range s.entries {
		st := Status{
			ScheduleID:  id,
			ChannelID:   e.def.ChannelID,
			Platform:    e.def.Platform,
			Priority:    e.def.Priority,
			Active:      e.def.Active,
			State:       e.state,
			LastOutcome: e.lastOutcome,
			LastKind:    e.lastKind,
			LastError:   e.lastErr,
			LastSlot:    e.lastSlot,
			LastRunAt:   e.lastRunAt,
			UpdatedAt:   e.updatedAt,
		}
		if e.def.Active {
			st.NextSlotAt, _ = NextSlot(e.def, now)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
	return out
}
