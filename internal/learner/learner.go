// Package learner keeps per-schedule effectiveness history and derives
// scores and advisory slot suggestions from it. It never edits schedules.
package learner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// Config bounds history and scoring.
type Config struct {
	// ScoreWindow is how many recent records feed Score.
	ScoreWindow int
	// RetentionDays drops records older than this.
	RetentionDays int
	// MaxRecordsPerSchedule caps in-memory history per schedule.
	MaxRecordsPerSchedule int
	// LowValueAttempts is the attempt count after which a zero-yield schedule is low value.
	LowValueAttempts int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{ScoreWindow: 20, RetentionDays: 30, MaxRecordsPerSchedule: 200, LowValueAttempts: 10}
}

// Summary is the dashboard view of one schedule's history.
type Summary struct {
	ScheduleID   string                       `json:"schedule_id"`
	Attempts     int                          `json:"attempts"`
	QuotaSpent   int                          `json:"quota_spent"`
	ContentFound int                          `json:"content_found"`
	Score        float64                      `json:"score"`
	LowValue     bool                         `json:"low_value"`
	LastRecord   *poller.EffectivenessRecord  `json:"last_record,omitempty"`
	Recent       []poller.EffectivenessRecord `json:"recent"`
}

// Learner records outcomes and answers effectiveness questions.
type Learner struct {
	cfg    Config
	store  poller.RecordStore
	ids    poller.IDGenerator
	clock  poller.Clock
	logger *zap.Logger

	mu      sync.RWMutex
	history map[string]*scheduleHistory
}

// scheduleHistory serializes appends for one schedule.
type scheduleHistory struct {
	mu      sync.Mutex
	records []poller.EffectivenessRecord
}

// New builds a Learner. store may be nil for memory-only history.
func New(cfg Config, store poller.RecordStore, ids poller.IDGenerator, clock poller.Clock, logger *zap.Logger) *Learner {
	def := DefaultConfig()
	if cfg.ScoreWindow <= 0 {
		cfg.ScoreWindow = def.ScoreWindow
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if cfg.MaxRecordsPerSchedule <= 0 {
		cfg.MaxRecordsPerSchedule = def.MaxRecordsPerSchedule
	}
	if cfg.LowValueAttempts <= 0 {
		cfg.LowValueAttempts = def.LowValueAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{
		cfg:     cfg,
		store:   store,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("learner"),
		history: make(map[string]*scheduleHistory),
	}
}

func (l *Learner) historyFor(id string) *scheduleHistory {
	l.mu.RLock()
	h, ok := l.history[id]
	l.mu.RUnlock()
	if ok {
		return h
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok = l.history[id]; !ok {
		h = &scheduleHistory{}
		l.history[id] = h
	}
	return h
}

// Record appends rec to its schedule's history. Timestamps are forced to be
// strictly increasing per schedule; missing ids and timestamps are filled in.
func (l *Learner) Record(ctx context.Context, rec poller.EffectivenessRecord) (poller.EffectivenessRecord, error) {
	if rec.ScheduleID == "" {
		return rec, fmt.Errorf("record: schedule id is required")
	}
	if rec.QuotaSpent < 0 || rec.ContentFound < 0 {
		return rec, fmt.Errorf("record %s: negative counters", rec.ScheduleID)
	}
	if rec.ID == "" && l.ids != nil {
		id, err := l.ids.NewID()
		if err != nil {
			return rec, fmt.Errorf("record id: %w", err)
		}
		rec.ID = id
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.clock.Now()
	}

	h := l.historyFor(rec.ScheduleID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.records); n > 0 {
		if last := h.records[n-1].Timestamp; !rec.Timestamp.After(last) {
			rec.Timestamp = last.Add(time.Microsecond)
		}
	}
	if l.store != nil {
		if err := l.store.Append(ctx, rec); err != nil {
			return rec, fmt.Errorf("append record: %w", err)
		}
	}
	h.records = append(h.records, rec)
	h.records = l.trim(h.records)
	return rec, nil
}

func (l *Learner) trim(recs []poller.EffectivenessRecord) []poller.EffectivenessRecord {
	cutoff := l.clock.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	drop := 0
	for drop < len(recs) && recs[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if over := len(recs) - drop - l.cfg.MaxRecordsPerSchedule; over > 0 {
		drop += over
	}
	if drop == 0 {
		return recs
	}
	return append([]poller.EffectivenessRecord(nil), recs[drop:]...)
}

// History returns a copy of a schedule's retained records, oldest first.
func (l *Learner) History(scheduleID string) []poller.EffectivenessRecord {
	l.mu.RLock()
	h, ok := l.history[scheduleID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]poller.EffectivenessRecord(nil), h.records...)
}

// Score is sum(found)/sum(spent) over the last ScoreWindow records, or 0
// when nothing was spent.
func (l *Learner) Score(scheduleID string) float64 {
	recs := l.History(scheduleID)
	if len(recs) > l.cfg.ScoreWindow {
		recs = recs[len(recs)-l.cfg.ScoreWindow:]
	}
	return ratio(recs)
}

func ratio(recs []poller.EffectivenessRecord) float64 {
	var found, spent int
	for _, r := range recs {
		found += r.ContentFound
		spent += r.QuotaSpent
	}
	if spent <= 0 {
		return 0
	}
	return float64(found) / float64(spent)
}

// IsLowValue flags schedules with enough attempts and no discoveries.
func (l *Learner) IsLowValue(scheduleID string) bool {
	recs := l.History(scheduleID)
	if len(recs) < l.cfg.LowValueAttempts {
		return false
	}
	for _, r := range recs {
		if r.ContentFound > 0 {
			return false
		}
	}
	return true
}

// Summary aggregates a schedule's history for display.
func (l *Learner) Summary(scheduleID string, recent int) Summary {
	recs := l.History(scheduleID)
	s := Summary{ScheduleID: scheduleID, Attempts: len(recs), Score: l.Score(scheduleID), LowValue: l.IsLowValue(scheduleID)}
	for _, r := range recs {
		s.QuotaSpent += r.QuotaSpent
		s.ContentFound += r.ContentFound
	}
	if len(recs) > 0 {
		last := recs[len(recs)-1]
		s.LastRecord = &last
	}
	if recent > 0 && len(recs) > recent {
		recs = recs[len(recs)-recent:]
	}
	s.Recent = recs
	if s.Recent == nil {
		s.Recent = []poller.EffectivenessRecord{}
	}
	return s
}

// Load replaces in-memory history with retained records from the store.
func (l *Learner) Load(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	since := l.clock.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	recs, err := l.store.LoadSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("load effectiveness history: %w", err)
	}
	grouped := make(map[string][]poller.EffectivenessRecord)
	for _, r := range recs {
		grouped[r.ScheduleID] = append(grouped[r.ScheduleID], r)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = make(map[string]*scheduleHistory, len(grouped))
	for id, rs := range grouped {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Timestamp.Before(rs[j].Timestamp) })
		l.history[id] = &scheduleHistory{records: l.trim(rs)}
	}
	l.logger.Info("loaded effectiveness history", zap.Int("records", len(recs)), zap.Int("schedules", len(grouped)))
	return len(recs), nil
}

// Prune deletes persisted records older than the retention window.
func (l *Learner) Prune(ctx context.Context) (int64, error) {
	l.mu.RLock()
	for _, h := range l.history {
		h.mu.Lock()
		h.records = l.trim(h.records)
		h.mu.Unlock()
	}
	l.mu.RUnlock()
	if l.store == nil {
		return 0, nil
	}
	n, err := l.store.DeleteBefore(ctx, l.clock.Now().AddDate(0, 0, -l.cfg.RetentionDays))
	if err != nil {
		return 0, fmt.Errorf("prune effectiveness history: %w", err)
	}
	return n, nil
}
