// Package poller defines core types shared across the polling subsystems.
package poller

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Platform identifies an upstream content provider.
type Platform string

// Supported platforms.
const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{PlatformYouTube, PlatformTikTok, PlatformFacebook, PlatformInstagram}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// Operation names one upstream API call type. Each operation has a weighted
// quota cost configured on the ledger.
type Operation string

// ErrorKind classifies the terminal result of a fetch.
type ErrorKind string

// Fetch outcome kinds.
const (
	KindOK            ErrorKind = "ok"
	KindRetryable     ErrorKind = "retryable"
	KindFatal         ErrorKind = "fatal"
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindCanceled      ErrorKind = "canceled"
)

// Completed reports whether the kind represents an attempt that reached the
// upstream and got a definitive answer. Only completed attempts keep quota.
func (k ErrorKind) Completed() bool {
	return k == KindOK || k == KindQuotaExceeded
}

// ScheduleState is the lifecycle position of a schedule within one slot.
type ScheduleState string

// Schedule states.
const (
	StateIdle              ScheduleState = "idle"
	StateDue               ScheduleState = "due"
	StateReserving         ScheduleState = "reserving"
	StateExecuting         ScheduleState = "executing"
	StateRecorded          ScheduleState = "recorded"
	StateSkippedCacheFresh ScheduleState = "skipped_cache_fresh"
	StateSkippedNoQuota    ScheduleState = "skipped_no_quota"
	StateFailed            ScheduleState = "failed"
)

// Target identifies what a single fetch retrieves.
type Target struct {
	Platform    Platform  `json:"platform"`
	Operation   Operation `json:"operation"`
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
}

// CacheKey returns the cache key under which the target's payload is stored.
func (t Target) CacheKey() CacheKey {
	return CacheKey{Platform: t.Platform, ContentType: t.ContentType, Key: t.ID}
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Platform, t.Operation, t.ID)
}

// ContentItem is one piece of content discovered upstream.
type ContentItem struct {
	ID          string    `json:"id"`
	Platform    Platform  `json:"platform"`
	ChannelID   string    `json:"channel_id,omitempty"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Live        bool      `json:"live"`
	PublishedAt time.Time `json:"published_at"`
}

// Validate rejects items that cannot be stored or announced.
func (c ContentItem) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("content id is required")
	}
	if !c.Platform.Valid() {
		return fmt.Errorf("unknown platform %q", c.Platform)
	}
	return nil
}

// Slot is a recurring weekly poll time in the schedule's local timezone.
type Slot struct {
	Weekday time.Weekday `json:"weekday"`
	Hour    int          `json:"hour"`
	Minute  int          `json:"minute"`
}

// Validate checks the weekday and 00:00–23:59 time bounds.
func (s Slot) Validate() error {
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return fmt.Errorf("invalid weekday %d", s.Weekday)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("invalid hour %d", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("invalid minute %d", s.Minute)
	}
	return nil
}

// MinuteOfWeek returns the slot position measured from Sunday 00:00.
func (s Slot) MinuteOfWeek() int {
	return int(s.Weekday)*24*60 + s.Hour*60 + s.Minute
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %02d:%02d", s.Weekday.String()[:3], s.Hour, s.Minute)
}

// ParseSlot parses a weekday name ("mon", "Monday") and an "HH:MM" clock time.
func ParseSlot(day, clock string) (Slot, error) {
	wd, err := ParseWeekday(day)
	if err != nil {
		return Slot{}, err
	}
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(clock), "%d:%d", &h, &m); err != nil {
		return Slot{}, fmt.Errorf("parse time %q: %w", clock, err)
	}
	s := Slot{Weekday: wd, Hour: h, Minute: m}
	if err := s.Validate(); err != nil {
		return Slot{}, err
	}
	return s, nil
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(day string) (time.Weekday, error) {
	d := strings.ToLower(strings.TrimSpace(day))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if d == name || (len(d) == 3 && strings.HasPrefix(name, d)) {
			return wd, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday %q", day)
}

// ScheduleDefinition is an externally managed intent to poll a channel.
type ScheduleDefinition struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Platform  Platform  `json:"platform"`
	Operation Operation `json:"operation,omitempty"`
	Priority  int       `json:"priority"`
	Slots     []Slot    `json:"slots"`
	Timezone  string    `json:"timezone"`
	Active    bool      `json:"active"`
}

// Priority bounds.
const (
	MinPriority = 1
	MaxPriority = 5
)

// Validate enforces the definition invariants.
func (d ScheduleDefinition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("schedule id is required")
	}
	if strings.TrimSpace(d.ChannelID) == "" {
		return fmt.Errorf("schedule %s: channel id is required", d.ID)
	}
	if !d.Platform.Valid() {
		return fmt.Errorf("schedule %s: unknown platform %q", d.ID, d.Platform)
	}
	if d.Priority < MinPriority || d.Priority > MaxPriority {
		return fmt.Errorf("schedule %s: priority must be between %d and %d", d.ID, MinPriority, MaxPriority)
	}
	for i, s := range d.Slots {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("schedule %s: slot %d: %w", d.ID, i, err)
		}
	}
	if _, err := d.Location(); err != nil {
		return fmt.Errorf("schedule %s: %w", d.ID, err)
	}
	return nil
}

// locations caches resolved zones by name; only valid names are stored.
var locations sync.Map

// Location resolves the schedule timezone; empty means UTC. Each zone is
// loaded from the tz database once per process.
func (d ScheduleDefinition) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	if loc, ok := locations.Load(d.Timezone); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", d.Timezone, err)
	}
	actual, _ := locations.LoadOrStore(d.Timezone, loc)
	return actual.(*time.Location), nil
}

// EffectivenessRecord is one executed poll attempt. Records are append-only.
type EffectivenessRecord struct {
	ID           string      `json:"id"`
	ScheduleID   string      `json:"schedule_id"`
	Timestamp    time.Time   `json:"timestamp"`
	QuotaSpent   int         `json:"quota_spent"`
	ContentFound int         `json:"content_found"`
	Slot         string      `json:"slot,omitempty"`
	Outcome      ErrorKind   `json:"outcome"`
	PublishedAt  []time.Time `json:"published_at,omitempty"`
}

// Effectiveness is content found per quota unit; zero when nothing was spent.
func (r EffectivenessRecord) Effectiveness() float64 {
	if r.QuotaSpent <= 0 {
		return 0
	}
	return float64(r.ContentFound) / float64(r.QuotaSpent)
}

// CacheKey addresses a cache entry.
type CacheKey struct {
	Platform    Platform `json:"platform"`
	ContentType string   `json:"content_type"`
	Key         string   `json:"key"`
}

func (k CacheKey) String() string {
	return string(k.Platform) + ":" + k.ContentType + ":" + k.Key
}

// CacheEntry is a stored payload with its expiry.
type CacheEntry struct {
	Key       CacheKey  `json:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Fresh reports whether the entry is still valid at now.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// FetchAttempt describes one try of a fetch. It is never persisted.
type FetchAttempt struct {
	Target      Target        `json:"target"`
	Index       int           `json:"index"`
	Kind        ErrorKind     `json:"kind"`
	StatusCode  int           `json:"status_code,omitempty"`
	Duration    time.Duration `json:"duration"`
	NextRetryAt time.Time     `json:"next_retry_at,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// PrefetchPrediction proposes warming one content item ahead of demand.
type PrefetchPrediction struct {
	Platform    Platform `json:"platform"`
	ContentType string   `json:"content_type"`
	ContentID   string   `json:"content_id"`
	Confidence  float64  `json:"confidence"`
	Pattern     string   `json:"pattern"`
}

// OperationUsage aggregates committed usage for one operation.
type OperationUsage struct {
	Calls int `json:"calls"`
	Units int `json:"units"`
}

// QuotaState is the persisted portion of a quota ledger.
type QuotaState struct {
	Platform    Platform                     `json:"platform"`
	WindowStart time.Time                    `json:"window_start"`
	Used        int                          `json:"used"`
	LockedUntil time.Time                    `json:"locked_until"`
	Operations  map[Operation]OperationUsage `json:"operations"`
	Version     int64                        `json:"version"`
	UpdatedAt   time.Time                    `json:"updated_at"`
}
