package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// Kind names what an Event reports.
type Kind string

// Supported event kinds.
const (
	KindContentDiscovered Kind = "content_discovered"
	KindScheduleOutcome   Kind = "schedule_outcome"
	KindQuotaLocked       Kind = "quota_locked"
	KindPrefetchCompleted Kind = "prefetch_completed"
)

// Event is one structured notification produced by the poller.
type Event struct {
	// ID is a UUIDv7 assigned by the emitter.
	ID string `json:"id"`
	// TS is the UTC time the event was produced.
	TS   time.Time `json:"ts"`
	Kind Kind      `json:"kind"`
	// ScheduleID is empty for prefetch and quota events.
	ScheduleID string          `json:"schedule_id,omitempty"`
	Platform   poller.Platform `json:"platform"`
	ChannelID  string          `json:"channel_id,omitempty"`
	// Content is set for content_discovered and prefetch_completed.
	Content    *poller.ContentItem  `json:"content,omitempty"`
	State      poller.ScheduleState `json:"state,omitempty"`
	ErrorKind  poller.ErrorKind     `json:"error_kind,omitempty"`
	QuotaUnits int                  `json:"quota_units,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if !e.Platform.Valid() {
		return fmt.Errorf("unknown platform %q", e.Platform)
	}
	switch e.Kind {
	case KindContentDiscovered:
		if e.Content == nil {
			return errors.New("content_discovered requires content")
		}
		if e.ScheduleID == "" {
			return errors.New("content_discovered requires schedule id")
		}
	case KindScheduleOutcome:
		if e.ScheduleID == "" {
			return errors.New("schedule_outcome requires schedule id")
		}
		if e.State == "" {
			return errors.New("schedule_outcome requires state")
		}
	case KindQuotaLocked, KindPrefetchCompleted:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.QuotaUnits < 0 {
		return errors.New("quota units must be >= 0")
	}
	return nil
}

// Attributes returns routing attributes for message brokers.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{
		"kind":     string(e.Kind),
		"platform": string(e.Platform),
	}
	if e.ScheduleID != "" {
		attrs["schedule_id"] = e.ScheduleID
	}
	return attrs
}
