package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// DefaultTrackerWindow bounds how many days of access history are kept per key.
const DefaultTrackerWindow = 14

// DefaultTrackerMaxKeys bounds how many keys a tracker remembers.
const DefaultTrackerMaxKeys = 5000

// Usage is the access history of one key.
type Usage struct {
	Key poller.CacheKey
	// HourDays counts, per local hour, the days on which the key was read in that hour.
	HourDays [24]int
	// DaysObserved counts days from the first recorded read through today, capped at the window.
	DaysObserved int
}

// AccessTracker records consumer reads by local hour of day. Writes from the
// poller itself are not tracked.
type AccessTracker struct {
	loc     *time.Location
	window  int
	maxKeys int

	mu   sync.Mutex
	keys map[string]*keyAccess
}

type keyAccess struct {
	key  poller.CacheKey
	days map[string]*[24]bool
	last time.Time
}

// NewAccessTracker returns a tracker bucketing reads in loc. window ≤ 0 uses
// DefaultTrackerWindow and maxKeys ≤ 0 uses DefaultTrackerMaxKeys. Once full,
// a new key evicts the least recently read one.
func NewAccessTracker(loc *time.Location, window, maxKeys int) *AccessTracker {
	if loc == nil {
		loc = time.UTC
	}
	if window <= 0 {
		window = DefaultTrackerWindow
	}
	if maxKeys <= 0 {
		maxKeys = DefaultTrackerMaxKeys
	}
	return &AccessTracker{loc: loc, window: window, maxKeys: maxKeys, keys: make(map[string]*keyAccess)}
}

// Record notes a read of key at t.
func (a *AccessTracker) Record(key poller.CacheKey, t time.Time) {
	local := t.In(a.loc)
	day := local.Format(time.DateOnly)

	a.mu.Lock()
	defer a.mu.Unlock()
	ka, ok := a.keys[key.String()]
	if !ok {
		if len(a.keys) >= a.maxKeys {
			a.evictLocked()
		}
		ka = &keyAccess{key: key, days: make(map[string]*[24]bool)}
		a.keys[key.String()] = ka
	}
	if t.After(ka.last) {
		ka.last = t
	}
	hours, ok := ka.days[day]
	if !ok {
		hours = new([24]bool)
		ka.days[day] = hours
	}
	hours[local.Hour()] = true
	a.pruneLocked(ka, local)
}

// evictLocked drops the least recently read key.
func (a *AccessTracker) evictLocked() {
	var (
		oldest string
		at     time.Time
	)
	for k, ka := range a.keys {
		if oldest == "" || ka.last.Before(at) || (ka.last.Equal(at) && k < oldest) {
			oldest, at = k, ka.last
		}
	}
	delete(a.keys, oldest)
}

// Len reports how many keys are tracked.
func (a *AccessTracker) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.keys)
}

func (a *AccessTracker) pruneLocked(ka *keyAccess, now time.Time) {
	cutoff := now.AddDate(0, 0, -(a.window - 1)).Format(time.DateOnly)
	for day := range ka.days {
		if day < cutoff {
			delete(ka.days, day)
		}
	}
}

// Usages summarizes every tracked key as of now, sorted by key.
func (a *AccessTracker) Usages(now time.Time) []Usage {
	local := now.In(a.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	cutoff := today.AddDate(0, 0, -(a.window - 1)).Format(time.DateOnly)

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Usage, 0, len(a.keys))
	for _, ka := range a.keys {
		u := Usage{Key: ka.key}
		first := ""
		for day, hours := range ka.days {
			if day < cutoff {
				continue
			}
			if first == "" || day < first {
				first = day
			}
			for h, seen := range hours {
				if seen {
					u.HourDays[h]++
				}
			}
		}
		if first == "" {
			continue
		}
		start, err := time.ParseInLocation(time.DateOnly, first, a.loc)
		if err != nil {
			continue
		}
		u.DaysObserved = daysBetween(start, today) + 1
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Location returns the zone hours are bucketed in.
func (a *AccessTracker) Location() *time.Location {
	return a.loc
}

func daysBetween(from, to time.Time) int {
	n := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		n++
	}
	return n
}
