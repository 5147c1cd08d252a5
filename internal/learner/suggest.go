package learner

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// SuggestionKind names an advisory schedule change.
type SuggestionKind string

// Suggestion kinds.
const (
	SuggestDropSlot SuggestionKind = "drop_slot"
	SuggestAddSlot  SuggestionKind = "add_slot"
	SuggestMoveSlot SuggestionKind = "move_slot"
)

const (
	minSlotSamples     = 5
	minClusterSize     = 3
	clusterCoverageMin = 60
	minutesPerWeek     = 7 * 24 * 60
)

// Suggestion is an operator-facing recommendation. Applying it is up to the
// schedule owner.
type Suggestion struct {
	ScheduleID  string         `json:"schedule_id"`
	Kind        SuggestionKind `json:"kind"`
	Slot        *poller.Slot   `json:"slot,omitempty"`
	Proposed    *poller.Slot   `json:"proposed,omitempty"`
	Samples     int            `json:"samples,omitempty"`
	Discoveries int            `json:"discoveries,omitempty"`
	Reason      string         `json:"reason"`
}

type slotYield struct {
	slot    poller.Slot
	samples int
	found   int
}

type cluster struct {
	slot  poller.Slot
	count int
}

// Suggestions derives advisory slot changes for active schedules.
func (l *Learner) Suggestions(defs []poller.ScheduleDefinition) []Suggestion {
	var out []Suggestion
	for _, def := range defs {
		if !def.Active {
			continue
		}
		out = append(out, l.suggestFor(def)...)
	}
	return out
}

func (l *Learner) suggestFor(def poller.ScheduleDefinition) []Suggestion {
	recs := l.History(def.ID)
	if len(recs) == 0 {
		return nil
	}
	loc, err := def.Location()
	if err != nil {
		return nil
	}

	yields := make(map[string]*slotYield, len(def.Slots))
	for _, s := range def.Slots {
		yields[s.String()] = &slotYield{slot: s}
	}
	buckets := make(map[poller.Slot]int)
	for _, r := range recs {
		// Failed attempts say nothing about the slot's yield.
		if y, ok := yields[r.Slot]; ok && r.Outcome == poller.KindOK {
			y.samples++
			y.found += r.ContentFound
		}
		for _, at := range r.PublishedAt {
			local := at.In(loc)
			buckets[poller.Slot{Weekday: local.Weekday(), Hour: local.Hour()}]++
		}
	}

	var zero []*slotYield
	for _, s := range def.Slots {
		if y := yields[s.String()]; y.samples >= minSlotSamples && y.found == 0 {
			zero = append(zero, y)
		}
	}

	var clusters []cluster
	for slot, n := range buckets {
		if n >= minClusterSize && !covered(slot, def.Slots) {
			clusters = append(clusters, cluster{slot: slot, count: n})
		}
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].count != clusters[j].count {
			return clusters[i].count > clusters[j].count
		}
		return clusters[i].slot.MinuteOfWeek() < clusters[j].slot.MinuteOfWeek()
	})

	var out []Suggestion
	for _, c := range clusters {
		proposed := c.slot
		if len(zero) > 0 {
			from := zero[0].slot
			out = append(out, Suggestion{
				ScheduleID:  def.ID,
				Kind:        SuggestMoveSlot,
				Slot:        &from,
				Proposed:    &proposed,
				Samples:     zero[0].samples,
				Discoveries: c.count,
				Reason: fmt.Sprintf("slot %s found nothing in %d polls; %d items were published around %s",
					from, zero[0].samples, c.count, proposed),
			})
			zero = zero[1:]
			continue
		}
		out = append(out, Suggestion{
			ScheduleID:  def.ID,
			Kind:        SuggestAddSlot,
			Proposed:    &proposed,
			Discoveries: c.count,
			Reason:      fmt.Sprintf("%d items were published around %s with no slot within an hour", c.count, proposed),
		})
	}
	for _, y := range zero {
		slot := y.slot
		out = append(out, Suggestion{
			ScheduleID: def.ID,
			Kind:       SuggestDropSlot,
			Slot:       &slot,
			Samples:    y.samples,
			Reason:     fmt.Sprintf("slot %s found nothing in %d polls", slot, y.samples),
		})
	}
	return out
}

// covered reports whether any slot lies within an hour of candidate,
// wrapping around the end of the week.
func covered(candidate poller.Slot, slots []poller.Slot) bool {
	c := candidate.MinuteOfWeek()
	for _, s := range slots {
		d := s.MinuteOfWeek() - c
		if d < 0 {
			d = -d
		}
		if d > minutesPerWeek/2 {
			d = minutesPerWeek - d
		}
		if d <= clusterCoverageMin {
			return true
		}
	}
	return false
}
