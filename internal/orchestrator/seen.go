package orchestrator

import "sync"

// seenSet remembers the most recent content ids per source, evicting the
// oldest once a source holds limit ids.
type seenSet struct {
	limit int

	mu      sync.Mutex
	sources map[string]*seenRing
}

type seenRing struct {
	ids    map[string]struct{}
	order  []string
	next   int
	seeded bool
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{limit: limit, sources: make(map[string]*seenRing)}
}

func (s *seenSet) ringLocked(source string) *seenRing {
	r := s.sources[source]
	if r == nil {
		r = &seenRing{ids: make(map[string]struct{}, s.limit)}
		s.sources[source] = r
	}
	return r
}

// Seeded reports whether source has been filled from durable storage.
func (s *seenSet) Seeded(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.sources[source]
	return r != nil && r.seeded
}

// Seed marks ids as seen for source, oldest first, and flags it seeded.
func (s *seenSet) Seed(source string, oldestFirst []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ringLocked(source)
	for _, id := range oldestFirst {
		s.addLocked(r, id)
	}
	r.seeded = true
}

// Add marks id as seen for source and reports whether it was new.
func (s *seenSet) Add(source, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(s.ringLocked(source), id)
}

func (s *seenSet) addLocked(r *seenRing, id string) bool {
	if _, ok := r.ids[id]; ok {
		return false
	}
	if len(r.order) < s.limit {
		r.order = append(r.order, id)
	} else {
		delete(r.ids, r.order[r.next])
		r.order[r.next] = id
		r.next = (r.next + 1) % s.limit
	}
	r.ids[id] = struct{}{}
	return true
}
