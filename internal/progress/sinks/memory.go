package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/streamwatch/internal/progress"
)

// DefaultRingSize is how many events a RingSink keeps when not told otherwise.
const DefaultRingSize = 500

// RingSink keeps the most recent events in memory for the status API.
type RingSink struct {
	mu    sync.RWMutex
	buf   []progress.Event
	next  int
	total int
}

// NewRingSink returns a ring holding up to size events.
func NewRingSink(size int) *RingSink {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingSink{buf: make([]progress.Event, size)}
}

// Consume appends the batch, overwriting the oldest events when full.
func (s *RingSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.buf[s.next] = evt
		s.next = (s.next + 1) % len(s.buf)
		s.total++
	}
	return nil
}

// Recent returns up to limit events, newest first, optionally filtered by kind.
func (s *RingSink) Recent(limit int, kind progress.Kind) []progress.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(s.total, len(s.buf))
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]progress.Event, 0, limit)
	for i := 1; i <= n && len(out) < limit; i++ {
		evt := s.buf[(s.next-i+len(s.buf))%len(s.buf)]
		if kind != "" && evt.Kind != kind {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Close implements progress.Sink; it performs no action.
func (s *RingSink) Close(context.Context) error {
	return nil
}
