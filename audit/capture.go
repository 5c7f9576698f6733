package audit

import (
	"context"
	"sync"
)

// CaptureSink retains every recorded event in memory. Test helper.
type CaptureSink struct {
	mu     sync.Mutex
	events []Event
}

// NewCaptureSink creates an empty capturing sink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

// Record implements Sink.
func (s *CaptureSink) Record(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything recorded so far.
func (s *CaptureSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

var _ Sink = (*CaptureSink)(nil)
