package audit

import (
	"context"
	"slices"
	"sync"
)

// MemorySink keeps events in process memory.
type MemorySink struct {
	events []Event
	mu     sync.Mutex
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Stamp(e))
	return nil
}

// Events returns a copy of the recorded events in append order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func (s *MemorySink) Close() error { return nil }
