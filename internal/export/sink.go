package export

import (
	"context"
	"sync"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

// Sink delivers validated, redacted envelopes to an external consumer.
type Sink interface {
	Export(ctx context.Context, event telemetry.Event) error
}

// DiscardSink drops every event. Used when no export target is configured.
type DiscardSink struct{}

// Export accepts and drops the event.
func (DiscardSink) Export(context.Context, telemetry.Event) error { return nil }

// MemorySink is a deterministic in-memory sink used by tests.
type MemorySink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]telemetry.Event, 0, 64)}
}

// Export appends an event in memory.
func (s *MemorySink) Export(_ context.Context, event telemetry.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all exported events.
func (s *MemorySink) Events() []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]telemetry.Event, len(s.events))
	copy(out, s.events)
	return out
}
