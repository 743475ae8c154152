package audit

import (
	"context"
	"sync"
	"time"
)

// MemorySink keeps every record in process memory. It is append-only and safe
// to read while other goroutines append.
type MemorySink struct {
	mu          sync.RWMutex
	entries     []Entry
	security    []SecurityEvent
	performance []PerformanceMetric
	business    []BusinessEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) RecordAudit(_ context.Context, entry Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
}

func (s *MemorySink) RecordSecurity(_ context.Context, event SecurityEvent) {
	s.mu.Lock()
	s.security = append(s.security, event)
	s.mu.Unlock()
}

func (s *MemorySink) RecordPerformance(_ context.Context, metric PerformanceMetric) {
	s.mu.Lock()
	s.performance = append(s.performance, metric)
	s.mu.Unlock()
}

func (s *MemorySink) RecordBusiness(_ context.Context, event BusinessEvent) {
	s.mu.Lock()
	s.business = append(s.business, event)
	s.mu.Unlock()
}

// Entries returns audit entries with from <= timestamp <= to.
func (s *MemorySink) Entries(_ context.Context, from, to time.Time) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Entry, 0)
	for _, e := range s.entries {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *MemorySink) AllEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

func (s *MemorySink) SecurityEvents() []SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SecurityEvent(nil), s.security...)
}

func (s *MemorySink) PerformanceMetrics() []PerformanceMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetric(nil), s.performance...)
}

func (s *MemorySink) BusinessEvents() []BusinessEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]BusinessEvent(nil), s.business...)
}

// SecurityEventsOfType is a convenience filter for callers that watch a
// single event type.
func (s *MemorySink) SecurityEventsOfType(eventType string) []SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []SecurityEvent
	for _, e := range s.security {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}
