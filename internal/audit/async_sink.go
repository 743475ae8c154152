package audit

import (
	"context"
	"sync"
	"time"

	"securebus/internal/logger"
	"securebus/pkg/metrics"
)

const DefaultAsyncBufferSize = 1024

type recordKind string

const (
	kindAudit       recordKind = "audit"
	kindSecurity    recordKind = "security"
	kindPerformance recordKind = "performance"
	kindBusiness    recordKind = "business"
)

type asyncRecord struct {
	ctx         context.Context
	kind        recordKind
	entry       Entry
	security    SecurityEvent
	performance PerformanceMetric
	business    BusinessEvent
}

// AsyncSink decouples callers from a slow sink through a bounded buffer.
// When the buffer is full the record is dropped, logged and counted.
type AsyncSink struct {
	name   string
	next   Sink
	logger logger.Logger
	queue  chan asyncRecord

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncSink(name string, next Sink, bufferSize int, log logger.Logger) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = DefaultAsyncBufferSize
	}
	s := &AsyncSink{
		name:   name,
		next:   next,
		logger: log,
		queue:  make(chan asyncRecord, bufferSize),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *AsyncSink) RecordAudit(ctx context.Context, entry Entry) {
	s.enqueue(asyncRecord{ctx: ctx, kind: kindAudit, entry: entry})
}

func (s *AsyncSink) RecordSecurity(ctx context.Context, event SecurityEvent) {
	s.enqueue(asyncRecord{ctx: ctx, kind: kindSecurity, security: event})
}

func (s *AsyncSink) RecordPerformance(ctx context.Context, metric PerformanceMetric) {
	s.enqueue(asyncRecord{ctx: ctx, kind: kindPerformance, performance: metric})
}

func (s *AsyncSink) RecordBusiness(ctx context.Context, event BusinessEvent) {
	s.enqueue(asyncRecord{ctx: ctx, kind: kindBusiness, business: event})
}

// Entries delegates to the wrapped sink when it can serve reads.
func (s *AsyncSink) Entries(ctx context.Context, from, to time.Time) ([]Entry, error) {
	if r, ok := s.next.(Reader); ok {
		return r.Entries(ctx, from, to)
	}
	return nil, nil
}

// Close stops accepting records and waits until the buffer is drained or
// ctx expires.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) enqueue(rec asyncRecord) {
	// The wrapped sink outlives the caller's request.
	rec.ctx = context.WithoutCancel(rec.ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(rec, "sink closed")
		return
	}

	select {
	case s.queue <- rec:
	default:
		s.drop(rec, "buffer full")
	}
}

func (s *AsyncSink) drop(rec asyncRecord, reason string) {
	metrics.IncAuditDropped(s.name, string(rec.kind))

	keysAndValues := []interface{}{"sink", s.name, "kind", rec.kind, "reason", reason}
	switch rec.kind {
	case kindAudit:
		keysAndValues = append(keysAndValues, "audit_id", rec.entry.ID, "message_id", rec.entry.MessageID, "result", rec.entry.Result)
	case kindSecurity:
		keysAndValues = append(keysAndValues, "type", rec.security.Type, "severity", rec.security.Severity, "message_id", rec.security.MessageID)
	case kindBusiness:
		keysAndValues = append(keysAndValues, "type", rec.business.Type, "message_id", rec.business.MessageID)
	case kindPerformance:
		keysAndValues = append(keysAndValues, "name", rec.performance.Name, "value", rec.performance.Value)
	}
	s.logger.WarnwCtx(rec.ctx, "Audit record dropped", keysAndValues...)
}

func (s *AsyncSink) loop() {
	defer s.wg.Done()
	for rec := range s.queue {
		switch rec.kind {
		case kindAudit:
			s.next.RecordAudit(rec.ctx, rec.entry)
		case kindSecurity:
			s.next.RecordSecurity(rec.ctx, rec.security)
		case kindPerformance:
			s.next.RecordPerformance(rec.ctx, rec.performance)
		case kindBusiness:
			s.next.RecordBusiness(rec.ctx, rec.business)
		}
	}
}
