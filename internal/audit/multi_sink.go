package audit

import "context"

// MultiSink forwards every record to each sink in order.
type MultiSink []Sink

func NewMultiSink(sinks ...Sink) MultiSink {
	return MultiSink(sinks)
}

func (m MultiSink) RecordAudit(ctx context.Context, entry Entry) {
	for _, s := range m {
		s.RecordAudit(ctx, entry)
	}
}

func (m MultiSink) RecordSecurity(ctx context.Context, event SecurityEvent) {
	for _, s := range m {
		s.RecordSecurity(ctx, event)
	}
}

func (m MultiSink) RecordPerformance(ctx context.Context, metric PerformanceMetric) {
	for _, s := range m {
		s.RecordPerformance(ctx, metric)
	}
}

func (m MultiSink) RecordBusiness(ctx context.Context, event BusinessEvent) {
	for _, s := range m {
		s.RecordBusiness(ctx, event)
	}
}

// Reader returns the first sink that can serve reads.
func (m MultiSink) Reader() (Reader, bool) {
	for _, s := range m {
		if r, ok := s.(Reader); ok {
			return r, true
		}
	}
	return nil, false
}
