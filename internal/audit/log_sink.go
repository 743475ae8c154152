package audit

import (
	"context"

	"securebus/internal/logger"
)

// LogSink writes every record as a structured log line.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) RecordAudit(ctx context.Context, entry Entry) {
	s.logger.InfowCtx(ctx, "Compliance audit",
		"audit_id", entry.ID,
		"event_type", entry.EventType,
		"topic", entry.Topic,
		"message_id", entry.MessageID,
		"violations", entry.ViolationCount,
		"warnings", entry.WarningCount,
		"result", entry.Result,
	)
}

func (s *LogSink) RecordSecurity(ctx context.Context, event SecurityEvent) {
	keysAndValues := []interface{}{
		"type", event.Type,
		"severity", event.Severity,
		"component", event.Component,
		"topic", event.Topic,
		"message_id", event.MessageID,
		"description", event.Description,
	}
	if len(event.Details) > 0 {
		keysAndValues = append(keysAndValues, "details", event.Details)
	}

	switch event.Severity {
	case SeverityHigh, SeverityCritical:
		s.logger.ErrorwCtx(ctx, "Security event", keysAndValues...)
	case SeverityMedium:
		s.logger.WarnwCtx(ctx, "Security event", keysAndValues...)
	default:
		s.logger.InfowCtx(ctx, "Security event", keysAndValues...)
	}
}

func (s *LogSink) RecordPerformance(ctx context.Context, metric PerformanceMetric) {
	s.logger.DebugwCtx(ctx, "Performance metric",
		"component", metric.Component,
		"name", metric.Name,
		"value", metric.Value,
		"unit", metric.Unit,
		"labels", metric.Labels,
	)
}

func (s *LogSink) RecordBusiness(ctx context.Context, event BusinessEvent) {
	s.logger.InfowCtx(ctx, "Business event",
		"type", event.Type,
		"topic", event.Topic,
		"message_id", event.MessageID,
		"partition", event.Partition,
		"offset", event.Offset,
		"duration_ms", event.Duration.Milliseconds(),
		"encrypted", event.Encrypted,
	)
}
