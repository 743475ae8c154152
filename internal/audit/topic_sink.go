package audit

import (
	"context"
	"encoding/json"
	"time"

	"securebus/internal/logger"
	"securebus/internal/transport"
	"securebus/pkg/metrics"
)

const publishTimeout = 5 * time.Second

type topicRecord struct {
	Kind   recordKind  `json:"kind"`
	Record interface{} `json:"record"`
}

// TopicSink publishes every record as JSON to a dedicated broker topic. The
// publisher is used directly, not through the secure producer, so audit
// traffic is never itself validated or audited.
type TopicSink struct {
	topic     string
	publisher transport.Publisher
	logger    logger.Logger
}

func NewTopicSink(topic string, publisher transport.Publisher, log logger.Logger) *TopicSink {
	return &TopicSink{topic: topic, publisher: publisher, logger: log}
}

func (s *TopicSink) RecordAudit(ctx context.Context, entry Entry) {
	s.publish(ctx, kindAudit, entry.MessageID, entry)
}

func (s *TopicSink) RecordSecurity(ctx context.Context, event SecurityEvent) {
	s.publish(ctx, kindSecurity, event.MessageID, event)
}

func (s *TopicSink) RecordPerformance(ctx context.Context, metric PerformanceMetric) {
	s.publish(ctx, kindPerformance, metric.Name, metric)
}

func (s *TopicSink) RecordBusiness(ctx context.Context, event BusinessEvent) {
	s.publish(ctx, kindBusiness, event.MessageID, event)
}

func (s *TopicSink) publish(ctx context.Context, kind recordKind, key string, record interface{}) {
	value, err := json.Marshal(topicRecord{Kind: kind, Record: record})
	if err != nil {
		s.fail(ctx, kind, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err = s.publisher.Publish(ctx, transport.OutboundMessage{
		Topic:   s.topic,
		Key:     key,
		Value:   value,
		Headers: map[string]string{"contentType": "application/json", "auditKind": string(kind)},
	})
	if err != nil {
		s.fail(ctx, kind, err)
	}
}

func (s *TopicSink) fail(ctx context.Context, kind recordKind, err error) {
	metrics.IncAuditDropped("topic", string(kind))
	s.logger.ErrorwCtx(ctx, "Failed to publish audit record",
		"kind", kind,
		"topic", s.topic,
		"error", err,
	)
}
