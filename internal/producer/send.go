package producer

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"securebus/internal/audit"
	"securebus/internal/compliance"
	"securebus/internal/constants"
	"securebus/internal/transport"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/logging"
	"securebus/pkg/metrics"
	"securebus/pkg/models"
	"securebus/pkg/retry"
	"securebus/pkg/tracing"
)

type SendOptions struct {
	CorrelationID    string
	SessionID        string
	UserID           string
	EventType        string
	Key              string
	Headers          map[string]string
	ForceEncryption  bool
	BypassCompliance bool
	// MaxRetries is the inline retry budget after the first attempt. Zero
	// uses the configured default; negative disables inline retries.
	MaxRetries             int
	DisableBackgroundRetry bool
}

type SendResult struct {
	MessageID         string
	Receipt           transport.Receipt
	ComplianceAuditID string
	Encrypted         bool
	Warnings          []string
}

type BatchResult struct {
	Results []*SendResult
	Errors  []error
}

// Failed returns the number of items that returned an error.
func (b BatchResult) Failed() int {
	n := 0
	for _, err := range b.Errors {
		if err != nil {
			n++
		}
	}
	return n
}

// Send builds, protects, validates and publishes one message.
func (p *Producer) Send(ctx context.Context, topic string, payload map[string]interface{}, opts SendOptions) (*SendResult, error) {
	if err := p.requireConnected(); err != nil {
		return nil, err
	}
	if topic == "" {
		return nil, apperrors.ErrValidation.WithMessage("topic is required")
	}

	start := p.now()
	messageID := p.crypto.NewMessageID()

	ctx = logging.WithMessageID(ctx, messageID)
	if opts.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, opts.CorrelationID)
	}
	ctx, span := tracing.StartSpan(ctx, "producer.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message_id", messageID),
	)

	envelope := models.NewMessageEnvelopeBuilder().
		WithID(messageID).
		WithTimestamp(start.UTC()).
		WithVersion(p.cfg.Version).
		WithSource(p.cfg.Source).
		WithCorrelationID(opts.CorrelationID).
		WithSessionID(opts.SessionID).
		WithUserID(opts.UserID).
		WithEventType(opts.EventType).
		WithPayload(payload).
		Build()

	encrypt := opts.ForceEncryption || p.IsSensitive(topic)

	signature, err := p.crypto.Sign(envelope)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.ErrInternal.WithMessage("failed to sign message").WithCause(err)
	}

	verdict := p.validator.Validate(ctx, topic, compliance.Message{
		Envelope:          envelope,
		Encrypted:         encrypt,
		Signature:         signature,
		SignatureVerified: true,
	})
	if !verdict.Compliant {
		if err := p.handleNonCompliant(ctx, topic, messageID, verdict, opts); err != nil {
			span.SetStatus(codes.Error, "compliance violation")
			return nil, err
		}
	}

	msg, err := p.buildOutbound(ctx, topic, envelope, signature, encrypt, verdict.AuditID, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	receipt, attempts, err := p.publishWithRetry(ctx, topic, msg, opts)
	metrics.ObserveProducerSendDuration(topic, p.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return nil, p.handlePublishFailure(ctx, topic, msg, opts, attempts, err)
	}

	metrics.IncProducerMessage(topic, "sent")
	p.recordSent(ctx, topic, messageID, receipt, p.now().Sub(start), encrypt)

	p.logger.DebugwCtx(ctx, "Message sent",
		"topic", topic,
		"partition", receipt.Partition,
		"offset", receipt.Offset,
		"encrypted", encrypt,
		"attempts", attempts,
	)

	return &SendResult{
		MessageID:         messageID,
		Receipt:           receipt,
		ComplianceAuditID: verdict.AuditID,
		Encrypted:         encrypt,
		Warnings:          verdict.Warnings,
	}, nil
}

// SendBatch fans Send out with bounded concurrency. Results and Errors are
// indexed like payloads; one failure never cancels its siblings.
func (p *Producer) SendBatch(ctx context.Context, topic string, payloads []map[string]interface{}, opts SendOptions) BatchResult {
	result := BatchResult{
		Results: make([]*SendResult, len(payloads)),
		Errors:  make([]error, len(payloads)),
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.BatchConcurrency)

	for i, payload := range payloads {
		g.Go(func() error {
			res, err := p.Send(ctx, topic, payload, opts)
			result.Results[i] = res
			result.Errors[i] = err
			return nil
		})
	}
	_ = g.Wait()

	if failed := result.Failed(); failed > 0 {
		p.logger.WarnwCtx(ctx, "Batch send completed with failures",
			"topic", topic,
			"total", len(payloads),
			"failed", failed,
		)
	}

	return result
}

func (p *Producer) handleNonCompliant(ctx context.Context, topic, messageID string, verdict compliance.Verdict, opts SendOptions) error {
	violationErr := compliance.NewViolationError(topic, messageID, verdict)
	details := map[string]interface{}{
		"auditId":    verdict.AuditID,
		"violations": verdict.Violations,
	}

	if !opts.BypassCompliance {
		metrics.IncProducerMessage(topic, "blocked")
		p.sink.RecordSecurity(ctx, audit.SecurityEvent{
			Timestamp:   p.now().UTC(),
			Type:        audit.SecurityComplianceBlocked,
			Severity:    violationErr.HighestSeverity(),
			Component:   constants.ComponentProducer,
			Topic:       topic,
			MessageID:   messageID,
			Description: "message blocked by compliance validation",
			Details:     details,
		})
		p.logger.WarnwCtx(ctx, "Message blocked by compliance",
			"topic", topic,
			"audit_id", verdict.AuditID,
			"violations", len(verdict.Violations),
		)
		return violationErr
	}

	p.sink.RecordSecurity(ctx, audit.SecurityEvent{
		Timestamp:   p.now().UTC(),
		Type:        audit.SecurityComplianceBypassed,
		Severity:    audit.SeverityHigh,
		Component:   constants.ComponentProducer,
		Topic:       topic,
		MessageID:   messageID,
		Description: "compliance violations bypassed by caller",
		Details:     details,
	})
	p.logger.WarnwCtx(ctx, "Compliance bypassed",
		"topic", topic,
		"audit_id", verdict.AuditID,
		"violations", len(verdict.Violations),
	)
	return nil
}

func (p *Producer) buildOutbound(ctx context.Context, topic string, envelope *models.MessageEnvelope, signature string, encrypt bool, auditID string, opts SendOptions) (transport.OutboundMessage, error) {
	wire := models.WireRecord{Encrypted: encrypt, Signature: signature}
	if encrypt {
		ct, err := p.crypto.Encrypt(envelope)
		if err != nil {
			return transport.OutboundMessage{}, apperrors.ErrInternal.WithMessage("failed to encrypt message").WithCause(err)
		}
		wire.Data = ct.Data
		wire.Algorithm = ct.Algorithm
		wire.KeyVersion = ct.KeyVersion
	} else {
		wire.MessageEnvelope = envelope
	}

	value, err := json.Marshal(wire)
	if err != nil {
		return transport.OutboundMessage{}, apperrors.ErrInternal.WithMessage("failed to encode wire record").WithCause(err)
	}

	headers := make(map[string]string, len(opts.Headers)+6)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	headers[models.HeaderMessageID] = envelope.MessageID
	headers[models.HeaderContentType] = models.ContentTypeJSON
	headers[models.HeaderEncrypted] = strconv.FormatBool(encrypt)
	headers[models.HeaderComplianceAuditID] = auditID
	tracing.InjectTraceContext(ctx, headers)

	key := opts.Key
	if key == "" {
		key = envelope.MessageID
	}

	return transport.OutboundMessage{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
	}, nil
}

func (p *Producer) policyFor(opts SendOptions) retry.Policy {
	policy := p.cfg.Retry
	switch {
	case opts.MaxRetries > 0:
		policy.MaxRetries = opts.MaxRetries
	case opts.MaxRetries < 0:
		policy.MaxRetries = 0
	}
	return policy
}

func (p *Producer) publishWithRetry(ctx context.Context, topic string, msg transport.OutboundMessage, opts SendOptions) (transport.Receipt, int, error) {
	var receipt transport.Receipt
	var lastErr error

	attempts, err := retry.RetryWithCallback(ctx, p.policyFor(opts), func() error {
		r, err := p.publisher.Publish(ctx, msg)
		if err != nil {
			lastErr = err
			return err
		}
		receipt = r
		return nil
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt(constants.ComponentProducer, topic)
		p.logger.WarnwCtx(ctx, "Publish failed, retrying",
			"topic", topic,
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	if err != nil && ctx.Err() != nil && lastErr != nil {
		err = lastErr
	}

	return receipt, attempts, err
}

func (p *Producer) handlePublishFailure(ctx context.Context, topic string, msg transport.OutboundMessage, opts SendOptions, attempts int, err error) error {
	messageID := msg.Headers[models.HeaderMessageID]
	queued := apperrors.IsRetryable(err) && !opts.DisableBackgroundRetry

	if queued {
		p.enqueue(topic, msg, opts, err)
		metrics.IncProducerMessage(topic, "queued")
	} else {
		metrics.IncProducerMessage(topic, "failed")
	}

	p.logger.ErrorwCtx(ctx, "Failed to publish message",
		"topic", topic,
		"attempts", attempts,
		"queued", queued,
		"error", err,
	)

	return &PublishError{
		MessageID: messageID,
		Topic:     topic,
		Attempts:  attempts,
		Queued:    queued,
		Err:       err,
	}
}

func (p *Producer) recordSent(ctx context.Context, topic, messageID string, receipt transport.Receipt, duration time.Duration, encrypted bool) {
	p.sink.RecordBusiness(ctx, audit.BusinessEvent{
		Timestamp: p.now().UTC(),
		Type:      audit.BusinessMessageSent,
		Topic:     topic,
		MessageID: messageID,
		Partition: receipt.Partition,
		Offset:    receipt.Offset,
		Duration:  duration,
		Encrypted: encrypted,
	})
}
