package consumer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"securebus/internal/audit"
	"securebus/internal/compliance"
	"securebus/internal/security"
	"securebus/internal/transport"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/logging"
	"securebus/pkg/metrics"
	"securebus/pkg/models"
	"securebus/pkg/tracing"
)

// opened is a record after parsing, decryption and signature verification.
type opened struct {
	envelope  *models.MessageEnvelope
	encrypted bool
	signature string
	verified  bool
}

// processingError tags a failure with its dead-letter kind.
type processingError struct {
	kind string
	err  error
}

func (e *processingError) Error() string { return e.err.Error() }
func (e *processingError) Unwrap() error { return e.err }

func fail(kind string, err error) error {
	return &processingError{kind: kind, err: err}
}

func kindOf(err error) string {
	if pe, ok := err.(*processingError); ok {
		return pe.kind
	}
	return KindHandler
}

// handleRecord is the transport callback. It never returns an error: every
// failure is absorbed into the dead-letter store.
func (c *Consumer) handleRecord(ctx context.Context, rec transport.Record) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	ctx, span := tracing.StartSpanFromHeaders(ctx, "consumer.process", rec.Headers)
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.source", rec.Topic),
		attribute.Int("messaging.partition", rec.Partition),
		attribute.Int64("messaging.offset", rec.Offset),
	)

	start := c.now()
	messageID := rec.Headers[models.HeaderMessageID]

	err := c.process(ctx, rec, &messageID)
	c.stats.observe(err == nil, c.now().Sub(start))
	metrics.ObserveConsumerProcessingDuration(rec.Topic, c.now().Sub(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kindOf(err))
		c.deadLetter(ctx, rec, messageID, err)
		return nil
	}

	metrics.IncConsumerMessage(rec.Topic, "processed")
	return nil
}

func (c *Consumer) process(ctx context.Context, rec transport.Record, messageID *string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fail(KindPanic, apperrors.PanicError(r, "panic during processing"))
		}
	}()

	msg, err := c.open(rec)
	if err != nil {
		return err
	}
	*messageID = msg.envelope.MessageID

	verdict := c.validator.Validate(ctx, rec.Topic, compliance.Message{
		Envelope:          msg.envelope,
		Encrypted:         msg.encrypted,
		Signature:         msg.signature,
		SignatureVerified: msg.verified,
	})
	if !verdict.Compliant {
		return fail(KindCompliance, compliance.NewViolationError(rec.Topic, msg.envelope.MessageID, verdict))
	}

	return c.dispatch(ctx, rec, msg, false)
}

// open parses the wire record, decrypts it if needed and verifies the
// signature. Failures are integrity or parse errors.
func (c *Consumer) open(rec transport.Record) (*opened, error) {
	if len(rec.Value) == 0 {
		return nil, fail(KindParse, apperrors.ErrValidation.WithMessage("empty record value"))
	}

	wire, err := models.DecodeWireRecord(rec.Value)
	if err != nil {
		return nil, fail(KindParse, apperrors.ErrValidation.WithMessage("unparseable record").WithCause(err))
	}

	msg := &opened{encrypted: wire.Encrypted, signature: wire.Signature}

	if wire.Encrypted {
		var env models.MessageEnvelope
		if err := c.crypto.Decrypt(security.Ciphertext{
			Data:       wire.Data,
			Algorithm:  wire.Algorithm,
			KeyVersion: wire.KeyVersion,
		}, &env); err != nil {
			return nil, fail(KindIntegrity, err)
		}
		msg.envelope = &env
	} else {
		if wire.MessageEnvelope == nil {
			return nil, fail(KindParse, apperrors.ErrValidation.WithMessage("record has no envelope"))
		}
		msg.envelope = wire.MessageEnvelope
	}

	if err := models.ValidateMessageEnvelope(msg.envelope); err != nil {
		return nil, fail(KindParse, apperrors.ErrValidation.WithMessage("invalid envelope").WithCause(err))
	}

	if wire.Encrypted && wire.Signature == "" {
		return nil, fail(KindIntegrity, apperrors.ErrIntegrity.WithMessage("encrypted record is not signed"))
	}
	if wire.Signature != "" {
		if !c.crypto.Verify(msg.envelope, wire.Signature) {
			return nil, fail(KindIntegrity, apperrors.ErrIntegrity.WithMessage("signature verification failed"))
		}
		msg.verified = true
	}

	return msg, nil
}

func (c *Consumer) dispatch(ctx context.Context, rec transport.Record, msg *opened, isRetry bool) error {
	env := msg.envelope
	ctx = logging.WithMessageID(ctx, env.MessageID)
	if env.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, env.CorrelationID)
	}

	handler, ok := c.handler(rec.Topic)
	if !ok {
		return fail(KindNoHandler, apperrors.ErrHandler.WithMessage("no handler registered for topic "+rec.Topic))
	}

	if c.cfg.SkipDuplicates && c.processed != nil && !isRetry {
		seen, err := c.processed.Seen(ctx, env.MessageID)
		if err != nil {
			c.logger.WarnwCtx(ctx, "Duplicate check failed, processing anyway", "error", err)
		} else if seen {
			metrics.IncDuplicateSkipped(rec.Topic)
			c.stats.duplicate()
			c.logger.DebugwCtx(ctx, "Skipping duplicate message", "topic", rec.Topic)
			return nil
		}
	}

	pctx := ProcessingContext{
		Topic:         rec.Topic,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
		Timestamp:     rec.Timestamp,
		Headers:       rec.Headers,
		MessageID:     env.MessageID,
		CorrelationID: env.CorrelationID,
		SessionID:     env.SessionID,
		UserID:        env.UserID,
		Encrypted:     msg.encrypted,
		IsRetry:       isRetry,
	}

	delivered := *env
	delivered.Payload = models.NormalizeNumbers(env.Payload)

	start := c.now()
	if err := invoke(ctx, handler, &delivered, pctx); err != nil {
		c.logger.WarnwCtx(ctx, "Message handler failed",
			"topic", rec.Topic,
			"offset", rec.Offset,
			"retry", isRetry,
			"payload", c.crypto.Mask(c.cfg.MaskedFields, env.Payload),
			"error", err,
		)
		return err
	}

	if c.processed != nil && c.cfg.SkipDuplicates {
		if err := c.processed.Mark(ctx, env.MessageID); err != nil {
			c.logger.WarnwCtx(ctx, "Failed to mark message processed", "error", err)
		}
	}

	c.sink.RecordBusiness(ctx, audit.BusinessEvent{
		Timestamp: c.now().UTC(),
		Type:      audit.BusinessMessageProcessed,
		Topic:     rec.Topic,
		MessageID: env.MessageID,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Duration:  c.now().Sub(start),
		Encrypted: msg.encrypted,
	})

	return nil
}

func invoke(ctx context.Context, handler Handler, env *models.MessageEnvelope, pctx ProcessingContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fail(KindPanic, apperrors.PanicError(r, "handler panicked"))
		}
	}()

	if err := handler(ctx, env, pctx); err != nil {
		return fail(KindHandler, apperrors.ErrHandler.WithCause(err))
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, rec transport.Record, messageID string, err error) {
	id := deadLetterID(rec.Topic, rec.Partition, rec.Offset)
	if messageID == "" {
		messageID = id
	}
	kind := kindOf(err)

	entry := &DeadLetterMessage{
		ID:            id,
		MessageID:     messageID,
		Topic:         rec.Topic,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
		RawRecord:     append([]byte(nil), rec.Value...),
		Headers:       rec.Headers,
		Kind:          kind,
		Error:         err.Error(),
		FirstFailedAt: c.now().UTC(),
	}

	res := c.deadLetters.add(entry)
	metrics.IncConsumerMessage(rec.Topic, "dead_lettered")
	metrics.IncDeadLetter(rec.Topic, kind)
	metrics.SetDeadLetterSize(res.size)

	c.logger.ErrorwCtx(ctx, "Message dead-lettered",
		"topic", rec.Topic,
		"partition", rec.Partition,
		"offset", rec.Offset,
		"message_id", messageID,
		"kind", kind,
		"error", err,
	)

	details := map[string]interface{}{"id": id, "kind": kind, "error": err.Error(), "offset": rec.Offset}
	if n := c.deadLetters.countMessageID(messageID); n > 1 {
		details["sharedMessageIdEntries"] = n
		c.logger.WarnwCtx(ctx, "Dead-letter entries share a message id",
			"message_id", messageID,
			"entries", n,
		)
	}

	severity := audit.SeverityMedium
	eventType := audit.SecurityDeadLettered
	switch kind {
	case KindIntegrity:
		severity = audit.SeverityCritical
		eventType = audit.SecurityIntegrityFailure
	case KindCompliance:
		severity = audit.SeverityHigh
	}
	c.securityEvent(ctx, eventType, severity, rec.Topic, messageID, "message routed to dead-letter store", details)

	if res.replaced != nil {
		c.logger.WarnwCtx(ctx, "Dead-letter entry replaced by redelivery",
			"id", id,
			"previous_kind", res.replaced.Kind,
		)
		c.securityEvent(ctx, audit.SecurityDeadLetterReplaced, audit.SeverityMedium, rec.Topic, res.replaced.MessageID,
			"dead-letter entry replaced by redelivered record",
			map[string]interface{}{
				"id":                id,
				"previousKind":      res.replaced.Kind,
				"previousError":     res.replaced.Error,
				"previousMessageId": res.replaced.MessageID,
			})
	}

	if res.evicted != nil {
		c.logger.WarnwCtx(ctx, "Dead-letter store full, evicted oldest entry",
			"evicted_id", res.evicted.ID,
			"evicted_message_id", res.evicted.MessageID,
			"evicted_topic", res.evicted.Topic,
		)
		c.securityEvent(ctx, audit.SecurityDeadLetterEvicted, audit.SeverityHigh, res.evicted.Topic, res.evicted.MessageID,
			"dead-letter entry evicted at capacity", map[string]interface{}{"id": res.evicted.ID, "kind": res.evicted.Kind})
	}
}

// Retry reprocesses a dead-letter entry without compliance re-validation.
// id is an entry id or a message id; a message id shared by several entries
// selects the oldest. Success removes the entry; failure updates it in
// place and is returned.
func (c *Consumer) Retry(ctx context.Context, id string) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	entry, ok := c.deadLetters.get(id)
	if !ok {
		return apperrors.ErrNotFound.WithMessage("dead-letter entry not found: " + id)
	}

	ctx, span := tracing.StartSpanFromHeaders(ctx, "consumer.retry", entry.Headers)
	defer span.End()

	rec := transport.Record{
		Topic:     entry.Topic,
		Partition: entry.Partition,
		Offset:    entry.Offset,
		Value:     entry.RawRecord,
		Headers:   entry.Headers,
		Timestamp: entry.FirstFailedAt,
	}

	start := c.now()
	err := c.retryRecord(ctx, rec)
	c.stats.observe(err == nil, c.now().Sub(start))

	if err != nil {
		span.RecordError(err)
		count, _ := c.deadLetters.recordRetry(entry.ID, c.now().UTC(), err)
		c.logger.WarnwCtx(ctx, "Dead-letter retry failed",
			"id", entry.ID,
			"message_id", entry.MessageID,
			"retry_count", count,
			"error", err,
		)
		return err
	}

	_, size := c.deadLetters.remove(entry.ID)
	metrics.SetDeadLetterSize(size)
	metrics.IncConsumerMessage(entry.Topic, "recovered")
	c.securityEvent(ctx, audit.SecurityDeadLetterRecovered, audit.SeverityLow, entry.Topic, entry.MessageID,
		"dead-letter entry reprocessed", map[string]interface{}{"id": entry.ID, "retryCount": entry.RetryCount + 1})
	c.logger.InfowCtx(ctx, "Dead-letter entry recovered", "id", entry.ID, "message_id", entry.MessageID)
	return nil
}

func (c *Consumer) retryRecord(ctx context.Context, rec transport.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fail(KindPanic, apperrors.PanicError(r, "panic during retry"))
		}
	}()

	msg, err := c.open(rec)
	if err != nil {
		return err
	}
	return c.dispatch(ctx, rec, msg, true)
}

// deadLetterRetryLoop periodically retries entries that failed in the
// handler. Integrity and compliance failures are left for manual Retry.
func (c *Consumer) deadLetterRetryLoop(ctx context.Context) {
	defer c.bgWG.Done()

	ticker := time.NewTicker(c.cfg.DeadLetterRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.retryHandlerFailures(ctx)
		}
	}
}

func (c *Consumer) retryHandlerFailures(ctx context.Context) {
	for _, entry := range c.deadLetters.list() {
		if ctx.Err() != nil {
			return
		}
		if entry.Kind != KindHandler && entry.Kind != KindPanic {
			continue
		}
		if entry.RetryCount >= c.cfg.DeadLetterRetryLimit {
			continue
		}
		_ = c.Retry(ctx, entry.ID)
	}
}
