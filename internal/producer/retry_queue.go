package producer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"securebus/internal/audit"
	"securebus/internal/constants"
	"securebus/internal/transport"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/metrics"
	"securebus/pkg/models"
)

// RetryableMessage is a send that exhausted its inline retries with a
// retryable error. The outbound record is kept as built so a background
// delivery carries the same id and signature.
type RetryableMessage struct {
	MessageID   string
	Topic       string
	Message     transport.OutboundMessage
	Options     SendOptions
	Attempts    int
	QueuedAt    time.Time
	LastAttempt time.Time
	LastError   error
}

type retryQueue struct {
	mu      sync.Mutex
	entries map[string]*RetryableMessage
}

func newRetryQueue() *retryQueue {
	return &retryQueue{entries: make(map[string]*RetryableMessage)}
}

func (q *retryQueue) add(msg *RetryableMessage) {
	q.mu.Lock()
	q.entries[msg.MessageID] = msg
	size := len(q.entries)
	q.mu.Unlock()
	metrics.SetRetryQueueSize(size)
}

func (q *retryQueue) remove(id string) {
	q.mu.Lock()
	delete(q.entries, id)
	size := len(q.entries)
	q.mu.Unlock()
	metrics.SetRetryQueueSize(size)
}

func (q *retryQueue) snapshot() []RetryableMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]RetryableMessage, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out
}

func (q *retryQueue) record(id string, at time.Time, err error) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return 0, false
	}
	e.Attempts++
	e.LastAttempt = at
	e.LastError = err
	return e.Attempts, true
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// RetryQueue returns a snapshot of the background retry queue, oldest first.
func (p *Producer) RetryQueue() []RetryableMessage {
	return p.queue.snapshot()
}

func (p *Producer) enqueue(topic string, msg transport.OutboundMessage, opts SendOptions, err error) {
	now := p.now()
	p.queue.add(&RetryableMessage{
		MessageID:   msg.Headers[models.HeaderMessageID],
		Topic:       topic,
		Message:     msg,
		Options:     opts,
		Attempts:    0,
		QueuedAt:    now,
		LastAttempt: now,
		LastError:   err,
	})
}

func (p *Producer) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.RetrySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx, false)
		}
	}
}

// sweep re-attempts every entry whose backoff window has elapsed, or every
// entry when force is set. Attempts are cumulative across sweeps, and
// sweeps never overlap.
func (p *Producer) sweep(ctx context.Context, force bool) {
	p.sweepMu.Lock()
	defer p.sweepMu.Unlock()

	for _, entry := range p.queue.snapshot() {
		if ctx.Err() != nil {
			return
		}
		if !force && p.now().Before(entry.LastAttempt.Add(p.cfg.Retry.Backoff(entry.Attempts))) {
			continue
		}
		p.attemptQueued(ctx, entry)
	}
}

func (p *Producer) attemptQueued(ctx context.Context, entry RetryableMessage) {
	metrics.IncRetryAttempt(constants.ComponentProducer, entry.Topic)

	start := p.now()
	receipt, err := p.publisher.Publish(ctx, entry.Message)
	if err == nil {
		p.queue.remove(entry.MessageID)
		metrics.IncProducerMessage(entry.Topic, "recovered")
		p.recordSent(ctx, entry.Topic, entry.MessageID, receipt, p.now().Sub(start), entry.Message.Headers[models.HeaderEncrypted] == "true")
		p.logger.InfowCtx(ctx, "Queued message delivered",
			"message_id", entry.MessageID,
			"topic", entry.Topic,
			"attempts", entry.Attempts+1,
		)
		return
	}

	attempts, ok := p.queue.record(entry.MessageID, p.now(), err)
	if !ok {
		return
	}

	if attempts < p.cfg.MaxBackgroundAttempts && apperrors.IsRetryable(err) {
		p.logger.WarnwCtx(ctx, "Queued message retry failed",
			"message_id", entry.MessageID,
			"topic", entry.Topic,
			"attempts", attempts,
			"error", err,
		)
		return
	}

	p.queue.remove(entry.MessageID)
	metrics.IncRetryQueueDropped(entry.Topic)
	p.logger.ErrorwCtx(ctx, "Abandoning queued message",
		"message_id", entry.MessageID,
		"topic", entry.Topic,
		"attempts", attempts,
		"error", err,
	)
	p.sink.RecordSecurity(ctx, audit.SecurityEvent{
		Timestamp:   p.now().UTC(),
		Type:        audit.SecurityRetryAbandoned,
		Severity:    audit.SeverityHigh,
		Component:   constants.ComponentProducer,
		Topic:       entry.Topic,
		MessageID:   entry.MessageID,
		Description: fmt.Sprintf("background delivery abandoned after %d attempts", attempts),
		Details:     map[string]interface{}{"error": err.Error()},
	})
}

// drain makes one final attempt for each queued entry and returns how many
// remain undelivered.
func (p *Producer) drain(ctx context.Context) int {
	p.sweepMu.Lock()
	defer p.sweepMu.Unlock()

	undelivered := 0
	for _, entry := range p.queue.snapshot() {
		receipt, err := p.publisher.Publish(ctx, entry.Message)
		p.queue.remove(entry.MessageID)
		if err == nil {
			metrics.IncProducerMessage(entry.Topic, "recovered")
			p.recordSent(ctx, entry.Topic, entry.MessageID, receipt, 0, entry.Message.Headers[models.HeaderEncrypted] == "true")
			continue
		}

		undelivered++
		metrics.IncRetryQueueDropped(entry.Topic)
		p.logger.ErrorwCtx(ctx, "Message undelivered on shutdown",
			"message_id", entry.MessageID,
			"topic", entry.Topic,
			"error", err,
		)
		p.sink.RecordSecurity(ctx, audit.SecurityEvent{
			Timestamp:   p.now().UTC(),
			Type:        audit.SecurityUndelivered,
			Severity:    audit.SeverityHigh,
			Component:   constants.ComponentProducer,
			Topic:       entry.Topic,
			MessageID:   entry.MessageID,
			Description: "queued message could not be delivered before disconnect",
			Details:     map[string]interface{}{"error": err.Error(), "attempts": entry.Attempts + 1},
		})
	}
	return undelivered
}
