// Package producer is the secure publishing side of the bus: every message is
// enriched into an envelope, signed, encrypted where required, validated and
// published with bounded retry.
package producer

import (
	"context"
	"sync"
	"time"

	"securebus/internal/audit"
	"securebus/internal/compliance"
	"securebus/internal/config"
	"securebus/internal/constants"
	"securebus/internal/lifecycle"
	"securebus/internal/logger"
	"securebus/internal/security"
	"securebus/internal/transport"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/retry"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
)

// Crypto is the subset of the security provider the producer uses.
type Crypto interface {
	NewMessageID() string
	Sign(v interface{}) (string, error)
	Encrypt(v interface{}) (security.Ciphertext, error)
}

type Validator interface {
	Validate(ctx context.Context, topic string, msg compliance.Message) compliance.Verdict
}

type Config struct {
	Source                string
	Version               string
	SensitiveTopics       []string
	Retry                 retry.Policy
	BatchConcurrency      int
	RetrySweepInterval    time.Duration
	MaxBackgroundAttempts int
}

func ConfigFrom(cfg config.ProducerConfig) Config {
	return Config{
		Source:          cfg.Source,
		Version:         cfg.Version,
		SensitiveTopics: cfg.SensitiveTopics,
		Retry: retry.Policy{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
			Jitter:          cfg.Retry.Jitter,
		},
		BatchConcurrency:      cfg.BatchConcurrency,
		RetrySweepInterval:    cfg.RetrySweepInterval,
		MaxBackgroundAttempts: cfg.MaxBackgroundAttempts,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = constants.DefaultBatchConcurrency
	}
	if c.RetrySweepInterval <= 0 {
		c.RetrySweepInterval = constants.DefaultRetrySweepInterval
	}
	if c.MaxBackgroundAttempts <= 0 {
		c.MaxBackgroundAttempts = constants.DefaultMaxBackgroundAttempts
	}
	if c.Retry == (retry.Policy{}) {
		c.Retry = retry.DefaultPolicy()
	}
	return c
}

type Producer struct {
	cfg       Config
	publisher transport.Publisher
	crypto    Crypto
	validator Validator
	sink      audit.Sink
	logger    logger.Logger
	sensitive map[string]struct{}
	notifier  *lifecycle.Notifier
	now       func() time.Time

	mu    sync.RWMutex
	state State

	queue *retryQueue
	// sweepMu keeps a queued entry from being published by two sweeps.
	sweepMu sync.Mutex

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

func New(cfg Config, publisher transport.Publisher, crypto Crypto, validator Validator, sink audit.Sink, log logger.Logger) *Producer {
	cfg = cfg.withDefaults()

	sensitive := make(map[string]struct{}, len(cfg.SensitiveTopics))
	for _, t := range cfg.SensitiveTopics {
		sensitive[t] = struct{}{}
	}

	return &Producer{
		cfg:       cfg,
		publisher: publisher,
		crypto:    crypto,
		validator: validator,
		sink:      sink,
		logger:    log,
		sensitive: sensitive,
		notifier:  lifecycle.NewNotifier(constants.ComponentProducer, 0),
		now:       time.Now,
		state:     StateDisconnected,
		queue:     newRetryQueue(),
	}
}

func (p *Producer) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Notifications delivers connected and disconnected events.
func (p *Producer) Notifications() <-chan lifecycle.Event {
	return p.notifier.C()
}

// IsSensitive reports whether topic always requires encryption.
func (p *Producer) IsSensitive(topic string) bool {
	_, ok := p.sensitive[topic]
	return ok
}

func (p *Producer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateConnected {
		return nil
	}

	if err := p.publisher.Connect(ctx); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to connect producer transport", "error", err)
		return err
	}

	p.state = StateConnected

	sweepCtx, cancel := context.WithCancel(context.Background())
	p.sweepCancel = cancel
	p.sweepDone = make(chan struct{})
	go p.sweepLoop(sweepCtx, p.sweepDone)

	p.sink.RecordSecurity(ctx, audit.SecurityEvent{
		Timestamp:   p.now().UTC(),
		Type:        audit.SecurityConnected,
		Severity:    audit.SeverityLow,
		Component:   constants.ComponentProducer,
		Description: "producer connected to transport",
	})
	p.notifier.Notify(lifecycle.Connected, nil)
	p.logger.InfowCtx(ctx, "Producer connected",
		"sensitive_topics", len(p.sensitive),
		"batch_concurrency", p.cfg.BatchConcurrency,
	)

	return nil
}

// Disconnect stops the retry sweeper, drains the retry queue with one final
// attempt per entry and tears down the transport. Entries that still fail are
// recorded as undelivered.
func (p *Producer) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		return nil
	}
	p.state = StateDisconnected
	cancel, done := p.sweepCancel, p.sweepDone
	p.mu.Unlock()

	cancel()
	<-done

	undelivered := p.drain(ctx)

	if err := p.publisher.Flush(ctx); err != nil {
		p.logger.WarnwCtx(ctx, "Transport flush failed during disconnect", "error", err)
	}

	err := p.publisher.Disconnect(ctx)
	if err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to disconnect producer transport", "error", err)
	}

	p.sink.RecordSecurity(ctx, audit.SecurityEvent{
		Timestamp:   p.now().UTC(),
		Type:        audit.SecurityDisconnected,
		Severity:    audit.SeverityLow,
		Component:   constants.ComponentProducer,
		Description: "producer disconnected from transport",
		Details:     map[string]interface{}{"undelivered": undelivered},
	})
	p.notifier.Notify(lifecycle.Disconnected, err)
	p.logger.InfowCtx(ctx, "Producer disconnected", "undelivered", undelivered)

	return err
}

// Flush flushes the transport and then makes one immediate attempt for
// every queued retry regardless of its backoff window.
func (p *Producer) Flush(ctx context.Context) error {
	if p.State() != StateConnected {
		return apperrors.ErrConnectionState.WithMessage("producer is not connected")
	}

	if err := p.publisher.Flush(ctx); err != nil {
		return err
	}

	p.sweep(ctx, true)
	return nil
}

func (p *Producer) requireConnected() error {
	if p.State() != StateConnected {
		return apperrors.ErrConnectionState.WithMessage("producer is not connected")
	}
	return nil
}

type Status struct {
	State          State `json:"state"`
	RetryQueueSize int   `json:"retryQueueSize"`
}

func (p *Producer) Status() Status {
	return Status{State: p.State(), RetryQueueSize: p.queue.len()}
}
