// Package consumer is the secure receiving side of the bus. Each inbound
// record is opened, verified, re-validated and dispatched to the handler
// registered for its topic; every failure ends in the dead-letter store so a
// bad record never blocks its partition.
package consumer

import (
	"context"
	"sync"
	"time"

	"securebus/internal/audit"
	"securebus/internal/compliance"
	"securebus/internal/config"
	"securebus/internal/constants"
	"securebus/internal/idempotency"
	"securebus/internal/lifecycle"
	"securebus/internal/logger"
	"securebus/internal/security"
	"securebus/internal/transport"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/models"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateSubscribed   State = "subscribed"
	StateRunning      State = "running"
	StateStopped      State = "stopped"
)

// Crypto is the subset of the security provider the consumer uses.
type Crypto interface {
	Decrypt(ct security.Ciphertext, out interface{}) error
	Verify(v interface{}, signature string) bool
	Mask(fields []string, record map[string]interface{}) map[string]interface{}
}

type Validator interface {
	Validate(ctx context.Context, topic string, msg compliance.Message) compliance.Verdict
}

// ProcessingContext describes where a message came from.
type ProcessingContext struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	Headers       map[string]string
	MessageID     string
	CorrelationID string
	SessionID     string
	UserID        string
	Encrypted     bool
	IsRetry       bool
}

// Handler must be idempotent with respect to the message id: delivery is at
// least once. Payload numbers arrive as int64 when integral and float64
// otherwise.
type Handler func(ctx context.Context, msg *models.MessageEnvelope, pctx ProcessingContext) error

type SubscribeOptions struct {
	FromBeginning bool
}

type Config struct {
	DeadLetterCapacity      int
	MetricsInterval         time.Duration
	DeadLetterRetryInterval time.Duration
	DeadLetterRetryLimit    int
	SkipDuplicates          bool
	MaskedFields            []string
	AutoCommit              bool
	CommitInterval          time.Duration
	CommitThreshold         int
}

func ConfigFrom(cfg config.ConsumerConfig, kafka config.KafkaConfig, sec config.SecurityConfig) Config {
	autoCommit := true
	if cfg.AutoCommit != nil {
		autoCommit = *cfg.AutoCommit
	}
	return Config{
		DeadLetterCapacity:      cfg.DeadLetterCapacity,
		MetricsInterval:         cfg.MetricsInterval,
		DeadLetterRetryInterval: cfg.DeadLetterRetryInterval,
		DeadLetterRetryLimit:    cfg.DeadLetterRetryLimit,
		SkipDuplicates:          cfg.SkipDuplicates,
		MaskedFields:            sec.MaskedFields,
		AutoCommit:              autoCommit,
		CommitInterval:          kafka.CommitInterval,
		CommitThreshold:         kafka.CommitThreshold,
	}
}

func (c Config) withDefaults() Config {
	if c.DeadLetterCapacity <= 0 {
		c.DeadLetterCapacity = constants.DefaultDeadLetterCapacity
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = constants.DefaultMetricsInterval
	}
	if c.DeadLetterRetryLimit <= 0 {
		c.DeadLetterRetryLimit = constants.DefaultDeadLetterRetries
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = constants.DefaultCommitInterval
	}
	if c.CommitThreshold <= 0 {
		c.CommitThreshold = constants.DefaultCommitThreshold
	}
	return c
}

type Option func(*Consumer)

// WithIdempotencyStore enables duplicate suppression when SkipDuplicates is set.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(c *Consumer) { c.processed = store }
}

type Consumer struct {
	cfg        Config
	subscriber transport.Subscriber
	crypto     Crypto
	validator  Validator
	sink       audit.Sink
	logger     logger.Logger
	processed  idempotency.Store
	notifier   *lifecycle.Notifier
	now        func() time.Time

	mu       sync.RWMutex
	state    State
	handlers map[string]Handler
	topics   []string

	// procMu serialises live processing with dead-letter retries so a retry
	// never runs concurrently with the record stream.
	procMu sync.Mutex

	deadLetters *deadLetterStore
	stats       *processingStats

	runCancel context.CancelFunc
	runDone   chan struct{}
	bgCancel  context.CancelFunc
	bgWG      sync.WaitGroup
}

func New(cfg Config, subscriber transport.Subscriber, crypto Crypto, validator Validator, sink audit.Sink, log logger.Logger, opts ...Option) *Consumer {
	cfg = cfg.withDefaults()
	c := &Consumer{
		cfg:         cfg,
		subscriber:  subscriber,
		crypto:      crypto,
		validator:   validator,
		sink:        sink,
		logger:      log,
		notifier:    lifecycle.NewNotifier(constants.ComponentConsumer, 0),
		now:         time.Now,
		state:       StateDisconnected,
		handlers:    make(map[string]Handler),
		deadLetters: newDeadLetterStore(cfg.DeadLetterCapacity),
		stats:       &processingStats{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Notifications delivers connected, disconnected, stopped and crashed events.
func (c *Consumer) Notifications() <-chan lifecycle.Event {
	return c.notifier.C()
}

func (c *Consumer) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected {
		return nil
	}

	if err := c.subscriber.Connect(ctx); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to connect consumer transport", "error", err)
		return err
	}
	c.state = StateConnected

	c.securityEvent(ctx, audit.SecurityConnected, audit.SeverityLow, "", "", "consumer connected to transport", nil)
	c.notifier.Notify(lifecycle.Connected, nil)
	c.logger.InfowCtx(ctx, "Consumer connected")
	return nil
}

// Subscribe registers handler for every topic, replacing earlier
// registrations, and subscribes the transport to all registered topics.
func (c *Consumer) Subscribe(ctx context.Context, topics []string, handler Handler, opts SubscribeOptions) error {
	if len(topics) == 0 {
		return apperrors.ErrValidation.WithMessage("at least one topic is required")
	}
	if handler == nil {
		return apperrors.ErrValidation.WithMessage("handler is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnected, StateSubscribed, StateStopped:
	default:
		return apperrors.ErrConnectionState.WithMessage("consumer cannot subscribe in state " + string(c.state))
	}

	known := make(map[string]struct{}, len(c.topics))
	for _, t := range c.topics {
		known[t] = struct{}{}
	}
	all := append([]string(nil), c.topics...)
	for _, t := range topics {
		c.handlers[t] = handler
		if _, ok := known[t]; !ok {
			known[t] = struct{}{}
			all = append(all, t)
		}
	}

	if err := c.subscriber.Subscribe(ctx, all, opts.FromBeginning); err != nil {
		return err
	}

	c.topics = all
	c.state = StateSubscribed
	c.logger.InfowCtx(ctx, "Consumer subscribed", "topics", all, "from_beginning", opts.FromBeginning)
	return nil
}

// Run starts the processing loop and returns immediately. A transport crash
// moves the consumer to stopped and is reported as a critical security event
// and a crashed notification instead of being returned.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSubscribed && c.state != StateStopped {
		return apperrors.ErrConnectionState.WithMessage("consumer cannot run in state " + string(c.state))
	}
	if len(c.handlers) == 0 {
		return apperrors.ErrConnectionState.WithMessage("consumer has no subscription")
	}

	if c.runCancel != nil {
		c.runCancel()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.runCancel = cancel
	c.runDone = done
	c.state = StateRunning

	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	c.bgCancel = bgCancel
	c.bgWG.Add(1)
	go c.metricsLoop(bgCtx)
	if c.cfg.DeadLetterRetryInterval > 0 {
		c.bgWG.Add(1)
		go c.deadLetterRetryLoop(bgCtx)
	}

	runCfg := transport.RunConfig{
		AutoCommit:      c.cfg.AutoCommit,
		CommitInterval:  c.cfg.CommitInterval,
		CommitThreshold: c.cfg.CommitThreshold,
	}

	go func() {
		defer close(done)
		err := c.subscriber.Run(runCtx, runCfg, c.handleRecord)
		c.loopExited(runCtx, err)
	}()

	c.logger.InfowCtx(ctx, "Consumer running", "topics", c.topics, "auto_commit", c.cfg.AutoCommit)
	return nil
}

func (c *Consumer) loopExited(ctx context.Context, err error) {
	c.mu.Lock()
	wasRunning := c.state == StateRunning
	if wasRunning {
		c.state = StateStopped
	}
	bgCancel := c.bgCancel
	c.mu.Unlock()

	if bgCancel != nil {
		bgCancel()
	}

	if err == nil {
		if wasRunning {
			c.notifier.Notify(lifecycle.Stopped, nil)
		}
		return
	}

	c.logger.ErrorwCtx(ctx, "Consumer loop crashed", "error", err)
	c.securityEvent(ctx, audit.SecurityConsumerCrashed, audit.SeverityCritical, "", "",
		"consumer transport loop crashed", map[string]interface{}{"error": err.Error()})
	c.notifier.Notify(lifecycle.Crashed, err)
}

// Stop halts the processing loop without disconnecting. In-flight records
// and retries finish first.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel, done, bgCancel := c.runCancel, c.runDone, c.bgCancel
	wasRunning := c.state == StateRunning
	if wasRunning {
		c.state = StateStopped
	}
	c.runCancel, c.runDone, c.bgCancel = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}

	c.subscriber.Stop()
	cancel()
	<-done
	if bgCancel != nil {
		bgCancel()
	}
	c.bgWG.Wait()

	if wasRunning {
		c.notifier.Notify(lifecycle.Stopped, nil)
		c.logger.Infow("Consumer stopped")
	}
}

func (c *Consumer) Disconnect(ctx context.Context) error {
	c.Stop()

	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	if c.cfg.AutoCommit {
		if err := c.subscriber.CommitOffsets(ctx); err != nil {
			c.logger.WarnwCtx(ctx, "Failed to commit offsets on disconnect", "error", err)
		}
	}

	err := c.subscriber.Disconnect(ctx)
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to disconnect consumer transport", "error", err)
	}

	c.securityEvent(ctx, audit.SecurityDisconnected, audit.SeverityLow, "", "", "consumer disconnected from transport",
		map[string]interface{}{"deadLetters": c.deadLetters.len()})
	c.notifier.Notify(lifecycle.Disconnected, err)
	c.logger.InfowCtx(ctx, "Consumer disconnected")
	return err
}

// DeadLetters returns the dead-letter store contents, oldest first.
func (c *Consumer) DeadLetters() []DeadLetterMessage {
	return c.deadLetters.list()
}

type Status struct {
	State       State             `json:"state"`
	Topics      []string          `json:"topics"`
	DeadLetters int               `json:"deadLetters"`
	Metrics     ProcessingMetrics `json:"metrics"`
}

func (c *Consumer) Status() Status {
	c.mu.RLock()
	state := c.state
	topics := append([]string(nil), c.topics...)
	c.mu.RUnlock()

	return Status{
		State:       state,
		Topics:      topics,
		DeadLetters: c.deadLetters.len(),
		Metrics:     c.Metrics(),
	}
}

func (c *Consumer) handler(topic string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[topic]
	return h, ok
}

func (c *Consumer) securityEvent(ctx context.Context, eventType string, severity audit.Severity, topic, messageID, description string, details map[string]interface{}) {
	c.sink.RecordSecurity(ctx, audit.SecurityEvent{
		Timestamp:   c.now().UTC(),
		Type:        eventType,
		Severity:    severity,
		Component:   constants.ComponentConsumer,
		Topic:       topic,
		MessageID:   messageID,
		Description: description,
		Details:     details,
	})
}
