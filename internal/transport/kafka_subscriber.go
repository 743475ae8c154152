package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"securebus/internal/config"
	"securebus/internal/constants"
	"securebus/internal/logger"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/metrics"
	"securebus/pkg/retry"
)

type KafkaSubscriber struct {
	cfg    config.KafkaConfig
	logger logger.Logger
	dialer *kafka.Dialer

	mu        sync.Mutex
	connected bool
	reader    *kafka.Reader
	cancel    context.CancelFunc
	done      chan struct{}

	pendingMu sync.Mutex
	pending   []kafka.Message
}

func NewKafkaSubscriber(cfg config.KafkaConfig, log logger.Logger) *KafkaSubscriber {
	return &KafkaSubscriber{
		cfg:    cfg,
		logger: log,
		dialer: &kafka.Dialer{
			ClientID:  cfg.ClientID,
			Timeout:   constants.KafkaWriteTimeout,
			DualStack: true,
		},
	}
}

func (s *KafkaSubscriber) Connect(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *KafkaSubscriber) Ping(ctx context.Context) error {
	if len(s.cfg.Brokers) == 0 {
		return Classify(kafka.BrokerNotAvailable)
	}
	conn, err := s.dialer.DialContext(ctx, "tcp", s.cfg.Brokers[0])
	if err != nil {
		return Classify(err)
	}
	return conn.Close()
}

// Subscribe replaces any previous subscription. The start position only
// applies when the consumer group has no committed offset yet.
func (s *KafkaSubscriber) Subscribe(ctx context.Context, topics []string, fromBeginning bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return apperrors.ErrConnectionState.WithMessage("subscriber is not connected")
	}
	if len(topics) == 0 {
		return apperrors.ErrValidation.WithMessage("at least one topic is required")
	}

	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			s.logger.Warnw("Failed to close previous kafka reader", "error", err)
		}
	}

	startOffset := kafka.LastOffset
	if fromBeginning {
		startOffset = kafka.FirstOffset
	}

	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.cfg.Brokers,
		GroupID:     s.cfg.GroupID,
		GroupTopics: topics,
		Dialer:      s.dialer,
		StartOffset: startOffset,
		MinBytes:    constants.KafkaMinBytes,
		MaxBytes:    constants.KafkaMaxBytes,
		MaxWait:     constants.KafkaMaxWait,
	})

	s.logger.Infow("Kafka reader created",
		"topics", topics,
		"brokers", s.cfg.Brokers,
		"group_id", s.cfg.GroupID,
		"from_beginning", fromBeginning,
	)
	return nil
}

func (s *KafkaSubscriber) Run(ctx context.Context, cfg RunConfig, handler RecordHandler) error {
	s.mu.Lock()
	reader := s.reader
	if reader == nil {
		s.mu.Unlock()
		return apperrors.ErrConnectionState.WithMessage("subscriber has no subscription")
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return apperrors.ErrConnectionState.WithMessage("subscriber is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	defer func() {
		s.flushPending(cfg)
		s.mu.Lock()
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()
		cancel()
		close(done)
	}()

	interval, threshold := commitSettings(cfg)
	if cfg.AutoCommit {
		go s.commitLoop(runCtx, interval)
	}

	failures := 0
	for {
		m, err := reader.FetchMessage(runCtx)
		if err != nil {
			if runCtx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			classified := Classify(err)
			if !apperrors.IsRetryable(classified) {
				return fmt.Errorf("kafka fetch failed: %w", classified)
			}
			failures++
			delay := retry.JitteredBackoffDuration(failures, 100*time.Millisecond, 2, 30*time.Second, retry.DefaultRandomizationFactor)
			s.logger.WarnwCtx(runCtx, "Retrying kafka fetch",
				"error", classified,
				"attempt", failures,
				"next_delay", delay,
			)
			select {
			case <-runCtx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		failures = 0

		metrics.IncTransportMessagesRead(m.Topic)
		metrics.ObserveTransportMessageSize(m.Topic, "in", len(m.Value))

		rec := Record{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Headers:   fromKafkaHeaders(m.Headers),
			Timestamp: m.Time,
		}

		if err := handler(runCtx, rec); err != nil {
			return err
		}

		if !cfg.AutoCommit {
			s.track(m)
			continue
		}

		if s.track(m) >= threshold {
			if err := s.commitPending(runCtx); err != nil {
				s.logger.ErrorwCtx(runCtx, "Failed to commit offsets", "error", err)
			}
		}
	}
}

func (s *KafkaSubscriber) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// CommitOffsets commits every record handed to the handler so far.
func (s *KafkaSubscriber) CommitOffsets(ctx context.Context) error {
	return s.commitPending(ctx)
}

func (s *KafkaSubscriber) Disconnect(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	if err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}

// reportLag publishes the reader's lag. Group readers spanning several
// topics report no topic or partition, so the group id labels the gauge.
func (s *KafkaSubscriber) reportLag() {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return
	}

	stats := reader.Stats()
	topic := stats.Topic
	if topic == "" {
		topic = "group:" + s.cfg.GroupID
	}
	partition, err := strconv.Atoi(stats.Partition)
	if err != nil {
		partition = -1
	}
	metrics.SetTransportConsumerLag(topic, partition, stats.Lag)
}

func (s *KafkaSubscriber) track(m kafka.Message) int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = append(s.pending, m)
	return len(s.pending)
}

func (s *KafkaSubscriber) commitPending(ctx context.Context) error {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return apperrors.ErrConnectionState.WithMessage("subscriber has no subscription")
	}

	if err := reader.CommitMessages(ctx, batch...); err != nil {
		// Put the batch back so the next commit retries it.
		s.pendingMu.Lock()
		s.pending = append(batch, s.pending...)
		s.pendingMu.Unlock()
		return Classify(err)
	}
	return nil
}

func (s *KafkaSubscriber) commitLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.commitPending(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorwCtx(ctx, "Periodic offset commit failed", "error", err)
			}
			s.reportLag()
		}
	}
}

func (s *KafkaSubscriber) flushPending(cfg RunConfig) {
	if !cfg.AutoCommit {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := s.commitPending(ctx); err != nil {
		s.logger.Errorw("Failed to commit offsets on stop", "error", err)
	}
}

func commitSettings(cfg RunConfig) (time.Duration, int) {
	interval := cfg.CommitInterval
	if interval <= 0 {
		interval = constants.DefaultCommitInterval
	}
	threshold := cfg.CommitThreshold
	if threshold <= 0 {
		threshold = constants.DefaultCommitThreshold
	}
	return interval, threshold
}
