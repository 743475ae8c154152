package transport

import (
	"context"
	"sync"
	"time"

	apperrors "securebus/pkg/errors"
	"securebus/pkg/metrics"
)

// MemoryBroker is an in-process, single-partition broker. Every topic is an
// append-only log; subscribers keep their own read position.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string][]Record
	subs   map[*MemorySubscriber]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics: make(map[string][]Record),
		subs:   make(map[*MemorySubscriber]struct{}),
	}
}

// Records returns a copy of everything published to topic.
func (b *MemoryBroker) Records(topic string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.topics[topic]...)
}

func (b *MemoryBroker) append(msg OutboundMessage) Receipt {
	b.mu.Lock()
	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}
	rec := Record{
		Topic:     msg.Topic,
		Partition: 0,
		Offset:    int64(len(b.topics[msg.Topic])),
		Key:       []byte(msg.Key),
		Value:     append([]byte(nil), msg.Value...),
		Headers:   headers,
		Timestamp: time.Now().UTC(),
	}
	b.topics[msg.Topic] = append(b.topics[msg.Topic], rec)
	subs := make([]*MemorySubscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.wake()
	}
	return Receipt{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset}
}

func (b *MemoryBroker) read(topic string, from int64) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	log := b.topics[topic]
	if from >= int64(len(log)) {
		return Record{}, false
	}
	return log[from], true
}

func (b *MemoryBroker) end(topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.topics[topic]))
}

func (b *MemoryBroker) register(s *MemorySubscriber) {
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
}

func (b *MemoryBroker) unregister(s *MemorySubscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

type MemoryPublisher struct {
	broker *MemoryBroker

	mu        sync.Mutex
	connected bool
}

func NewMemoryPublisher(broker *MemoryBroker) *MemoryPublisher {
	return &MemoryPublisher{broker: broker}
}

func (p *MemoryPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *MemoryPublisher) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

func (p *MemoryPublisher) Publish(ctx context.Context, msg OutboundMessage) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Classify(err)
	}

	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return Receipt{}, apperrors.ErrBrokerNotAvailable.WithMessage("memory publisher is not connected")
	}

	receipt := p.broker.append(msg)
	metrics.IncTransportMessagesWritten(msg.Topic)
	return receipt, nil
}

func (p *MemoryPublisher) Flush(ctx context.Context) error {
	return nil
}

func (p *MemoryPublisher) Ping(ctx context.Context) error {
	return nil
}

type MemorySubscriber struct {
	broker *MemoryBroker
	notify chan struct{}

	mu        sync.Mutex
	connected bool
	topics    []string
	positions map[string]int64
	committed map[string]int64
	pending   int
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewMemorySubscriber(broker *MemoryBroker) *MemorySubscriber {
	return &MemorySubscriber{
		broker:    broker,
		notify:    make(chan struct{}, 1),
		positions: make(map[string]int64),
		committed: make(map[string]int64),
	}
}

func (s *MemorySubscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.broker.register(s)
	return nil
}

func (s *MemorySubscriber) Disconnect(ctx context.Context) error {
	s.Stop()
	s.broker.unregister(s)
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *MemorySubscriber) Subscribe(ctx context.Context, topics []string, fromBeginning bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return apperrors.ErrConnectionState.WithMessage("subscriber is not connected")
	}
	if len(topics) == 0 {
		return apperrors.ErrValidation.WithMessage("at least one topic is required")
	}

	s.topics = append([]string(nil), topics...)
	for _, t := range topics {
		if _, ok := s.positions[t]; ok {
			continue
		}
		if committed, ok := s.committed[t]; ok {
			s.positions[t] = committed
		} else if fromBeginning {
			s.positions[t] = 0
		} else {
			s.positions[t] = s.broker.end(t)
		}
	}
	return nil
}

func (s *MemorySubscriber) Run(ctx context.Context, cfg RunConfig, handler RecordHandler) error {
	s.mu.Lock()
	if len(s.topics) == 0 {
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

	interval, threshold := commitSettings(cfg)
	if cfg.AutoCommit {
		go s.commitLoop(runCtx, interval)
	}

	defer func() {
		if cfg.AutoCommit {
			_ = s.CommitOffsets(context.Background())
		}
		s.mu.Lock()
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()
		cancel()
		close(done)
	}()

	for {
		progressed := false
		for _, topic := range s.subscribedTopics() {
			if runCtx.Err() != nil {
				return nil
			}
			rec, ok := s.broker.read(topic, s.position(topic))
			if !ok {
				continue
			}
			progressed = true
			metrics.IncTransportMessagesRead(topic)

			if err := handler(runCtx, rec); err != nil {
				return err
			}
			if s.advance(topic, rec.Offset+1) >= threshold && cfg.AutoCommit {
				_ = s.CommitOffsets(runCtx)
			}
		}

		if progressed {
			continue
		}
		select {
		case <-runCtx.Done():
			return nil
		case <-s.notify:
		}
	}
}

func (s *MemorySubscriber) Stop() {
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

// CommitOffsets commits the read position of every subscribed topic.
func (s *MemorySubscriber) CommitOffsets(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, pos := range s.positions {
		s.committed[t] = pos
	}
	s.pending = 0
	return nil
}

func (s *MemorySubscriber) commitLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.CommitOffsets(ctx)
		}
	}
}

// Committed returns the next offset to read for topic as of the last commit.
func (s *MemorySubscriber) Committed(topic string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.committed[topic]
	return pos, ok
}

func (s *MemorySubscriber) Ping(ctx context.Context) error {
	return nil
}

func (s *MemorySubscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *MemorySubscriber) subscribedTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

func (s *MemorySubscriber) position(topic string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[topic]
}

// advance moves the read position and returns the number of records read
// since the last commit.
func (s *MemorySubscriber) advance(topic string, next int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[topic] = next
	s.pending++
	return s.pending
}
