package transport

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"securebus/internal/config"
	"securebus/internal/constants"
	"securebus/internal/logger"
	"securebus/pkg/metrics"
)

// deliveryHeader correlates a write with its completion callback so the
// receipt can carry the partition and offset the broker assigned.
const deliveryHeader = "x-securebus-delivery"

type KafkaPublisher struct {
	cfg    config.KafkaConfig
	logger logger.Logger
	dialer *kafka.Dialer

	mu     sync.Mutex
	writer *kafka.Writer

	seq      atomic.Uint64
	receipts sync.Map
}

func NewKafkaPublisher(cfg config.KafkaConfig, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		cfg:    cfg,
		logger: log,
		dialer: &kafka.Dialer{
			ClientID:  cfg.ClientID,
			Timeout:   constants.KafkaWriteTimeout,
			DualStack: true,
		},
	}
}

func (p *KafkaPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer != nil {
		return nil
	}

	if err := p.ping(ctx); err != nil {
		return err
	}

	batchTimeout := p.cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = constants.KafkaBatchTimeout
	}
	writeTimeout := p.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = constants.KafkaWriteTimeout
	}

	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(p.cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           requiredAcks(p.cfg.RequiredAcks),
		AllowAutoTopicCreation: true,
		// Retries are owned by the caller's backoff policy.
		MaxAttempts: 1,
		Transport:   &kafka.Transport{ClientID: p.cfg.ClientID},
		Completion:  p.complete,
	}

	p.logger.Infow("Kafka publisher connected",
		"brokers", p.cfg.Brokers,
		"client_id", p.cfg.ClientID,
	)
	return nil
}

func (p *KafkaPublisher) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	w := p.writer
	p.writer = nil
	p.mu.Unlock()

	if w == nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	p.logger.Infow("Kafka publisher disconnected")
	return nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg OutboundMessage) (Receipt, error) {
	p.mu.Lock()
	w := p.writer
	p.mu.Unlock()

	if w == nil {
		return Receipt{}, Classify(kafka.BrokerNotAvailable)
	}

	token := strconv.FormatUint(p.seq.Add(1), 10)
	defer p.receipts.Delete(token)

	headers := toKafkaHeaders(msg.Headers)
	headers = append(headers, kafka.Header{Key: deliveryHeader, Value: []byte(token)})

	start := time.Now()
	err := w.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
		Time:    start,
	})
	metrics.ObserveTransportWriteDuration(msg.Topic, time.Since(start))

	if err != nil {
		return Receipt{}, Classify(err)
	}

	metrics.IncTransportMessagesWritten(msg.Topic)
	metrics.ObserveTransportMessageSize(msg.Topic, "out", len(msg.Value))

	receipt := Receipt{Topic: msg.Topic, Partition: -1, Offset: -1}
	if v, ok := p.receipts.Load(token); ok {
		receipt = v.(Receipt)
	}
	return receipt, nil
}

// Flush is a no-op: writes are synchronous, so nothing is buffered once
// Publish returns.
func (p *KafkaPublisher) Flush(ctx context.Context) error {
	return nil
}

func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.ping(ctx)
}

func (p *KafkaPublisher) ping(ctx context.Context) error {
	if len(p.cfg.Brokers) == 0 {
		return Classify(kafka.BrokerNotAvailable)
	}
	conn, err := p.dialer.DialContext(ctx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		return Classify(err)
	}
	return conn.Close()
}

func (p *KafkaPublisher) complete(messages []kafka.Message, err error) {
	if err != nil {
		return
	}
	for _, m := range messages {
		for _, h := range m.Headers {
			if h.Key == deliveryHeader {
				p.receipts.Store(string(h.Value), Receipt{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset})
				break
			}
		}
	}
}

func requiredAcks(value string) kafka.RequiredAcks {
	switch strings.ToLower(value) {
	case "none":
		return kafka.RequireNone
	case "one":
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]kafka.Header, 0, len(keys)+1)
	for _, k := range keys {
		result = append(result, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
	return result
}

func fromKafkaHeaders(headers []kafka.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for _, h := range headers {
		if h.Key == deliveryHeader {
			continue
		}
		result[h.Key] = string(h.Value)
	}
	return result
}
