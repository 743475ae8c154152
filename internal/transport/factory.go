package transport

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"securebus/internal/config"
	"securebus/internal/logger"
	"securebus/pkg/circuitbreaker"
)

// Transports is one publisher and one subscriber bound to the same broker.
type Transports struct {
	Publisher  Publisher
	Subscriber Subscriber
}

func New(cfg config.BrokerConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) (*Transports, error) {
	var t Transports

	switch cfg.Type {
	case "kafka":
		t.Publisher = NewKafkaPublisher(cfg.Kafka, log)
		t.Subscriber = NewKafkaSubscriber(cfg.Kafka, log)
	case "memory":
		broker := NewMemoryBroker()
		t.Publisher = NewMemoryPublisher(broker)
		t.Subscriber = NewMemorySubscriber(broker)
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}

	if cbCfg.Enabled {
		t.Publisher = NewBreakerPublisher(t.Publisher, BreakerConfig("transport-publisher", cbCfg, log))
	}

	return &t, nil
}

func BreakerConfig(name string, cfg config.CircuitBreakerConfig, log logger.Logger) circuitbreaker.Config {
	cbCfg := circuitbreaker.DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		cbCfg.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbCfg.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbCfg.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 || cfg.MinRequests > 0 {
		ratio := cfg.FailureRatio
		if ratio <= 0 {
			ratio = 0.5
		}
		minRequests := cfg.MinRequests
		if minRequests == 0 {
			minRequests = 3
		}
		cbCfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.Requests >= minRequests && float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		}
	}
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warnw("Circuit breaker state changed",
			"name", name,
			"from", from.String(),
			"to", to.String(),
			"at", time.Now().UTC(),
		)
	}
	return cbCfg
}
