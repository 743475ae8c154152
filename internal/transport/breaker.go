package transport

import (
	"context"

	"securebus/pkg/circuitbreaker"
)

// BreakerPublisher short-circuits publishes while the broker is failing.
// An open breaker surfaces as a retryable broker-unavailable error, so the
// caller's backoff and retry queue still apply.
type BreakerPublisher struct {
	Publisher
	cb *circuitbreaker.Wrapper
}

func NewBreakerPublisher(next Publisher, cfg circuitbreaker.Config) *BreakerPublisher {
	return &BreakerPublisher{
		Publisher: next,
		cb:        circuitbreaker.NewWrapper(cfg),
	}
}

func (p *BreakerPublisher) Publish(ctx context.Context, msg OutboundMessage) (Receipt, error) {
	result, err := p.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return p.Publisher.Publish(ctx, msg)
	})
	if err != nil {
		return Receipt{}, err
	}
	return result.(Receipt), nil
}

func (p *BreakerPublisher) Breaker() *circuitbreaker.Wrapper {
	return p.cb
}

func (p *BreakerPublisher) Ping(ctx context.Context) error {
	if pinger, ok := p.Publisher.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
