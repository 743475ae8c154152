package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securebus/internal/config"
	"securebus/internal/logger"
	apperrors "securebus/pkg/errors"
)

type failingPublisher struct {
	MemoryPublisher
	calls int
	err   error
}

func (p *failingPublisher) Publish(ctx context.Context, msg OutboundMessage) (Receipt, error) {
	p.calls++
	return Receipt{}, p.err
}

func TestBreakerPublisher_OpensAfterTransientFailures(t *testing.T) {
	inner := &failingPublisher{err: apperrors.ErrNetworkException}
	cfg := BreakerConfig("test-breaker-publisher", config.CircuitBreakerConfig{Enabled: true}, logger.NopLogger())
	p := NewBreakerPublisher(inner, cfg)

	for i := 0; i < 3; i++ {
		_, err := p.Publish(context.Background(), OutboundMessage{Topic: "t"})
		require.Error(t, err)
	}
	require.True(t, p.Breaker().IsOpen())

	_, err := p.Publish(context.Background(), OutboundMessage{Topic: "t"})
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the transport")
	assert.True(t, apperrors.IsRetryable(err))
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(config.BrokerConfig{Type: "carrier-pigeon"}, config.CircuitBreakerConfig{}, logger.NopLogger())
	assert.Error(t, err)
}

func TestNew_MemoryWithBreaker(t *testing.T) {
	tr, err := New(config.BrokerConfig{Type: "memory"}, config.CircuitBreakerConfig{Enabled: true}, logger.NopLogger())
	require.NoError(t, err)

	_, ok := tr.Publisher.(*BreakerPublisher)
	assert.True(t, ok)
	_, ok = tr.Subscriber.(*MemorySubscriber)
	assert.True(t, ok)
}
