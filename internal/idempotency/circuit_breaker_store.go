package idempotency

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"securebus/internal/config"
	"securebus/pkg/circuitbreaker"
)

// CircuitBreakerStore guards a remote store. Every error counts as a failure
// here, unlike the transport breaker.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.DefaultConfig("idempotency-store")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}
	cbConfig.IsSuccessful = func(err error) bool { return err == nil }

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) Seen(ctx context.Context, id string) (bool, error) {
	if s.cb == nil {
		return s.store.Seen(ctx, id)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Seen(ctx, id)
	})
	if err != nil {
		return false, s.wrap(err)
	}

	seen, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("store returned invalid result type")
	}
	return seen, nil
}

func (s *CircuitBreakerStore) Mark(ctx context.Context, id string) error {
	if s.cb == nil {
		return s.store.Mark(ctx, id)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.Mark(ctx, id)
	})
	if err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *CircuitBreakerStore) Size(ctx context.Context) (int, error) {
	if s.cb == nil {
		return s.store.Size(ctx)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Size(ctx)
	})
	if err != nil {
		return 0, s.wrap(err)
	}

	size, ok := result.(int)
	if !ok {
		return 0, fmt.Errorf("store returned invalid result type")
	}
	return size, nil
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}

func (s *CircuitBreakerStore) IsOpen() bool {
	if s.cb == nil {
		return false
	}
	return s.cb.IsOpen()
}

func (s *CircuitBreakerStore) wrap(err error) error {
	if s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for %s: %w", s.cb.Name(), err)
	}
	return err
}
