package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securebus/internal/config"
	apperrors "securebus/pkg/errors"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestMemoryStore(t *testing.T, window time.Duration) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(window, time.Hour)
	store.now = clock.Now
	t.Cleanup(func() { store.Close() })
	return store, clock
}

func TestMemoryStoreSeenWithinWindow(t *testing.T) {
	store, clock := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "a")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Mark(ctx, "a"))
	seen, _ = store.Seen(ctx, "a")
	assert.True(t, seen)

	clock.now = clock.now.Add(2 * time.Minute)
	seen, _ = store.Seen(ctx, "a")
	assert.False(t, seen)
}

func TestMemoryStoreSweep(t *testing.T) {
	store, clock := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Mark(ctx, "old-1"))
	require.NoError(t, store.Mark(ctx, "old-2"))
	clock.now = clock.now.Add(45 * time.Second)
	require.NoError(t, store.Mark(ctx, "fresh"))
	require.NoError(t, store.Mark(ctx, "old-1"))

	clock.now = clock.now.Add(30 * time.Second)
	assert.Equal(t, 1, store.Sweep())

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	seen, _ := store.Seen(ctx, "old-2")
	assert.False(t, seen)
	seen, _ = store.Seen(ctx, "old-1")
	assert.True(t, seen)
}

type flakyStore struct {
	err   error
	calls int
}

func (s *flakyStore) Seen(context.Context, string) (bool, error) {
	s.calls++
	return false, s.err
}

func (s *flakyStore) Mark(context.Context, string) error {
	s.calls++
	return s.err
}

func (s *flakyStore) Size(context.Context) (int, error) {
	s.calls++
	return 0, s.err
}

func TestCircuitBreakerStoreDisabled(t *testing.T) {
	inner := &flakyStore{}
	store := NewCircuitBreakerStore(inner, config.CircuitBreakerConfig{Enabled: false})

	_, err := store.Seen(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "disabled", store.State())
	assert.False(t, store.IsOpen())
}

func TestCircuitBreakerStoreOpens(t *testing.T) {
	inner := &flakyStore{err: errors.New("connection refused")}
	store := NewCircuitBreakerStore(inner, config.CircuitBreakerConfig{
		Enabled:      true,
		FailureRatio: 0.5,
		MinRequests:  3,
		Timeout:      time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Seen(ctx, "a")
		require.Error(t, err)
	}
	assert.True(t, store.IsOpen())

	callsBefore := inner.calls
	err := store.Mark(ctx, "a")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, callsBefore, inner.calls)
}
