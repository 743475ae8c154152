package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "securebus/pkg/errors"
)

func fastPolicy(retries int) Policy {
	return Policy{
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return apperrors.ErrNetworkException
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsRetries(t *testing.T) {
	var retried []int
	attempts, err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return apperrors.ErrBrokerNotAvailable
	}, func(attempt int, err error, next time.Duration) {
		retried = append(retried, attempt)
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []int{1, 2, 3}, retried)
}

func TestRetry_StopsOnFatalError(t *testing.T) {
	fatal := errors.New("schema mismatch")
	attempts, err := Retry(context.Background(), fastPolicy(5), func() error {
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	attempts, err := Retry(context.Background(), fastPolicy(0), func() error {
		return apperrors.ErrRequestTimeout
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestJitteredBackoffDuration_StaysWithinCap(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		d := JitteredBackoffDuration(attempt, 100*time.Millisecond, 2, 30*time.Second, 0.5)
		assert.LessOrEqual(t, d, 30*time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestCalculateBackoffDuration(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoffDuration(0, 100*time.Millisecond, 2, 30*time.Second))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoffDuration(2, 100*time.Millisecond, 2, 30*time.Second))
	assert.Equal(t, 30*time.Second, CalculateBackoffDuration(12, 100*time.Millisecond, 2, 30*time.Second))
}
