package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultRandomizationFactor = 0.5

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier, jitter float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.RandomizationFactor = jitter
	exp.MaxElapsedTime = 0
	return exp
}

// CalculateBackoffDuration returns initial * multiplier^attempt capped at maxInterval.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}

// JitteredBackoffDuration spreads CalculateBackoffDuration uniformly over
// [d*(1-jitter), d*(1+jitter)] and re-applies the cap.
func JitteredBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration, jitter float64) time.Duration {
	d := float64(CalculateBackoffDuration(attempt, initialInterval, multiplier, maxInterval))
	if jitter > 0 {
		delta := jitter * d
		d = d - delta + rand.Float64()*(2*delta)
	}
	if d > float64(maxInterval) {
		d = float64(maxInterval)
	}
	return time.Duration(d)
}
