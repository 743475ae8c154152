package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckerRegistry(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{
			name:     "all healthy",
			checkers: []Checker{NewPingChecker("broker", ok), NewPingChecker("redis", ok)},
			want:     StatusHealthy,
		},
		{
			name:     "required dependency down",
			checkers: []Checker{NewPingChecker("broker", down), Optional(NewPingChecker("redis", ok))},
			want:     StatusUnhealthy,
		},
		{
			name:     "optional dependency down",
			checkers: []Checker{NewPingChecker("broker", ok), Optional(NewPingChecker("redis", down))},
			want:     StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
		})
	}
}

func TestPingCheckerWrapsError(t *testing.T) {
	c := NewPingChecker("broker", func(context.Context) error { return errors.New("no leader") })

	err := c.Check(context.Background())
	assert.EqualError(t, err, "broker ping failed: no leader")
	assert.Equal(t, "broker", c.Name())
}

func TestOptionalCheckIsFlagged(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(Optional(NewPingChecker("redis", func(context.Context) error { return errors.New("timeout") })))

	h := r.Check(context.Background())
	res := h.Checks["redis"]
	assert.True(t, res.Optional)
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "redis ping failed: timeout", res.Message)
}

func TestPingCheckerAppliesTimeout(t *testing.T) {
	c := NewPingChecker("broker", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})

	assert.NoError(t, c.Check(context.Background()))
}
