package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithMessageID(ctx, "msg-1")
	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithServiceName(ctx, "securebus")

	assert.Equal(t, []interface{}{
		"trace_id", "trace-1",
		"message_id", "msg-1",
		"correlation_id", "corr-1",
		"request_id", "req-1",
		"service_name", "securebus",
	}, GetLogFields(ctx))
}
