package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "securebus"

// InjectTraceContext writes the W3C trace headers of ctx into headers and
// returns it, allocating the map when nil.
func InjectTraceContext(ctx context.Context, headers map[string]string) map[string]string {
	if headers == nil {
		headers = make(map[string]string)
	}

	propagator := otel.GetTextMapPropagator()
	if propagator == nil {
		return headers
	}

	propagator.Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

func ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	propagator := otel.GetTextMapPropagator()
	if propagator == nil || len(headers) == 0 {
		return ctx
	}

	return propagator.Extract(ctx, propagation.MapCarrier(headers))
}

func StartSpanFromHeaders(ctx context.Context, operationName string, headers map[string]string) (context.Context, trace.Span) {
	ctx = ExtractTraceContext(ctx, headers)
	return tracer().Start(ctx, operationName)
}

func StartSpan(ctx context.Context, operationName string) (context.Context, trace.Span) {
	return tracer().Start(ctx, operationName)
}

// TraceID returns the hex trace id of the active span, or "" when ctx
// carries none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
