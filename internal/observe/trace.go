package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scope for every span the module emits.
const tracerName = "github.com/MrWong99/vocalink"

// Tracer resolves the module's [trace.Tracer] against whatever provider is
// currently registered globally, so spans end up wherever [InitProvider]
// (or a test) pointed them.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span named name under the module tracer. Callers own the
// returned span and must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID reports the active trace ID in ctx, or "" when ctx carries
// no recording span. The gateway mirrors this value to clients in the
// X-Correlation-ID header, so a support ticket quoting the header can be
// matched to spans and log lines directly.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger derives a logger from slog's default that tags every record with
// the trace_id and span_id active in ctx. Without an active span it is just
// the default logger.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
