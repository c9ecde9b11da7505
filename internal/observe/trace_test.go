package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// spanCtx returns a context carrying a live span recorded into an in-memory
// exporter, ending the span at test cleanup.
func spanCtx(t *testing.T, name string) (context.Context, *tracetest.InMemoryExporter) {
	t.Helper()

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), name)
	t.Cleanup(func() { span.End() })
	return ctx, exp
}

func TestCorrelationID(t *testing.T) {
	t.Run("empty without a span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("CorrelationID = %q, want empty", got)
		}
	})

	t.Run("lowercase hex trace ID", func(t *testing.T) {
		ctx, _ := spanCtx(t, "session")
		cid := CorrelationID(ctx)
		if len(cid) != 32 {
			t.Fatalf("CorrelationID length = %d, want 32", len(cid))
		}
		if strings.Trim(cid, "0123456789abcdef") != "" {
			t.Errorf("CorrelationID %q is not lowercase hex", cid)
		}
	})

	t.Run("distinct per trace", func(t *testing.T) {
		seen := make(map[string]struct{}, 64)
		for range 64 {
			ctx, _ := spanCtx(t, "session")
			cid := CorrelationID(ctx)
			if _, dup := seen[cid]; dup {
				t.Fatalf("duplicate correlation ID %s", cid)
			}
			seen[cid] = struct{}{}
		}
	})
}

func TestStartSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, span := StartSpan(context.Background(), "recognizer.stream")
	if CorrelationID(ctx) == "" {
		t.Error("returned context carries no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "recognizer.stream" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "recognizer.stream")
	}
}

func TestLogger(t *testing.T) {
	capture := func(t *testing.T) *bytes.Buffer {
		t.Helper()
		var buf bytes.Buffer
		prev := slog.Default()
		slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
		t.Cleanup(func() { slog.SetDefault(prev) })
		return &buf
	}

	t.Run("annotates with trace and span IDs", func(t *testing.T) {
		buf := capture(t)
		ctx, _ := spanCtx(t, "session")

		Logger(ctx).Info("frame accepted")

		out := buf.String()
		wantTrace := "trace_id=" + CorrelationID(ctx)
		if !strings.Contains(out, wantTrace) {
			t.Errorf("log line missing %q: %s", wantTrace, out)
		}
		if !strings.Contains(out, "span_id=") {
			t.Errorf("log line missing span_id: %s", out)
		}
	})

	t.Run("plain default logger without a span", func(t *testing.T) {
		buf := capture(t)

		Logger(context.Background()).Info("frame accepted")

		if out := buf.String(); strings.Contains(out, "trace_id") {
			t.Errorf("log line unexpectedly carries trace_id: %s", out)
		}
	})
}

func TestTracer(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("Tracer() = nil")
	}
}
