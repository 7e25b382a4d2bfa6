package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer routes the global tracer provider into an in-memory exporter
// for the duration of the test. Tests using it must not run in parallel.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs points the default logger at a buffer for the duration of the
// test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func spanAttrs(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTurnSpan_CarriesSessionTurnAndOutcome(t *testing.T) {
	exp := installTracer(t)

	_, span := StartTurn(context.Background(), "session-1", 3)
	EndTurn(span, "played")

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != SpanTurn {
		t.Errorf("name = %q, want %q", spans[0].Name, SpanTurn)
	}
	attrs := spanAttrs(spans[0])
	if got := attrs[AttrSessionID].AsString(); got != "session-1" {
		t.Errorf("%s = %q, want session-1", AttrSessionID, got)
	}
	if got := attrs[AttrTurn].AsInt64(); got != 3 {
		t.Errorf("%s = %d, want 3", AttrTurn, got)
	}
	if got := attrs[AttrTurnOutcome].AsString(); got != "played" {
		t.Errorf("%s = %q, want played", AttrTurnOutcome, got)
	}
}

func TestTurnSpan_OneTracePerTurn(t *testing.T) {
	exp := installTracer(t)

	for n := uint64(1); n <= 3; n++ {
		_, span := StartTurn(context.Background(), "session-1", n)
		EndTurn(span, "text")
	}

	seen := make(map[string]bool)
	for _, s := range exp.GetSpans() {
		id := s.SpanContext.TraceID().String()
		if seen[id] {
			t.Fatalf("turns share trace %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Errorf("traces = %d, want 3", len(seen))
	}
}

func TestEndTurn_NilSpan(t *testing.T) {
	EndTurn(nil, "empty")
}

func TestLogger_TurnLinesCarryTraceIDs(t *testing.T) {
	installTracer(t)
	buf := captureLogs(t)

	ctx, span := StartTurn(context.Background(), "session-1", 1)
	Logger(ctx).Debug("conversation: listening", "turn", 1)
	EndTurn(span, "stopped")

	line := buf.String()
	want := "trace_id=" + span.SpanContext().TraceID().String()
	if !strings.Contains(line, want) {
		t.Errorf("log line %q does not contain %q", line, want)
	}
	if !strings.Contains(line, "span_id="+span.SpanContext().SpanID().String()) {
		t.Errorf("log line %q is missing span_id", line)
	}
}

func TestLogger_OutsideTurn(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("conversation: idle")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line outside a turn has a trace id: %q", buf.String())
	}
}
