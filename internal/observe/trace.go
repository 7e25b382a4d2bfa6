package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName scopes every tracer and meter parley creates.
const instrumentationName = "github.com/MrWong99/parley"

// SpanTurn covers one conversation turn, from the microphone opening to the
// state that ends the turn.
const SpanTurn = "conversation.turn"

// Attribute keys set on [SpanTurn].
const (
	AttrSessionID   = attribute.Key("session.id")
	AttrTurn        = attribute.Key("turn")
	AttrTurnOutcome = attribute.Key("turn.outcome")
)

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartTurn opens the span for turn n of a session. Pass the returned context
// to [Logger] so per-turn log lines carry the trace ids.
func StartTurn(ctx context.Context, sessionID string, n uint64) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanTurn,
		trace.WithAttributes(
			AttrSessionID.String(sessionID),
			AttrTurn.Int64(int64(n)),
		),
	)
}

// EndTurn records how a turn ended ("text", "played", "timeout", ...) and
// ends its span. A nil span is ignored.
func EndTurn(span trace.Span, outcome string) {
	if span == nil {
		return
	}
	span.SetAttributes(AttrTurnOutcome.String(outcome))
	span.End()
}

// Logger returns the default logger with trace_id and span_id of the span in
// ctx. Without a recording span it is slog.Default() unchanged.
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
