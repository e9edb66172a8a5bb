// Package telemetry integrates gateway events with OpenTelemetry tracing and
// metrics. Grounded on the teacher's runtime/agent/telemetry package; this
// version drops the goa.design/clue logging façade (a Goa-service-specific
// dependency this gateway has no other use for) in favor of a small Logger
// interface implemented directly on top of the standard library's slog,
// keeping OTEL for tracing and metrics where the teacher's choice transfers
// unchanged.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the gateway.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for runtime
// instrumentation (inference latency, provider failures, cache hit rate).
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so gateway code stays agnostic of the
// underlying OpenTelemetry provider configuration.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
