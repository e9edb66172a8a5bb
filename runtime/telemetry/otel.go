package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// SlogLogger implements Logger on top of the standard library's
	// structured logger.
	SlogLogger struct {
		logger *slog.Logger
	}

	// OTelMetrics implements Metrics by recording against the global OTEL
	// MeterProvider.
	OTelMetrics struct {
		meter metric.Meter
	}

	// OTelTracer implements Tracer against the global OTEL TracerProvider.
	OTelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewSlogLogger constructs a Logger delegating to slog.Default(), or a
// caller-supplied logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return SlogLogger{logger: l}
}

func (l SlogLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.logger.DebugContext(ctx, msg, keyvals...)
}

func (l SlogLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.logger.InfoContext(ctx, msg, keyvals...)
}

func (l SlogLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.logger.WarnContext(ctx, msg, keyvals...)
}

func (l SlogLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.logger.ErrorContext(ctx, msg, keyvals...)
}

// NewOTelMetrics constructs a Metrics recorder using the global
// MeterProvider. Configure the provider via otel.SetMeterProvider before use.
func NewOTelMetrics() Metrics {
	return &OTelMetrics{meter: otel.Meter("github.com/tensorzero/gateway")}
}

// NewOTelTracer constructs a Tracer using the global TracerProvider.
func NewOTelTracer() Tracer {
	return &OTelTracer{tracer: otel.Tracer("github.com/tensorzero/gateway")}
}

func (m *OTelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OTelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OTelMetrics) RecordGauge(name string, value float64, tags ...string) {
	hist, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	hist.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (t *OTelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		k := tags[i]
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		k, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, ""))
		}
	}
	return attrs
}
