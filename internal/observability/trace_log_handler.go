package observability

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ongoingai/promptops/internal/traceparent"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// traceLogHandler adds trace_id and span_id to every record logged with a
// traced context. A recording OpenTelemetry span wins; otherwise the inbound
// traceparent stored by the API layer is used, so log lines still carry the
// caller's trace id when telemetry export is off.
type traceLogHandler struct {
	inner slog.Handler
}

// NewTraceLogHandler wraps inner. If inner is nil, slog.Default().Handler()
// is used.
func NewTraceLogHandler(inner slog.Handler) slog.Handler {
	if inner == nil {
		inner = slog.Default().Handler()
	}
	return &traceLogHandler{inner: inner}
}

func (h *traceLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *traceLogHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx == nil {
		return h.inner.Handle(ctx, record)
	}
	span := oteltrace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() && span.IsRecording() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	} else if tc, ok := traceparent.FromContext(ctx); ok {
		record.AddAttrs(
			slog.String("trace_id", strings.ToLower(tc.TraceID)),
			slog.String("parent_span_id", strings.ToLower(tc.ParentSpanID)),
		)
	}
	return h.inner.Handle(ctx, record)
}

func (h *traceLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceLogHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *traceLogHandler) WithGroup(name string) slog.Handler {
	return &traceLogHandler{inner: h.inner.WithGroup(name)}
}
