package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// sensitiveAttributeKeys are redacted whole, whatever their value looks like.
// otelhttp client spans can carry these when header capture is enabled.
var sensitiveAttributeKeys = []string{
	"authorization",
	"x-api-key",
	"x-goog-api-key",
	"x-promptops-key",
	"x-amz-security-token",
}

// scrubbingExporter redacts credentials from spans before they are handed
// to the OTLP exporter. Provider error text ends up in span status and
// events, and vendors sometimes echo the key that was rejected.
type scrubbingExporter struct {
	next sdktrace.SpanExporter
}

func newScrubbingExporter(next sdktrace.SpanExporter) sdktrace.SpanExporter {
	return &scrubbingExporter{next: next}
}

func (e *scrubbingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	out := make([]sdktrace.ReadOnlySpan, 0, len(spans))
	for _, span := range spans {
		out = append(out, redactSpan(span))
	}
	return e.next.ExportSpans(ctx, out)
}

func (e *scrubbingExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}

// redactSpan returns span unchanged when it is clean.
func redactSpan(span sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	dirty := attributesNeedRedaction(span.Attributes()) || ContainsCredential(span.Status().Description)
	if !dirty {
		for _, event := range span.Events() {
			if attributesNeedRedaction(event.Attributes) {
				dirty = true
				break
			}
		}
	}
	if !dirty {
		return span
	}

	stub := tracetest.SpanStubFromReadOnlySpan(span)
	stub.Attributes = redactAttributes(stub.Attributes)
	for i := range stub.Events {
		stub.Events[i].Attributes = redactAttributes(stub.Events[i].Attributes)
	}
	stub.Status.Description = ScrubCredentials(stub.Status.Description)
	return stub.Snapshot()
}

func attributesNeedRedaction(attrs []attribute.KeyValue) bool {
	for _, attr := range attrs {
		if sensitiveAttributeKey(attr.Key) {
			return true
		}
		switch attr.Value.Type() {
		case attribute.STRING:
			if ContainsCredential(attr.Value.AsString()) {
				return true
			}
		case attribute.STRINGSLICE:
			for _, value := range attr.Value.AsStringSlice() {
				if ContainsCredential(value) {
					return true
				}
			}
		}
	}
	return false
}

func redactAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		key := string(attr.Key)
		switch {
		case sensitiveAttributeKey(attr.Key):
			out[i] = attribute.String(key, credentialRedacted)
		case attr.Value.Type() == attribute.STRING:
			out[i] = attribute.String(key, ScrubCredentials(attr.Value.AsString()))
		case attr.Value.Type() == attribute.STRINGSLICE:
			values := attr.Value.AsStringSlice()
			for j := range values {
				values[j] = ScrubCredentials(values[j])
			}
			out[i] = attribute.StringSlice(key, values)
		default:
			out[i] = attr
		}
	}
	return out
}

func sensitiveAttributeKey(key attribute.Key) bool {
	name := strings.ToLower(string(key))
	for _, sensitive := range sensitiveAttributeKeys {
		if strings.HasSuffix(name, sensitive) {
			return true
		}
	}
	return false
}
