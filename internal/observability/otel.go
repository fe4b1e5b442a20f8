package observability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ongoingai/promptops/internal/auth"
	"github.com/ongoingai/promptops/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "promptops"
)

const (
	metricExecutions        = "promptops.executions_total"
	metricExecutionDuration = "promptops.execution.duration"
	metricFinishFailed      = "promptops.execlog.finish_failed_total"
	metricSchedulerInline   = "promptops.scheduler.inline_total"
)

// Runtime exposes OpenTelemetry HTTP wrappers and execution metric hooks.
type Runtime struct {
	enabled bool

	executionsCounter      metric.Int64Counter
	executionDuration      metric.Float64Histogram
	finishFailedCounter    metric.Int64Counter
	schedulerInlineCounter metric.Int64Counter

	shutdownFns []func(context.Context) error
}

// Setup initializes OpenTelemetry providers and runtime hooks.
func Setup(ctx context.Context, cfg config.OTelConfig, serviceVersion string, logger *slog.Logger) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runtime := &Runtime{}
	if !cfg.Enabled {
		return runtime, nil
	}

	exportTimeout := time.Duration(cfg.ExportTimeoutMS) * time.Millisecond
	metricInterval := time.Duration(cfg.MetricExportIntervalMS) * time.Millisecond
	otlpEndpoint, inferredInsecure, err := normalizeOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	insecure := cfg.Insecure
	if strings.Contains(strings.TrimSpace(cfg.Endpoint), "://") {
		// An explicit scheme decides transport security.
		insecure = inferredInsecure
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
		attribute.String("service.version", strings.TrimSpace(serviceVersion)),
	)

	if cfg.TracesEnabled {
		traceExporterOptions := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithTimeout(exportTimeout),
		}
		if insecure {
			traceExporterOptions = append(traceExporterOptions, otlptracehttp.WithInsecure())
		}
		traceExporter, err := otlptracehttp.New(ctx, traceExporterOptions...)
		if err != nil {
			return nil, fmt.Errorf("initialize otel trace exporter: %w", err)
		}

		// Provider error messages end up in span status; scrub them on export.
		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
			sdktrace.WithBatcher(newScrubbingExporter(traceExporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, tracerProvider.Shutdown)
	}

	if cfg.MetricsEnabled {
		metricExporterOptions := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(otlpEndpoint),
			otlpmetrichttp.WithTimeout(exportTimeout),
		}
		if insecure {
			metricExporterOptions = append(metricExporterOptions, otlpmetrichttp.WithInsecure())
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricExporterOptions...)
		if err != nil {
			_ = runtime.Shutdown(context.Background())
			return nil, fmt.Errorf("initialize otel metric exporter: %w", err)
		}

		reader := sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(metricInterval),
			sdkmetric.WithTimeout(exportTimeout),
		)
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otel.SetMeterProvider(meterProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, meterProvider.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})
	runtime.initInstruments(otel.Meter(instrumentationName), logger)

	runtime.enabled = true
	if logger != nil {
		logger.Info(
			"opentelemetry enabled",
			"otel_endpoint", otlpEndpoint,
			"otel_traces_enabled", cfg.TracesEnabled,
			"otel_metrics_enabled", cfg.MetricsEnabled,
			"otel_sampling_ratio", cfg.SamplingRatio,
		)
	}

	return runtime, nil
}

func (r *Runtime) initInstruments(meter metric.Meter, logger *slog.Logger) {
	warn := func(name string, err error) {
		if err != nil && logger != nil {
			logger.Warn("failed to create opentelemetry instrument", "metric", name, "error", err)
		}
	}

	var err error
	r.executionsCounter, err = meter.Int64Counter(
		metricExecutions,
		metric.WithDescription("Count of prompt executions that reached a provider, by outcome."),
	)
	warn(metricExecutions, err)

	r.executionDuration, err = meter.Float64Histogram(
		metricExecutionDuration,
		metric.WithDescription("Wall time of prompt executions from body parsing to result normalization."),
		metric.WithUnit("ms"),
	)
	warn(metricExecutionDuration, err)

	r.finishFailedCounter, err = meter.Int64Counter(
		metricFinishFailed,
		metric.WithDescription("Count of execution logs whose finalization failed."),
	)
	warn(metricFinishFailed, err)

	r.schedulerInlineCounter, err = meter.Int64Counter(
		metricSchedulerInline,
		metric.WithDescription("Count of background tasks run on the caller because the queue was full or stopped."),
	)
	warn(metricSchedulerInline, err)
}

// Enabled reports whether OpenTelemetry instrumentation is active.
func (r *Runtime) Enabled() bool {
	return r != nil && r.enabled
}

// WrapHTTPHandler wraps an inbound HTTP handler with OpenTelemetry spans.
// The propagator makes server spans children of the caller's traceparent.
func (r *Runtime) WrapHTTPHandler(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !r.Enabled() {
		return next
	}
	return otelhttp.NewHandler(
		next,
		"promptops.request",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return serverSpanName(req.Method, req.URL.Path)
		}),
	)
}

// SpanEnrichmentMiddleware adds caller attributes and marks 5xx responses
// as errors. It must run inside the auth middleware to see the identity.
func (r *Runtime) SpanEnrichmentMiddleware(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !r.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusCapturingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(recorder, req)

		span := oteltrace.SpanFromContext(req.Context())
		if span == nil || !span.IsRecording() {
			return
		}

		statusCode := recorder.StatusCode()
		if statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, fmt.Sprintf("http %d", statusCode))
		}

		identity, ok := auth.IdentityFromContext(req.Context())
		if !ok {
			return
		}
		attrs := make([]attribute.KeyValue, 0, 3)
		if tenantID := strings.TrimSpace(identity.TenantID); tenantID != "" {
			attrs = append(attrs, attribute.String("promptops.tenant_id", tenantID))
		}
		if keyID := strings.TrimSpace(identity.KeyID); keyID != "" {
			attrs = append(attrs, attribute.String("promptops.key_id", keyID))
		}
		if role := strings.TrimSpace(identity.Role); role != "" {
			attrs = append(attrs, attribute.String("promptops.role", role))
		}
		if len(attrs) > 0 {
			span.SetAttributes(attrs...)
		}
	})
}

// RecordExecution counts one execution and its duration.
func (r *Runtime) RecordExecution(provider, outcome string, duration time.Duration) {
	if !r.Enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	if r.executionsCounter != nil {
		r.executionsCounter.Add(context.Background(), 1, attrs)
	}
	if r.executionDuration != nil {
		r.executionDuration.Record(context.Background(), float64(duration.Microseconds())/1000, attrs)
	}
}

// RecordFinishFailure counts an execution log that could not be persisted.
func (r *Runtime) RecordFinishFailure(errorClass string) {
	if !r.Enabled() || r.finishFailedCounter == nil {
		return
	}
	r.finishFailedCounter.Add(
		context.Background(),
		1,
		metric.WithAttributes(attribute.String("error_class", strings.TrimSpace(errorClass))),
	)
}

// RecordSchedulerInline counts a task that bypassed the background queue.
func (r *Runtime) RecordSchedulerInline(reason string) {
	if !r.Enabled() || r.schedulerInlineCounter == nil {
		return
	}
	r.schedulerInlineCounter.Add(
		context.Background(),
		1,
		metric.WithAttributes(attribute.String("reason", strings.TrimSpace(reason))),
	)
}

// Shutdown flushes and stops OpenTelemetry providers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || len(r.shutdownFns) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func normalizeOTLPEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, errors.New("observability.otel.endpoint must not be empty")
	}

	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse observability.otel.endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false, fmt.Errorf("observability.otel.endpoint must include host (got %q)", raw)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return parsed.Host, true, nil
	case "https":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("observability.otel.endpoint scheme must be http or https when provided (got %q)", parsed.Scheme)
	}
}

// routePatternForPath collapses ids and slugs so span names stay low
// cardinality.
func routePatternForPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] != "api" {
		return "/other"
	}
	segments = segments[1:]
	switch {
	case len(segments) == 1 && (segments[0] == "health" || segments[0] == "logs" || segments[0] == "projects"):
		return "/api/" + segments[0]
	case len(segments) == 2 && segments[0] == "diagnostics":
		return "/api/diagnostics/" + segments[1]
	case len(segments) == 2 && segments[0] == "logs":
		return "/api/logs/{id}"
	case len(segments) == 4 && segments[0] == "logs" && segments[2] == "artifacts":
		return "/api/logs/{id}/artifacts/{name}"
	case len(segments) >= 1 && segments[0] == "projects":
		return projectRoutePattern(segments[1:])
	default:
		return "/api/*"
	}
}

func projectRoutePattern(rest []string) string {
	const base = "/api/projects/{project}"
	switch {
	case len(rest) == 1:
		return base
	case len(rest) == 2 && rest[1] == "prompts":
		return base + "/prompts"
	case len(rest) == 3 && rest[1] == "prompts":
		return base + "/prompts/{prompt}"
	case len(rest) == 4 && rest[1] == "prompts":
		return base + "/prompts/{prompt}/" + rest[3]
	default:
		return "/api/*"
	}
}

func serverSpanName(method, path string) string {
	return normalizedMethod(method) + " " + routePatternForPath(path)
}

func normalizedMethod(method string) string {
	method = strings.TrimSpace(method)
	if method == "" {
		return "UNKNOWN"
	}
	return method
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusCapturingResponseWriter) Unwrap() http.ResponseWriter {
	if w == nil {
		return nil
	}
	return w.ResponseWriter
}

func (w *statusCapturingResponseWriter) Header() http.Header {
	return w.ResponseWriter.Header()
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	if w.statusCode == 0 {
		w.statusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusCapturingResponseWriter) StatusCode() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

func (w *statusCapturingResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusCapturingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hijacker.Hijack()
}

func (w *statusCapturingResponseWriter) ReadFrom(r io.Reader) (int64, error) {
	readerFrom, ok := w.ResponseWriter.(io.ReaderFrom)
	if !ok {
		return io.Copy(w.ResponseWriter, r)
	}
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return readerFrom.ReadFrom(r)
}
