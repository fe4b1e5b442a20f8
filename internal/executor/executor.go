// Package executor runs one prompt execution end to end: it resolves the
// active version, dispatches it to the provider, and records the outcome
// with a trace-correlated execution log that is finalized after the caller
// has its answer.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ongoingai/promptops/internal/execlog"
	"github.com/ongoingai/promptops/internal/limits"
	"github.com/ongoingai/promptops/internal/prompt"
	"github.com/ongoingai/promptops/internal/providers"
	"github.com/ongoingai/promptops/internal/scheduler"
	"github.com/ongoingai/promptops/internal/traceparent"
)

const instrumentationName = "promptops.executor"

// Outcomes reported to Metrics.RecordExecution.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Dispatcher renders and sends a request to a named provider.
type Dispatcher interface {
	Execute(ctx context.Context, providerName string, in providers.ExecutionRequest) (*providers.Result, *providers.Request, error)
	EstimateCost(providerName, model string, usage *providers.Usage) float64
}

// Limiter decides whether a tenant may execute now.
type Limiter interface {
	Check(ctx context.Context, tenantID string) (*limits.Decision, error)
}

// Metrics receives execution outcomes. observability.Runtime implements it.
type Metrics interface {
	RecordExecution(provider, outcome string, duration time.Duration)
	RecordFinishFailure(errorClass string)
}

// Request is one inbound execution. Project and Prompt are the already
// classified path identifiers; TraceParent is the raw header value.
type Request struct {
	TenantID    string
	Project     prompt.EntityRef
	Prompt      prompt.EntityRef
	Variables   map[string]any
	TraceParent string
}

// Response is the caller-visible result. LogID and TraceID identify the
// execution log for response headers.
type Response struct {
	Response any    `json:"response"`
	LogID    string `json:"-"`
	TraceID  string `json:"-"`
}

type Options struct {
	Store      prompt.Store
	Dispatcher Dispatcher
	Records    execlog.RecordStore
	Blobs      execlog.BlobStore
	Scheduler  scheduler.Scheduler
	Limiter    Limiter
	Metrics    Metrics
	Logger     *slog.Logger
}

type Executor struct {
	resolver   *prompt.Resolver
	dispatcher Dispatcher
	records    execlog.RecordStore
	blobs      execlog.BlobStore
	scheduler  scheduler.Scheduler
	limiter    Limiter
	metrics    Metrics
	logger     *slog.Logger
	tracer     oteltrace.Tracer
	now        func() time.Time
	newLogger  func() *execlog.Logger
}

func New(opts Options) (*Executor, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("executor: prompt store is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("executor: provider dispatcher is required")
	case opts.Records == nil:
		return nil, errors.New("executor: log record store is required")
	case opts.Blobs == nil:
		return nil, errors.New("executor: artifact blob store is required")
	case opts.Scheduler == nil:
		return nil, errors.New("executor: scheduler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		resolver:   prompt.NewResolver(opts.Store),
		dispatcher: opts.Dispatcher,
		records:    opts.Records,
		blobs:      opts.Blobs,
		scheduler:  opts.Scheduler,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
	}
	e.newLogger = func() *execlog.Logger { return execlog.NewLogger(e.records, e.blobs) }
	return e, nil
}

// Execute runs the prompt addressed by req. Resolution failures return
// before anything is logged. Once a log context exists, every outcome is
// logged and handed to the scheduler for finalization before Execute
// returns.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, newError(KindUnauthenticated, MsgMissingTenant, prompt.ErrTenantRequired)
	}

	if err := e.checkLimits(ctx, tenantID); err != nil {
		return nil, err
	}

	project, err := e.resolver.ResolveProject(ctx, tenantID, req.Project)
	if err != nil {
		if errors.Is(err, prompt.ErrProjectNotFound) {
			return nil, newError(KindNotFound, MsgProjectNotFound, err)
		}
		return nil, newError(KindInternal, MsgInternal, err)
	}
	target, err := e.resolver.ResolvePrompt(ctx, tenantID, project.ID, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, prompt.ErrPromptNotFound):
			return nil, newError(KindNotFound, MsgPromptNotFound, err)
		case errors.Is(err, prompt.ErrPromptInactive):
			return nil, newError(KindInvalidState, MsgPromptInactive, err)
		}
		return nil, newError(KindInternal, MsgInternal, err)
	}
	version, err := e.resolver.ResolveActiveVersion(ctx, tenantID, project.ID, target.ID)
	if err != nil {
		if errors.Is(err, prompt.ErrNoActiveVersion) {
			return nil, newError(KindNotFound, MsgNoActiveVersion, err)
		}
		return nil, newError(KindInternal, MsgInternal, err)
	}

	var inbound *traceparent.TraceContext
	if tc, ok := traceparent.Parse(req.TraceParent); ok {
		inbound = &tc
		if !oteltrace.SpanContextFromContext(ctx).IsValid() {
			ctx = oteltrace.ContextWithRemoteSpanContext(ctx, tc.SpanContext())
		}
	}
	ctx, span := e.tracer.Start(ctx, "prompt.execute", oteltrace.WithSpanKind(oteltrace.SpanKindInternal))
	defer span.End()
	if inbound == nil {
		inbound = traceFromSpan(span)
	}

	logger := e.newLogger()
	if err := logger.SetContext(execlog.Context{
		TenantID:  tenantID,
		ProjectID: project.ID,
		PromptID:  target.ID,
		Version:   version.Version,
		Provider:  version.Provider,
		Model:     version.Model,
		Trace:     inbound,
		Variables: req.Variables,
	}); err != nil {
		return nil, e.failSpan(span, newError(KindInternal, MsgInternal, err))
	}
	span.SetAttributes(
		attribute.String("promptops.tenant_id", tenantID),
		attribute.Int64("promptops.project_id", project.ID),
		attribute.Int64("promptops.prompt_id", target.ID),
		attribute.Int("promptops.version", version.Version),
		attribute.String("promptops.provider", version.Provider),
		attribute.String("promptops.model", version.Model),
		attribute.String("promptops.log_id", logger.ID()),
	)

	started := e.now()
	// The provider call is not cancelled when the caller goes away; the
	// execution runs to completion or failure and is logged either way.
	outcome, execErr := e.run(context.WithoutCancel(ctx), version, req.Variables)
	elapsed := e.now().Sub(started)

	if execErr != nil {
		e.recordExecution(version.Provider, OutcomeFailure, elapsed)
		if err := logger.LogFailure(execlog.Failure{
			Err:        execErr.logged(),
			Input:      outcome.input,
			DurationMS: elapsed.Milliseconds(),
		}); err != nil {
			e.logger.Error("record execution failure", "error", err, "log_id", logger.ID(), "trace_id", logger.TraceID())
		} else {
			e.scheduleFinish(logger)
		}
		return nil, e.failSpan(span, execErr)
	}

	e.recordExecution(version.Provider, OutcomeSuccess, elapsed)
	result := outcome.result
	usage := result.Usage
	if usage == nil {
		usage = &providers.Usage{}
	}
	if err := logger.LogResponse(execlog.Response{
		Input:            outcome.input,
		Output:           result,
		Result:           outcome.value,
		Model:            result.Model,
		DurationMS:       result.DurationMS,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		EstimatedCostUSD: e.dispatcher.EstimateCost(version.Provider, result.Model, result.Usage),
	}); err != nil {
		e.logger.Error("record execution response", "error", err, "log_id", logger.ID(), "trace_id", logger.TraceID())
	} else {
		e.scheduleFinish(logger)
	}
	span.SetAttributes(
		attribute.Int("promptops.prompt_tokens", usage.PromptTokens),
		attribute.Int("promptops.completion_tokens", usage.CompletionTokens),
	)

	return &Response{Response: outcome.value, LogID: logger.ID(), TraceID: logger.TraceID()}, nil
}

type runOutcome struct {
	input  *providers.Request
	result *providers.Result
	value  any
}

// run covers body parsing through result normalization. input is set as
// soon as the messages have been rendered.
func (e *Executor) run(ctx context.Context, version *prompt.Version, variables map[string]any) (runOutcome, *Error) {
	var outcome runOutcome

	body, err := prompt.ParseBody(version.Body)
	if err != nil {
		return outcome, newError(KindDataCorruption, MsgCorruptVersion, err)
	}
	if len(body.Messages) == 0 {
		return outcome, newError(KindInvalidState, MsgNoMessages, nil)
	}

	result, input, err := e.dispatcher.Execute(ctx, version.Provider, providers.ExecutionRequest{
		Model:          version.Model,
		Messages:       body.Messages,
		Variables:      variables,
		ResponseFormat: body.ResponseFormat,
		Settings:       body.ProviderSettings,
		ProxyMode:      body.ProxyMode,
	})
	outcome.input = input
	if err != nil {
		return outcome, newError(KindProviderFailure, err.Error(), err)
	}

	outcome.result = result
	outcome.value = normalizeResult(result.Content, body.ResponseFormat)
	return outcome, nil
}

// normalizeResult parses content as JSON only when structured output was
// requested. Content that does not parse is returned as the raw string.
func normalizeResult(content string, format prompt.ResponseFormat) any {
	if !format.Structured() {
		return content
	}
	if !json.Valid([]byte(content)) {
		return content
	}
	decoder := json.NewDecoder(strings.NewReader(content))
	decoder.UseNumber()
	var parsed any
	if err := decoder.Decode(&parsed); err != nil {
		return content
	}
	return parsed
}

func (e *Executor) checkLimits(ctx context.Context, tenantID string) error {
	if e.limiter == nil {
		return nil
	}
	decision, err := e.limiter.Check(ctx, tenantID)
	if err != nil {
		// Budgets are advisory when usage cannot be read.
		e.logger.Warn("tenant limit check failed", "tenant_id", tenantID, "error", err)
		return nil
	}
	if decision == nil {
		return nil
	}
	message := decision.Message
	if message == "" {
		message = MsgRateLimitFallback
	}
	return &Error{
		Kind:              KindRateLimited,
		Message:           message,
		RetryAfterSeconds: decision.RetryAfterSeconds,
		Err:               fmt.Errorf("tenant %s: %s", tenantID, decision.Code),
	}
}

func (e *Executor) scheduleFinish(logger *execlog.Logger) {
	logID := logger.ID()
	traceID := logger.TraceID()
	e.scheduler.Schedule("finish_execution_log", func(ctx context.Context) error {
		if err := logger.Finish(ctx); err != nil {
			return &FinishError{LogID: logID, TraceID: traceID, Err: err}
		}
		return nil
	})
}

func (e *Executor) recordExecution(provider, outcome string, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordExecution(provider, outcome, elapsed)
	}
}

func (e *Executor) failSpan(span oteltrace.Span, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Kind.String())
	span.SetAttributes(attribute.String("promptops.error_kind", err.Kind.String()))
	return err
}

// traceFromSpan adopts the trace id of a recording span so the execution log
// correlates with exported telemetry when no traceparent was sent.
func traceFromSpan(span oteltrace.Span) *traceparent.TraceContext {
	sc := span.SpanContext()
	if !sc.IsValid() {
		return nil
	}
	tc := traceparent.TraceContext{
		Version:      "00",
		TraceID:      sc.TraceID().String(),
		ParentSpanID: sc.SpanID().String(),
		Flags:        sc.TraceFlags().String(),
		Sampled:      sc.IsSampled(),
	}
	return &tc
}

// FinishError wraps a failed log finalization with the ids needed to find
// the execution again.
type FinishError struct {
	LogID   string
	TraceID string
	Err     error
}

func (e *FinishError) Error() string {
	return fmt.Sprintf("finish execution log %s: %v", e.LogID, e.Err)
}

func (e *FinishError) Unwrap() error {
	return e.Err
}

// FailureLogger returns a scheduler.FailureHandler that logs failed tasks
// with their write error class and counts finish failures on metrics.
func FailureLogger(logger *slog.Logger, metrics Metrics) scheduler.FailureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(failure scheduler.Failure) {
		errorClass := execlog.ClassifyWriteError(failure.Err)
		attrs := []any{
			"task", failure.Task,
			"inline", failure.Inline,
			"duration_ms", failure.Duration.Milliseconds(),
			"error_class", errorClass,
			"error", failure.Err,
		}
		var finishErr *FinishError
		if errors.As(failure.Err, &finishErr) {
			attrs = append(attrs, "log_id", finishErr.LogID, "trace_id", finishErr.TraceID)
			if metrics != nil {
				metrics.RecordFinishFailure(errorClass)
			}
		}
		logger.Error("scheduled task failed", attrs...)
	}
}
