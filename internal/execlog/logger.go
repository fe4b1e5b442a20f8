package execlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ongoingai/promptops/internal/traceparent"
)

type State int

const (
	StateUninitialized State = iota
	StateContextualized
	StateRecorded
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateContextualized:
		return "contextualized"
	case StateRecorded:
		return "recorded"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Context is the immutable identity of one execution. Trace is the accepted
// inbound traceparent, if any.
type Context struct {
	TenantID  string
	ProjectID int64
	PromptID  int64
	Version   int
	Provider  string
	Model     string
	Trace     *traceparent.TraceContext
	Variables map[string]any
}

// Response is a successful execution. Input is the rendered provider
// request, Output the raw provider answer, and Result the normalized value
// returned to the caller.
type Response struct {
	Input            any
	Output           any
	Result           any
	Model            string
	DurationMS       int64
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
}

// Failure is a failed execution. Input is set when rendering happened
// before the failure.
type Failure struct {
	Err        error
	Input      any
	Output     any
	DurationMS int64
}

// Logger accumulates one execution and writes it on Finish. A Logger is
// used for exactly one execution.
type Logger struct {
	records RecordStore
	blobs   BlobStore
	now     func() time.Time
	newID   func() string

	mu        sync.Mutex
	state     State
	record    Record
	artifacts map[string]any
}

func NewLogger(records RecordStore, blobs BlobStore) *Logger {
	return &Logger{
		records: records,
		blobs:   blobs,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (l *Logger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ID is the log record id, assigned by SetContext.
func (l *Logger) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record.ID
}

// TraceID is the correlation id of this execution, assigned by SetContext.
func (l *Logger) TraceID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record.TraceID
}

// SetContext captures identity and derives the trace id: the inbound trace
// id when one was accepted, otherwise a fresh one.
func (l *Logger) SetContext(c Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateUninitialized {
		return fmt.Errorf("%w: SetContext in state %s", ErrInvalidState, l.state)
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("%w: SetContext without tenant", ErrInvalidState)
	}

	traceID := ""
	if c.Trace != nil {
		traceID = strings.ToLower(c.Trace.TraceID)
	}
	if traceID == "" {
		traceID = traceparent.NewTraceID()
	}

	l.record = Record{
		ID:        l.newID(),
		TenantID:  c.TenantID,
		ProjectID: c.ProjectID,
		PromptID:  c.PromptID,
		Version:   c.Version,
		TraceID:   traceID,
		Provider:  c.Provider,
		Model:     c.Model,
		CreatedAt: l.now().UTC(),
	}
	variables := c.Variables
	if variables == nil {
		variables = map[string]any{}
	}
	l.artifacts = map[string]any{ArtifactVariables: variables}
	l.state = StateContextualized
	return nil
}

func (l *Logger) LogResponse(r Response) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateContextualized {
		return fmt.Errorf("%w: LogResponse in state %s", ErrInvalidState, l.state)
	}

	l.record.IsSuccess = true
	if r.Model != "" {
		l.record.Model = r.Model
	}
	l.record.DurationMS = r.DurationMS
	l.record.PromptTokens = r.PromptTokens
	l.record.CompletionTokens = r.CompletionTokens
	l.record.TotalTokens = r.TotalTokens
	if l.record.TotalTokens == 0 {
		l.record.TotalTokens = r.PromptTokens + r.CompletionTokens
	}
	l.record.EstimatedCostUSD = r.EstimatedCostUSD

	l.artifacts[ArtifactInput] = r.Input
	l.artifacts[ArtifactOutput] = r.Output
	l.artifacts[ArtifactResult] = r.Result
	l.artifacts[ArtifactResponse] = map[string]any{"response": r.Result}
	l.state = StateRecorded
	return nil
}

func (l *Logger) LogFailure(f Failure) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateContextualized {
		return fmt.Errorf("%w: LogFailure in state %s", ErrInvalidState, l.state)
	}

	message := "unknown error"
	if f.Err != nil {
		message = f.Err.Error()
	}
	l.record.IsSuccess = false
	l.record.ErrorMessage = message
	l.record.DurationMS = f.DurationMS

	l.artifacts[ArtifactInput] = f.Input
	l.artifacts[ArtifactOutput] = f.Output
	l.artifacts[ArtifactResult] = nil
	l.artifacts[ArtifactResponse] = map[string]any{"error": message}
	l.state = StateRecorded
	return nil
}

// Finish writes the five artifacts, then the row. The logger is finished
// even if a write fails; a second Finish is ErrInvalidState. A failed
// artifact write does not prevent the row write, so the execution stays
// visible.
func (l *Logger) Finish(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateRecorded {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: Finish in state %s", ErrInvalidState, state)
	}
	l.state = StateFinished
	record := l.record
	artifacts := l.artifacts
	l.mu.Unlock()

	var errs []error
	for _, name := range ArtifactNames {
		body, err := encodeArtifact(artifacts[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s artifact: %w", name, err))
			continue
		}
		if err := l.blobs.Put(ctx, ArtifactKey(record.TenantID, record.ID, name), body); err != nil {
			errs = append(errs, fmt.Errorf("write %s artifact: %w", name, err))
		}
	}
	if err := l.records.WriteRecord(ctx, &record); err != nil {
		errs = append(errs, fmt.Errorf("write log record: %w", err))
	}
	return errors.Join(errs...)
}

// encodeArtifact renders compact JSON without HTML escaping so stored
// prompts read back exactly as sent.
func encodeArtifact(value any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
