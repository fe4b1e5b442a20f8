package execlog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ongoingai/promptops/internal/traceparent"
)

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{objects: make(map[string][]byte)}
}

func (m *memoryBlobs) Put(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return errors.New("bucket unavailable")
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memoryBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return body, nil
}

type memoryRecords struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (m *memoryRecords) WriteRecord(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	copied := *record
	m.records = append(m.records, &copied)
	return nil
}

func (m *memoryRecords) GetRecord(_ context.Context, tenantID, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.TenantID == tenantID && record.ID == id {
			return record, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRecords) QueryRecords(context.Context, Filter) (*RecordPage, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryRecords) GetVersionStats(context.Context, StatsFilter) ([]VersionStats, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryRecords) GetUsageSummary(context.Context, StatsFilter) (*UsageSummary, error) {
	return nil, errors.New("not implemented")
}

func newTestLogger(records RecordStore, blobs BlobStore) *Logger {
	logger := NewLogger(records, blobs)
	logger.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }
	logger.newID = func() string { return "log-1" }
	return logger
}

func testContext() Context {
	return Context{
		TenantID:  "tenant-a",
		ProjectID: 1,
		PromptID:  2,
		Version:   3,
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Variables: map[string]any{"name": "<Ada>"},
	}
}

func TestLoggerSuccessWritesArtifactsAndRecord(t *testing.T) {
	t.Parallel()

	records := &memoryRecords{}
	blobs := newMemoryBlobs()
	logger := newTestLogger(records, blobs)

	if err := logger.SetContext(testContext()); err != nil {
		t.Fatalf("SetContext() error: %v", err)
	}
	if err := logger.LogResponse(Response{
		Input:            map[string]any{"messages": []any{map[string]any{"role": "user", "content": "Hi <Ada>"}}},
		Output:           map[string]any{"content": `{"ok":true}`},
		Result:           map[string]any{"ok": true},
		Model:            "gpt-4o-mini-2024-07-18",
		DurationMS:       420,
		PromptTokens:     10,
		CompletionTokens: 5,
		EstimatedCostUSD: 0.001,
	}); err != nil {
		t.Fatalf("LogResponse() error: %v", err)
	}
	if err := logger.Finish(context.Background()); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}

	if len(records.records) != 1 {
		t.Fatalf("records=%d, want 1", len(records.records))
	}
	record := records.records[0]
	if !record.IsSuccess || record.Model != "gpt-4o-mini-2024-07-18" || record.TotalTokens != 15 || record.DurationMS != 420 {
		t.Fatalf("record=%+v", record)
	}
	if len(record.TraceID) != 32 {
		t.Fatalf("trace id=%q, want synthesized 32 hex chars", record.TraceID)
	}

	want := map[string]string{
		ArtifactVariables: `{"name":"<Ada>"}`,
		ArtifactResult:    `{"ok":true}`,
		ArtifactResponse:  `{"response":{"ok":true}}`,
	}
	for name, body := range want {
		got, err := blobs.Get(context.Background(), ArtifactKey("tenant-a", "log-1", name))
		if err != nil {
			t.Fatalf("artifact %s: %v", name, err)
		}
		if string(got) != body {
			t.Fatalf("artifact %s=%s, want %s", name, got, body)
		}
	}
	if len(blobs.objects) != len(ArtifactNames) {
		t.Fatalf("artifacts=%d, want %d", len(blobs.objects), len(ArtifactNames))
	}
}

func TestLoggerReusesInboundTraceID(t *testing.T) {
	t.Parallel()

	tc, ok := traceparent.Parse("00-4BF92F3577B34DA6A3CE929D0E0E4736-00f067aa0ba902b7-01")
	if !ok {
		t.Fatal("fixture traceparent rejected")
	}
	logger := newTestLogger(&memoryRecords{}, newMemoryBlobs())
	c := testContext()
	c.Trace = &tc
	if err := logger.SetContext(c); err != nil {
		t.Fatalf("SetContext() error: %v", err)
	}
	if got := logger.TraceID(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace id=%q", got)
	}
}

func TestLoggerFailureRecord(t *testing.T) {
	t.Parallel()

	records := &memoryRecords{}
	blobs := newMemoryBlobs()
	logger := newTestLogger(records, blobs)
	if err := logger.SetContext(testContext()); err != nil {
		t.Fatalf("SetContext() error: %v", err)
	}
	if err := logger.LogFailure(Failure{Err: errors.New("Incorrect API key provided"), DurationMS: 12}); err != nil {
		t.Fatalf("LogFailure() error: %v", err)
	}
	if err := logger.Finish(context.Background()); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}

	record := records.records[0]
	if record.IsSuccess || record.ErrorMessage != "Incorrect API key provided" {
		t.Fatalf("record=%+v", record)
	}
	response, _ := blobs.Get(context.Background(), ArtifactKey("tenant-a", "log-1", ArtifactResponse))
	var payload map[string]string
	if err := json.Unmarshal(response, &payload); err != nil {
		t.Fatalf("decode response artifact: %v", err)
	}
	if payload["error"] != "Incorrect API key provided" {
		t.Fatalf("response artifact=%s", response)
	}
	result, _ := blobs.Get(context.Background(), ArtifactKey("tenant-a", "log-1", ArtifactResult))
	if string(result) != "null" {
		t.Fatalf("result artifact=%s, want null", result)
	}
}

func TestLoggerStateMachine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  func(l *Logger) error
	}{
		{
			name: "response before context",
			run: func(l *Logger) error {
				return l.LogResponse(Response{})
			},
		},
		{
			name: "failure before context",
			run: func(l *Logger) error {
				return l.LogFailure(Failure{Err: errors.New("x")})
			},
		},
		{
			name: "finish before record",
			run: func(l *Logger) error {
				if err := l.SetContext(testContext()); err != nil {
					return err
				}
				return l.Finish(context.Background())
			},
		},
		{
			name: "context twice",
			run: func(l *Logger) error {
				if err := l.SetContext(testContext()); err != nil {
					return err
				}
				return l.SetContext(testContext())
			},
		},
		{
			name: "record twice",
			run: func(l *Logger) error {
				if err := l.SetContext(testContext()); err != nil {
					return err
				}
				if err := l.LogResponse(Response{}); err != nil {
					return err
				}
				return l.LogFailure(Failure{Err: errors.New("late")})
			},
		},
		{
			name: "finish twice",
			run: func(l *Logger) error {
				if err := l.SetContext(testContext()); err != nil {
					return err
				}
				if err := l.LogResponse(Response{}); err != nil {
					return err
				}
				if err := l.Finish(context.Background()); err != nil {
					return err
				}
				return l.Finish(context.Background())
			},
		},
		{
			name: "missing tenant",
			run: func(l *Logger) error {
				return l.SetContext(Context{ProjectID: 1})
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.run(newTestLogger(&memoryRecords{}, newMemoryBlobs()))
			if !errors.Is(err, ErrInvalidState) {
				t.Fatalf("error=%v, want ErrInvalidState", err)
			}
		})
	}
}

func TestLoggerFinishKeepsWritingAfterArtifactFailure(t *testing.T) {
	t.Parallel()

	records := &memoryRecords{}
	blobs := newMemoryBlobs()
	blobs.failOn = "/output.json"
	logger := newTestLogger(records, blobs)
	_ = logger.SetContext(testContext())
	_ = logger.LogResponse(Response{Result: "hi"})

	err := logger.Finish(context.Background())
	if err == nil || !strings.Contains(err.Error(), "write output artifact") {
		t.Fatalf("error=%v, want output artifact failure", err)
	}
	if len(records.records) != 1 {
		t.Fatalf("record should still be written, got %d", len(records.records))
	}
	if len(blobs.objects) != len(ArtifactNames)-1 {
		t.Fatalf("artifacts=%d, want %d", len(blobs.objects), len(ArtifactNames)-1)
	}
	if logger.State() != StateFinished {
		t.Fatalf("state=%s, want finished", logger.State())
	}
}

func TestGetArtifactChecksTenantAndName(t *testing.T) {
	t.Parallel()

	records := &memoryRecords{}
	blobs := newMemoryBlobs()
	logger := newTestLogger(records, blobs)
	_ = logger.SetContext(testContext())
	_ = logger.LogResponse(Response{Result: "hello"})
	if err := logger.Finish(context.Background()); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}

	body, err := GetArtifact(context.Background(), records, blobs, "tenant-a", "log-1", ArtifactResult)
	if err != nil {
		t.Fatalf("GetArtifact() error: %v", err)
	}
	if string(body) != `"hello"` {
		t.Fatalf("body=%s", body)
	}
	if _, err := GetArtifact(context.Background(), records, blobs, "tenant-b", "log-1", ArtifactResult); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross tenant error=%v, want ErrNotFound", err)
	}
	if _, err := GetArtifact(context.Background(), records, blobs, "tenant-a", "log-1", "secrets"); !errors.Is(err, ErrUnknownArtifact) {
		t.Fatalf("unknown artifact error=%v, want ErrUnknownArtifact", err)
	}
}

func TestArtifactKeyEscapesSegments(t *testing.T) {
	t.Parallel()

	if got := ArtifactKey("acme/eu", "abc", ArtifactInput); got != "logs/acme%2Feu/abc/input.json" {
		t.Fatalf("key=%q", got)
	}
}
