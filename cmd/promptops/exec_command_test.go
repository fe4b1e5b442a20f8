package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ongoingai/promptops/internal/execlog"
	"github.com/ongoingai/promptops/internal/sqlstore"
)

func TestRunExecWritesResponseAndExecutionLog(t *testing.T) {
	t.Parallel()

	upstream, calls := newFakeOpenAI(t)
	configPath, dbPath := writeTestConfig(t, 8080, upstream.URL, "background")
	seedPrompt(t, dbPath, "default")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runExec([]string{
		"--config", configPath,
		"--project", "billing",
		"--prompt", "summarize",
		"--vars", `{"topic":"invoices","count":3}`,
		"--traceparent", testTraceparent,
		"--format", "json",
	}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("runExec() code=%d, want 0 (stderr=%q)", code, stderr.String())
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls=%d, want 1", got)
	}

	var output execOutput
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if output.Response != "Invoices are due monthly." {
		t.Fatalf("response=%v, want completion content", output.Response)
	}
	if output.TraceID != testTraceID {
		t.Fatalf("trace_id=%q, want %q", output.TraceID, testTraceID)
	}
	if output.LogID == "" {
		t.Fatal("expected log_id in output")
	}

	// exec always schedules inline, so the log is complete on return.
	db, err := sqlstore.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer db.Close()
	records, err := execlog.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new record store: %v", err)
	}
	blobs, err := execlog.NewDBBlobStore(db, "sqlite")
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}

	ctx := context.Background()
	record, err := records.GetRecord(ctx, "default", output.LogID)
	if err != nil {
		t.Fatalf("GetRecord() error: %v", err)
	}
	if !record.IsSuccess {
		t.Fatalf("record is_success=false (error=%q)", record.ErrorMessage)
	}
	if record.TraceID != testTraceID {
		t.Fatalf("record trace_id=%q, want %q", record.TraceID, testTraceID)
	}
	if record.Provider != "openai" || record.Version != 1 {
		t.Fatalf("record provider=%q version=%d, want openai v1", record.Provider, record.Version)
	}
	if record.TotalTokens != 17 {
		t.Fatalf("record total_tokens=%d, want 17", record.TotalTokens)
	}

	raw, err := execlog.GetArtifact(ctx, records, blobs, "default", output.LogID, execlog.ArtifactVariables)
	if err != nil {
		t.Fatalf("GetArtifact(variables) error: %v", err)
	}
	var variables map[string]any
	if err := json.Unmarshal(raw, &variables); err != nil {
		t.Fatalf("decode variables artifact %q: %v", raw, err)
	}
	if variables["topic"] != "invoices" || variables["count"] != float64(3) {
		t.Fatalf("variables artifact=%v", variables)
	}
	for _, name := range execlog.ArtifactNames {
		if _, err := execlog.GetArtifact(ctx, records, blobs, "default", output.LogID, name); err != nil {
			t.Fatalf("GetArtifact(%s) error: %v", name, err)
		}
	}
}

func TestRunExecTextOutput(t *testing.T) {
	t.Parallel()

	upstream, _ := newFakeOpenAI(t)
	configPath, dbPath := writeTestConfig(t, 8080, upstream.URL, "inline")
	seedPrompt(t, dbPath, "default")

	varsPath := filepath.Join(t.TempDir(), "vars.json")
	if err := os.WriteFile(varsPath, []byte(`{"topic":"refunds"}`), 0o644); err != nil {
		t.Fatalf("write vars: %v", err)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runExec([]string{
		"--config", configPath,
		"--project", "billing",
		"--prompt", "summarize",
		"--vars-file", varsPath,
		"--traceparent", testTraceparent,
	}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("runExec() code=%d, want 0 (stderr=%q)", code, stderr.String())
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("stdout=%q, want response plus log_id and trace_id lines", stdout.String())
	}
	if lines[0] != "Invoices are due monthly." {
		t.Fatalf("response line=%q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "log_id: ") || strings.TrimPrefix(lines[1], "log_id: ") == "" {
		t.Fatalf("log_id line=%q", lines[1])
	}
	if lines[2] != "trace_id: "+testTraceID {
		t.Fatalf("trace_id line=%q, want %q", lines[2], "trace_id: "+testTraceID)
	}
}

func TestRunExecReportsUnknownProject(t *testing.T) {
	t.Parallel()

	upstream, calls := newFakeOpenAI(t)
	configPath, dbPath := writeTestConfig(t, 8080, upstream.URL, "inline")
	seedPrompt(t, dbPath, "default")

	tests := []struct {
		name       string
		format     string
		wantStdout string
		wantStderr string
	}{
		{name: "json", format: "json", wantStdout: `"error": "Project not found"`},
		{name: "text", format: "text", wantStderr: "execution failed (404): Project not found"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			var stderr bytes.Buffer
			code := runExec([]string{
				"--config", configPath,
				"--project", "shipping",
				"--prompt", "summarize",
				"--format", tt.format,
			}, strings.NewReader(""), &stdout, &stderr)
			if code != 1 {
				t.Fatalf("runExec() code=%d, want 1", code)
			}
			if tt.wantStdout != "" && !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Fatalf("stdout=%q, want %q", stdout.String(), tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Fatalf("stderr=%q, want %q", stderr.String(), tt.wantStderr)
			}
		})
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("upstream calls=%d, want 0", got)
	}
}

func TestRunExecRejectsOtherTenantsPrompt(t *testing.T) {
	t.Parallel()

	upstream, _ := newFakeOpenAI(t)
	configPath, dbPath := writeTestConfig(t, 8080, upstream.URL, "inline")
	seedPrompt(t, dbPath, "tenant-b")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runExec([]string{
		"--config", configPath,
		"--tenant", "tenant-a",
		"--project", "billing",
		"--prompt", "summarize",
	}, strings.NewReader(""), &stdout, &stderr)
	if code != 1 {
		t.Fatalf("runExec() code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Project not found") {
		t.Fatalf("stderr=%q, want not found", stderr.String())
	}
}

func TestRunExecUsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       []string
		wantStderr string
	}{
		{
			name:       "missing project",
			args:       []string{"--prompt", "summarize"},
			wantStderr: "exec requires --project",
		},
		{
			name:       "missing prompt",
			args:       []string{"--project", "billing"},
			wantStderr: "exec requires --prompt",
		},
		{
			name:       "positional",
			args:       []string{"--project", "billing", "--prompt", "summarize", "extra"},
			wantStderr: "does not accept positional arguments",
		},
		{
			name:       "bad format",
			args:       []string{"--project", "billing", "--prompt", "summarize", "--format", "yaml"},
			wantStderr: "invalid exec format",
		},
		{
			name:       "both vars sources",
			args:       []string{"--project", "billing", "--prompt", "summarize", "--vars", "{}", "--vars-file", "-"},
			wantStderr: "only one of --vars and --vars-file",
		},
		{
			name:       "vars not an object",
			args:       []string{"--project", "billing", "--prompt", "summarize", "--vars", `["a"]`},
			wantStderr: "invalid variables",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stdout bytes.Buffer
			var stderr bytes.Buffer
			code := runExec(tt.args, strings.NewReader(""), &stdout, &stderr)
			if code != 2 {
				t.Fatalf("runExec() code=%d, want 2 (stderr=%q)", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Fatalf("stderr=%q, want %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestReadExecVariables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		inline  string
		path    string
		stdin   string
		want    map[string]any
		wantErr bool
	}{
		{name: "none", want: nil},
		{name: "inline", inline: `{"topic":"tax"}`, want: map[string]any{"topic": "tax"}},
		{name: "stdin", path: "-", stdin: `{"n":2}`, want: map[string]any{"n": json.Number("2")}},
		{name: "blank stdin", path: "-", stdin: "  \n", want: nil},
		{name: "multiple values", inline: `{"a":1} {"b":2}`, wantErr: true},
		{name: "malformed", inline: `{"a":`, wantErr: true},
		{name: "missing file", path: filepath.Join(t.TempDir(), "absent.json"), wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := readExecVariables(tt.inline, tt.path, strings.NewReader(tt.stdin))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("readExecVariables() error=nil, want error (got %v)", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("readExecVariables() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("variables=%v, want %v", got, tt.want)
			}
			for key, want := range tt.want {
				if got[key] != want {
					t.Fatalf("variables[%q]=%#v, want %#v", key, got[key], want)
				}
			}
		})
	}
}
