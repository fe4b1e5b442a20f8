package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ongoingai/promptops/internal/prompt"
	"github.com/ongoingai/promptops/internal/sqlstore"
)

const (
	testTraceID     = "4bf92f3577b34da6a3ce929d0e0e4736"
	testTraceparent = "00-" + testTraceID + "-00f067aa0ba902b7-01"
	testPromptBody  = `{"messages":[{"role":"system","content":"Be brief."},{"role":"user","content":"Summarize {{ topic }}"}],"responseFormat":{"type":"text"}}`
)

const fakeCompletion = `{
	"id":"chatcmpl-1",
	"object":"chat.completion",
	"model":"gpt-4o-mini-2024-07-18",
	"choices":[{"index":0,"message":{"role":"assistant","content":"Invoices are due monthly."},"finish_reason":"stop"}],
	"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}
}`

// newFakeOpenAI serves chat completions and counts calls.
func newFakeOpenAI(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected upstream path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fakeCompletion))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

// writeTestConfig points storage at a fresh sqlite file and openai at
// upstreamURL. Only openai is enabled.
func writeTestConfig(t *testing.T, port int, upstreamURL, schedulerMode string) (configPath, dbPath string) {
	t.Helper()

	dir := t.TempDir()
	dbPath = filepath.Join(dir, "promptops.db")
	configPath = filepath.Join(dir, "promptops.yaml")
	body := fmt.Sprintf(`server:
  host: 127.0.0.1
  port: %d
storage:
  driver: sqlite
  path: %q
providers:
  openai:
    enabled: true
    base_url: %q
    api_key_env: PROMPTOPS_TEST_OPENAI_KEY
  google:
    enabled: false
  anthropic:
    enabled: false
scheduler:
  mode: %s
auth:
  enabled: false
  tenant: default
`, port, dbPath, upstreamURL+"/v1", schedulerMode)
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath, dbPath
}

// seedPrompt publishes billing/summarize v1 for tenantID and closes the
// database again.
func seedPrompt(t *testing.T, dbPath, tenantID string) {
	t.Helper()

	db, err := sqlstore.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	store, err := prompt.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new prompt store: %v", err)
	}
	ctx := context.Background()
	project, err := store.CreateProject(ctx, tenantID, "billing", "Billing")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	created, err := store.CreatePrompt(ctx, tenantID, project.ID, "summarize", "")
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	if _, err := store.PublishVersion(ctx, tenantID, project.ID, created.ID, prompt.PublishInput{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Body:     json.RawMessage(testPromptBody),
		Activate: true,
	}); err != nil {
		t.Fatalf("publish version: %v", err)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen for free port: %v", err)
	}
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected listener addr type %T", listener.Addr())
	}
	return addr.Port
}

func waitForHTTPReady(t *testing.T, url string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for HTTP server at %s", url)
}
