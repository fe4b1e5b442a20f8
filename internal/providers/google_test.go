package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"golang.org/x/oauth2"
)

const geminiResponseBody = `{
	"candidates":[{"content":{"role":"model","parts":[
		{"text":"thinking about it","thought":true},
		{"text":"{\"city\":"},
		{"text":"\"Paris\"}"}
	]},"finishReason":"STOP"}],
	"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":5,"totalTokenCount":40,"thoughtsTokenCount":23,"cachedContentTokenCount":8},
	"modelVersion":"gemini-2.5-flash-001"
}`

func TestGoogleProviderExecute(t *testing.T) {
	t.Parallel()

	server, captured := newCapturingServer(t, http.StatusOK, geminiResponseBody)
	provider := NewGoogleProvider(GoogleConfig{APIKey: "g-key", Endpoint: Endpoint{BaseURL: server.URL}})

	result, err := provider.Execute(context.Background(), &Request{
		Model: "gemini-2.5-flash",
		Messages: []Message{
			{Role: "system", Content: "Answer with a city."},
			{Role: "user", Content: "Capital of France?"},
			{Role: "assistant", Content: "Let me check."},
			{Role: "user", Content: "Go on."},
		},
		ResponseFormat: ResponseFormat{Type: "json_schema", Schema: json.RawMessage(`{"type":"object"}`)},
		Settings:       json.RawMessage(`{"thinkingBudget":512,"includeThoughts":true,"cachedContent":"cachedContents/abc","temperature":0.1}`),
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.Content != `{"city":"Paris"}` {
		t.Fatalf("content=%q", result.Content)
	}
	if result.Model != "gemini-2.5-flash-001" {
		t.Fatalf("model=%q", result.Model)
	}
	if result.Usage.PromptTokens != 12 || result.Usage.CompletionTokens != 5 || result.Usage.TotalTokens != 40 {
		t.Fatalf("usage=%+v", result.Usage)
	}
	if result.Usage.Extra["thoughts_tokens"] != 23 || result.Usage.Extra["cached_tokens"] != 8 {
		t.Fatalf("usage extra=%v", result.Usage.Extra)
	}

	got := <-captured
	if got.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
		t.Fatalf("path=%q", got.Path)
	}
	if key := got.Header.Get("x-goog-api-key"); key != "g-key" {
		t.Fatalf("api key header=%q", key)
	}
	if got.Body["cachedContent"] != "cachedContents/abc" {
		t.Fatalf("cachedContent=%v", got.Body["cachedContent"])
	}
	contents, _ := got.Body["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("contents len=%d, want 3 (system moved out)", len(contents))
	}
	if second, _ := contents[1].(map[string]any); second["role"] != "model" {
		t.Fatalf("assistant role=%v, want model", second["role"])
	}
	if _, ok := got.Body["systemInstruction"].(map[string]any); !ok {
		t.Fatalf("systemInstruction missing: %v", got.Body)
	}
	config, _ := got.Body["generationConfig"].(map[string]any)
	if config["responseMimeType"] != "application/json" {
		t.Fatalf("responseMimeType=%v", config["responseMimeType"])
	}
	thinking, _ := config["thinkingConfig"].(map[string]any)
	if thinking["thinkingBudget"] != float64(512) || thinking["includeThoughts"] != true {
		t.Fatalf("thinkingConfig=%v", thinking)
	}
}

func TestGoogleProviderUsesTokenSourceWithoutAPIKey(t *testing.T) {
	t.Parallel()

	server, captured := newCapturingServer(t, http.StatusOK, geminiResponseBody)
	provider := NewGoogleProvider(GoogleConfig{
		Endpoint:    Endpoint{BaseURL: server.URL},
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.test"}),
	})

	if _, err := provider.Execute(context.Background(), &Request{Model: "gemini-2.0-flash", Messages: []Message{{Role: "user", Content: "hi"}}}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	got := <-captured
	if auth := got.Header.Get("Authorization"); auth != "Bearer ya29.test" {
		t.Fatalf("authorization=%q", auth)
	}
	if _, ok := got.Body["generationConfig"]; ok {
		t.Fatalf("generationConfig should be omitted without settings")
	}
}

func TestGoogleProviderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "vendor error body",
			status:     http.StatusBadRequest,
			body:       `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "API key not valid. Please pass a valid API key.",
		},
		{
			name:       "blocked prompt",
			status:     http.StatusOK,
			body:       `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			wantStatus: http.StatusOK,
			wantMsg:    "gemini blocked the prompt: SAFETY",
		},
		{
			name:       "opaque failure",
			status:     http.StatusServiceUnavailable,
			body:       ``,
			wantStatus: http.StatusServiceUnavailable,
			wantMsg:    "google returned 503 Service Unavailable",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, _ := newCapturingServer(t, tt.status, tt.body)
			provider := NewGoogleProvider(GoogleConfig{APIKey: "g-key", Endpoint: Endpoint{BaseURL: server.URL}})

			_, err := provider.Execute(context.Background(), &Request{Model: "gemini-2.5-pro", Messages: []Message{{Role: "user", Content: "hi"}}})
			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("error=%v, want ProviderError", err)
			}
			if providerErr.StatusCode != tt.wantStatus {
				t.Fatalf("status=%d, want %d", providerErr.StatusCode, tt.wantStatus)
			}
			if providerErr.Error() != tt.wantMsg {
				t.Fatalf("message=%q, want %q", providerErr.Error(), tt.wantMsg)
			}
		})
	}
}
