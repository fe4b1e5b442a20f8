package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultProviderTimeout = 120 * time.Second
	maxResponseBodyBytes   = 16 << 20
)

// NewHTTPClient returns a client whose transport propagates the active trace
// to the vendor and records a client span per call.
func NewHTTPClient(timeout time.Duration, base http.RoundTripper) *http.Client {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(base),
	}
}

// Endpoint holds the vendor base URL and the optional gateway used when a
// prompt version enables proxy mode.
type Endpoint struct {
	BaseURL      string
	ProxyBaseURL string
}

func (e Endpoint) resolve(proxyMode bool) string {
	if proxyMode && strings.TrimSpace(e.ProxyBaseURL) != "" {
		return strings.TrimRight(strings.TrimSpace(e.ProxyBaseURL), "/")
	}
	return strings.TrimRight(strings.TrimSpace(e.BaseURL), "/")
}

// errorMessageFunc extracts the vendor's error text from a non-2xx body.
type errorMessageFunc func(body []byte) string

func postJSON(
	ctx context.Context,
	client *http.Client,
	provider string,
	url string,
	headers http.Header,
	payload any,
	out any,
	errorMessage errorMessageFunc,
) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Message: fmt.Sprintf("encode %s request: %v", provider, err), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, &ProviderError{Provider: provider, Message: fmt.Sprintf("build %s request: %v", provider, err), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Message: transportMessage(provider, err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, &ProviderError{Provider: provider, StatusCode: resp.StatusCode, Message: fmt.Sprintf("read %s response: %v", provider, err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := ""
		if errorMessage != nil {
			message = errorMessage(body)
		}
		if message == "" {
			message = snippet(body)
		}
		return body, statusError(provider, resp.StatusCode, message)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return body, &ProviderError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("decode %s response: %v", provider, err),
			Err:        err,
		}
	}
	return body, nil
}

func transportMessage(provider string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return provider + " request timed out"
	case errors.Is(err, context.Canceled):
		return provider + " request canceled"
	default:
		return fmt.Sprintf("%s request failed: %v", provider, err)
	}
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
