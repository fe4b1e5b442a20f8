package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ProviderError is returned for every failed dispatch. Message carries the
// vendor's own wording so callers can surface it unchanged.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed with status %d", e.Provider, e.StatusCode)
	}
	return e.Provider + " request failed"
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsProviderError wraps err unless it already is a ProviderError.
func AsProviderError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Provider == "" {
			providerErr.Provider = provider
		}
		return providerErr
	}
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}

func statusError(provider string, statusCode int, message string) *ProviderError {
	message = strings.TrimSpace(message)
	if message == "" {
		message = fmt.Sprintf("%s returned %d %s", provider, statusCode, http.StatusText(statusCode))
	}
	return &ProviderError{Provider: provider, StatusCode: statusCode, Message: message}
}
