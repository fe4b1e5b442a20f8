package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ongoingai/promptops/internal/executor"
	"github.com/ongoingai/promptops/internal/prompt"
	"github.com/ongoingai/promptops/internal/traceparent"
)

const (
	headerLogID   = "X-PromptOps-Log-Id"
	headerTraceID = "X-PromptOps-Trace-Id"

	maxRequestBodyBytes = 1 << 20
)

type executeRequest struct {
	Variables map[string]any `json:"variables"`
}

func handleExecute(w http.ResponseWriter, r *http.Request, exec Executor, logger *slog.Logger, projectRef, promptRef prompt.EntityRef) {
	if exec == nil {
		writeError(w, http.StatusServiceUnavailable, "executor is not configured")
		return
	}
	tenantID, ok := scopedTenant(w, r)
	if !ok {
		return
	}

	var body executeRequest
	if err := decodeOptionalBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := exec.Execute(r.Context(), executor.Request{
		TenantID:    tenantID,
		Project:     projectRef,
		Prompt:      promptRef,
		Variables:   body.Variables,
		TraceParent: r.Header.Get(traceparent.HeaderName),
	})
	if err != nil {
		status := executor.StatusCode(err)
		var execErr *executor.Error
		if errors.As(err, &execErr) && execErr.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(execErr.RetryAfterSeconds))
		}
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(r.Context(), "prompt execution failed",
				"error", err,
				"status", status,
				"project", projectRef.String(),
				"prompt", promptRef.String(),
			)
		}
		writeError(w, status, executor.PublicMessage(err))
		return
	}

	if response.LogID != "" {
		w.Header().Set(headerLogID, response.LogID)
	}
	if response.TraceID != "" {
		w.Header().Set(headerTraceID, response.TraceID)
	}
	writeJSON(w, http.StatusOK, response)
}

// decodeOptionalBody decodes a JSON object into dst. An empty body leaves
// dst untouched.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", maxRequestBodyBytes)
		}
		return errors.New("failed to read request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return decodeJSON(raw, dst)
}

// decodeRequiredBody is decodeOptionalBody for endpoints that need a body.
func decodeRequiredBody(w http.ResponseWriter, r *http.Request, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", maxRequestBodyBytes)
		}
		return errors.New("failed to read request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("request body is required")
	}
	return decodeJSON(raw, dst)
}

func decodeJSON(raw []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	if decoder.More() {
		return errors.New("invalid request body: multiple JSON values")
	}
	return nil
}
