package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ongoingai/promptops/internal/execlog"
	"github.com/ongoingai/promptops/internal/executor"
	"github.com/ongoingai/promptops/internal/prompt"
	"github.com/ongoingai/promptops/internal/scheduler"
	"github.com/ongoingai/promptops/internal/traceparent"
)

// Executor runs one prompt execution. *executor.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Response, error)
}

// SchedulerDiagnosticsReader is implemented by *scheduler.Background.
type SchedulerDiagnosticsReader interface {
	Diagnostics() scheduler.Diagnostics
}

type RouterOptions struct {
	AppVersion    string
	Executor      Executor
	Prompts       prompt.AdminStore
	Records       execlog.RecordStore
	Blobs         execlog.BlobStore
	Scheduler     SchedulerDiagnosticsReader
	SchedulerMode string
	// Providers lists the provider names a version may be published for.
	// Empty disables the check.
	Providers     []string
	StorageDriver string
	Ping          func(context.Context) error
	AuthHeader    string
	Logger        *slog.Logger
}

func NewRouter(options RouterOptions) http.Handler {
	startedAt := time.Now().UTC()
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("/api/health", HealthHandler(HealthOptions{
		Version:       options.AppVersion,
		StartedAt:     startedAt,
		StorageDriver: options.StorageDriver,
		SchedulerMode: options.SchedulerMode,
		Providers:     options.Providers,
		Ping:          options.Ping,
	}))
	mux.Handle("/api/diagnostics/scheduler", SchedulerDiagnosticsHandler(SchedulerDiagnosticsOptions{
		Reader: options.Scheduler,
		Mode:   options.SchedulerMode,
	}))
	mux.Handle("/api/logs", LogsHandler(options.Records))
	mux.Handle("/api/logs/", LogDetailHandler(options.Records, options.Blobs))
	mux.Handle("/api/projects", ProjectsHandler(options.Prompts))
	mux.Handle("/api/projects/", ProjectRoutesHandler(ProjectRoutesOptions{
		Prompts:   options.Prompts,
		Records:   options.Records,
		Executor:  options.Executor,
		Providers: options.Providers,
		Logger:    logger,
	}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "promptops",
			"version": options.AppVersion,
			"status":  "ok",
		})
	})

	return withCORS(withTraceContext(mux), options.AuthHeader)
}

// withTraceContext stores a well-formed inbound traceparent on the request
// context so log lines written while serving it carry the caller's trace id.
func withTraceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tc, ok := traceparent.FromHeaders(r.Header); ok {
			r = r.WithContext(traceparent.WithContext(r.Context(), tc))
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", ")+", OPTIONS")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func withCORS(next http.Handler, authHeader string) http.Handler {
	allowedHeaders := []string{"Content-Type", "Traceparent", "X-PromptOps-Key"}
	customHeader := strings.TrimSpace(authHeader)
	if customHeader != "" {
		alreadyAllowed := false
		for _, header := range allowedHeaders {
			if strings.EqualFold(header, customHeader) {
				alreadyAllowed = true
				break
			}
		}
		if !alreadyAllowed {
			allowedHeaders = append(allowedHeaders, customHeader)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))
		w.Header().Set("Access-Control-Expose-Headers", headerLogID+", "+headerTraceID+", Retry-After")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
