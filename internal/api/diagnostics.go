package api

import (
	"net/http"
	"time"

	"github.com/ongoingai/promptops/internal/scheduler"
)

const schedulerDiagnosticsSchemaVersion = "scheduler-diagnostics.v1"

type SchedulerDiagnosticsOptions struct {
	Reader SchedulerDiagnosticsReader
	Mode   string
}

type schedulerDiagnosticsResponse struct {
	SchemaVersion string                 `json:"schema_version"`
	GeneratedAt   time.Time              `json:"generated_at"`
	Mode          string                 `json:"mode"`
	Diagnostics   *scheduler.Diagnostics `json:"diagnostics,omitempty"`
}

// SchedulerDiagnosticsHandler reports the log finalization queue. The inline
// scheduler has no queue, so only the mode is returned for it.
func SchedulerDiagnosticsHandler(options SchedulerDiagnosticsOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		response := schedulerDiagnosticsResponse{
			SchemaVersion: schedulerDiagnosticsSchemaVersion,
			GeneratedAt:   time.Now().UTC(),
			Mode:          options.Mode,
		}
		if options.Reader != nil {
			diagnostics := options.Reader.Diagnostics()
			response.Diagnostics = &diagnostics
		}
		writeJSON(w, http.StatusOK, response)
	})
}
