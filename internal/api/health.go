package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

type HealthOptions struct {
	Version       string
	StartedAt     time.Time
	StorageDriver string
	SchedulerMode string
	Providers     []string
	Ping          func(context.Context) error
}

type healthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	UptimeSec     int64    `json:"uptime_sec"`
	StorageDriver string   `json:"storage_driver"`
	SchedulerMode string   `json:"scheduler_mode,omitempty"`
	Providers     []string `json:"providers"`
	Error         string   `json:"error,omitempty"`
}

func HealthHandler(options HealthOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet, http.MethodHead) {
			return
		}

		providers := options.Providers
		if providers == nil {
			providers = []string{}
		}
		response := healthResponse{
			Status:        "ok",
			Version:       options.Version,
			UptimeSec:     int64(time.Since(options.StartedAt).Seconds()),
			StorageDriver: options.StorageDriver,
			SchedulerMode: options.SchedulerMode,
			Providers:     providers,
		}

		status := http.StatusOK
		if options.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
			err := options.Ping(ctx)
			cancel()
			if err != nil {
				status = http.StatusServiceUnavailable
				response.Status = "degraded"
				response.Error = "storage unavailable"
			}
		}
		writeJSON(w, status, response)
	})
}
