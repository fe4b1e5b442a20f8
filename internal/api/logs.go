package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ongoingai/promptops/internal/execlog"
	"github.com/ongoingai/promptops/internal/sqlstore"
)

const maxLogPageSize = 200

type logDetailResponse struct {
	*execlog.Record
	Artifacts []logArtifactLink `json:"artifacts"`
}

type logArtifactLink struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type logPathRoute struct {
	ID       string
	Artifact string
}

// LogsHandler lists execution logs of the caller's tenant, newest first.
func LogsHandler(records execlog.RecordStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if records == nil {
			writeError(w, http.StatusServiceUnavailable, "log store is not configured")
			return
		}
		tenantID, ok := scopedTenant(w, r)
		if !ok {
			return
		}

		filter, err := parseLogFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.TenantID = tenantID

		page, err := records.QueryRecords(r.Context(), filter)
		if err != nil {
			if errors.Is(err, sqlstore.ErrInvalidCursor) {
				writeError(w, http.StatusBadRequest, "invalid cursor")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to query execution logs")
			return
		}
		if page.Items == nil {
			page.Items = []*execlog.Record{}
		}
		writeJSON(w, http.StatusOK, page)
	})
}

// LogDetailHandler serves /api/logs/{id} and /api/logs/{id}/artifacts/{name}.
func LogDetailHandler(records execlog.RecordStore, blobs execlog.BlobStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if records == nil || blobs == nil {
			writeError(w, http.StatusServiceUnavailable, "log store is not configured")
			return
		}
		route, ok := parseLogPathRoute(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		tenantID, ok := scopedTenant(w, r)
		if !ok {
			return
		}

		if route.Artifact != "" {
			serveArtifact(w, r, records, blobs, tenantID, route)
			return
		}

		record, err := records.GetRecord(r.Context(), tenantID, route.ID)
		if err != nil {
			if errors.Is(err, execlog.ErrNotFound) {
				writeError(w, http.StatusNotFound, "execution log not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to read execution log")
			return
		}

		links := make([]logArtifactLink, 0, len(execlog.ArtifactNames))
		for _, name := range execlog.ArtifactNames {
			links = append(links, logArtifactLink{
				Name: name,
				Path: "/api/logs/" + record.ID + "/artifacts/" + name,
			})
		}
		writeJSON(w, http.StatusOK, logDetailResponse{Record: record, Artifacts: links})
	})
}

func serveArtifact(w http.ResponseWriter, r *http.Request, records execlog.RecordStore, blobs execlog.BlobStore, tenantID string, route logPathRoute) {
	body, err := execlog.GetArtifact(r.Context(), records, blobs, tenantID, route.ID, route.Artifact)
	if err != nil {
		switch {
		case errors.Is(err, execlog.ErrUnknownArtifact):
			writeError(w, http.StatusNotFound, "unknown artifact")
		case errors.Is(err, execlog.ErrNotFound):
			writeError(w, http.StatusNotFound, "artifact not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to read artifact")
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func parseLogPathRoute(path string) (logPathRoute, bool) {
	const prefix = "/api/logs/"
	if !strings.HasPrefix(path, prefix) {
		return logPathRoute{}, false
	}
	suffix := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if suffix == "" {
		return logPathRoute{}, false
	}
	parts := strings.Split(suffix, "/")
	switch {
	case len(parts) == 1 && strings.TrimSpace(parts[0]) != "":
		return logPathRoute{ID: parts[0]}, true
	case len(parts) == 3 && parts[1] == "artifacts" && strings.TrimSpace(parts[0]) != "" && parts[2] != "":
		return logPathRoute{ID: parts[0], Artifact: strings.TrimSuffix(parts[2], ".json")}, true
	default:
		return logPathRoute{}, false
	}
}

func parseLogFilter(r *http.Request) (execlog.Filter, error) {
	query := r.URL.Query()

	projectID, err := parseIDQuery(query.Get("project_id"), "project_id")
	if err != nil {
		return execlog.Filter{}, err
	}
	promptID, err := parseIDQuery(query.Get("prompt_id"), "prompt_id")
	if err != nil {
		return execlog.Filter{}, err
	}
	version, err := parseIntQuery(query.Get("version"), "version", 0, 0)
	if err != nil {
		return execlog.Filter{}, err
	}
	limit, err := parseIntQuery(query.Get("limit"), "limit", 0, maxLogPageSize)
	if err != nil {
		return execlog.Filter{}, err
	}

	traceID := strings.ToLower(strings.TrimSpace(query.Get("trace_id")))
	if traceID != "" && !isHex(traceID, 32) {
		return execlog.Filter{}, errors.New("trace_id must be 32 hex characters")
	}

	var success *bool
	if raw := strings.TrimSpace(query.Get("success")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return execlog.Filter{}, errors.New("success must be true or false")
		}
		success = &parsed
	}

	from, err := parseTimeQuery(query.Get("from"), false)
	if err != nil {
		return execlog.Filter{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseTimeQuery(query.Get("to"), true)
	if err != nil {
		return execlog.Filter{}, fmt.Errorf("invalid to: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return execlog.Filter{}, errors.New("to must be greater than or equal to from")
	}

	return execlog.Filter{
		ProjectID: projectID,
		PromptID:  promptID,
		Version:   version,
		TraceID:   traceID,
		Provider:  strings.TrimSpace(query.Get("provider")),
		Success:   success,
		From:      from,
		To:        to,
		Limit:     limit,
		Cursor:    strings.TrimSpace(query.Get("cursor")),
	}, nil
}

func parseIDQuery(raw, name string) (int64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return parsed, nil
}

func parseIntQuery(raw, name string, min, max int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if parsed < min {
		return 0, fmt.Errorf("%s must be >= %d", name, min)
	}
	if max != 0 && parsed > max {
		return 0, fmt.Errorf("%s must be <= %d", name, max)
	}
	return parsed, nil
}

func parseTimeQuery(raw string, endOfDay bool) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.ParseInLocation("2006-01-02", value, time.UTC); err == nil {
		if endOfDay {
			return parsed.Add(24*time.Hour - time.Nanosecond), nil
		}
		return parsed, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, errors.New("expected RFC3339 or YYYY-MM-DD")
}

func isHex(value string, n int) bool {
	if len(value) != n {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
