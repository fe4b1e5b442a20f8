package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ongoingai/promptops/internal/execlog"
	"github.com/ongoingai/promptops/internal/prompt"
)

type projectsResponse struct {
	Items []prompt.Project `json:"items"`
}

type promptsResponse struct {
	Items []prompt.Prompt `json:"items"`
}

type versionsResponse struct {
	Items []prompt.Version `json:"items"`
}

type promptDetailResponse struct {
	prompt.Prompt
	ActiveVersion *int `json:"active_version"`
}

type promptStatsResponse struct {
	ProjectID int64                  `json:"project_id"`
	PromptID  int64                  `json:"prompt_id"`
	Summary   *execlog.UsageSummary  `json:"summary"`
	Versions  []execlog.VersionStats `json:"versions"`
}

type createEntityRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type publishVersionRequest struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Body     json.RawMessage `json:"body"`
	Activate bool            `json:"activate"`
}

type setActiveVersionRequest struct {
	Version int `json:"version"`
}

type setStatusRequest struct {
	Active *bool `json:"active"`
}

type projectPathRoute struct {
	Project prompt.EntityRef
	Prompts bool
	// Prompt is set for routes at or below /prompts/{prompt}.
	Prompt *prompt.EntityRef
	Action string
}

type ProjectRoutesOptions struct {
	Prompts   prompt.AdminStore
	Records   execlog.RecordStore
	Executor  Executor
	Providers []string
	Logger    *slog.Logger
}

// ProjectsHandler lists and creates projects of the caller's tenant.
func ProjectsHandler(store prompt.AdminStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "prompt store is not configured")
			return
		}
		tenantID, ok := scopedTenant(w, r)
		if !ok {
			return
		}

		if r.Method == http.MethodGet {
			projects, err := store.ListProjects(r.Context(), tenantID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list projects")
				return
			}
			writeJSON(w, http.StatusOK, projectsResponse{Items: projects})
			return
		}

		var request createEntityRequest
		if err := decodeRequiredBody(w, r, &request); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		project, err := store.CreateProject(r.Context(), tenantID, strings.TrimSpace(request.Slug), request.Name)
		if err != nil {
			writeStoreError(w, err, "project", "failed to create project")
			return
		}
		writeJSON(w, http.StatusCreated, project)
	})
}

// ProjectRoutesHandler serves everything below /api/projects/{project}:
// prompt management, execution and per-version stats.
func ProjectRoutesHandler(options ProjectRoutesOptions) http.Handler {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := parseProjectPathRoute(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		if route.Action == "execute" {
			if !requireMethod(w, r, http.MethodPost) {
				return
			}
			handleExecute(w, r, options.Executor, logger, route.Project, *route.Prompt)
			return
		}

		store := options.Prompts
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "prompt store is not configured")
			return
		}

		switch {
		case !route.Prompts:
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			handleGetProject(w, r, store, route)
		case route.Prompt == nil:
			if !requireMethod(w, r, http.MethodGet, http.MethodPost) {
				return
			}
			handlePromptCollection(w, r, store, route)
		case route.Action == "":
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			handleGetPrompt(w, r, store, route)
		case route.Action == "versions":
			if !requireMethod(w, r, http.MethodGet, http.MethodPost) {
				return
			}
			handleVersions(w, r, store, options.Providers, route)
		case route.Action == "active-version":
			if !requireMethod(w, r, http.MethodPut) {
				return
			}
			handleSetActiveVersion(w, r, store, route)
		case route.Action == "status":
			if !requireMethod(w, r, http.MethodPut) {
				return
			}
			handleSetStatus(w, r, store, route)
		case route.Action == "stats":
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			handlePromptStats(w, r, store, options.Records, route)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	})
}

func handleGetProject(w http.ResponseWriter, r *http.Request, store prompt.AdminStore, route projectPathRoute) {
	tenantID, ok := scopedTenant(w, r)
	if !ok {
		return
	}
	project, ok := loadProject(w, r, store, tenantID, route.Project)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func handlePromptCollection(w http.ResponseWriter, r *http.Request, store prompt.AdminStore, route projectPathRoute) {
	tenantID, ok := scopedTenant(w, r)
	if !ok {
		return
	}
	project, ok := loadProject(w, r, store, tenantID, route.Project)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		prompts, err := store.ListPrompts(r.Context(), tenantID, project.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list prompts")
			return
		}
		writeJSON(w, http.StatusOK, promptsResponse{Items: prompts})
		return
	}

	var request createEntityRequest
	if err := decodeRequiredBody(w, r, &request); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := store.CreatePrompt(r.Context(), tenantID, project.ID, strings.TrimSpace(request.Slug), request.Name)
	if err != nil {
		writeStoreError(w, err, "prompt", "failed to create prompt")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func handleGetPrompt(w http.ResponseWriter, r *http.Request, store prompt.AdminStore, route projectPathRoute) {
	tenantID, project, target, ok := loadPromptRoute(w, r, store, route)
	if !ok {
		return
	}
	response := promptDetailResponse{Prompt: *target}
	version, err := store.GetActiveVersion(r.Context(), tenantID, project.ID, target.ID)
	switch {
	case err == nil:
		response.ActiveVersion = &version.Version
	case errors.Is(err, prompt.ErrNotFound):
	default:
		writeError(w, http.StatusInternalServerError, "failed to read active version")
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func handleVersions(w http.ResponseWriter, r *http.Request, store prompt.AdminStore, providers []string, route projectPathRoute) {
	tenantID, project, target, ok := loadPromptRoute(w, r, store, route)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		versions, err := store.ListVersions(r.Context(), tenantID, project.ID, target.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list versions")
			return
		}
		writeJSON(w, http.StatusOK, versionsResponse{Items: versions})
		return
	}

	var request publishVersionRequest
	if err := decodeRequiredBody(w, r, &request); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider := strings.ToLower(strings.TrimSpace(request.Provider))
	if provider == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}
	if !providerAllowed(providers, provider) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown provider %q", provider))
		return
	}
	if strings.TrimSpace(request.Model) == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	version, err := store.PublishVersion(r.Context(), tenantID, project.ID, target.ID, prompt.PublishInput{
		Provider: provider,
		Model:    strings.TrimSpace(request.Model),
		Body:     request.Body,
		Activate: request.Activate,
	})
	if err != nil {
		writeStoreError(w, err, "prompt", "failed to publish version")
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func handleSetActiveVersion(w http.ResponseWriter, r *http.Request, store prompt.AdminStore, route projectPathRoute) {
	tenantID, project, target, ok := loadPromptRoute(w, r, store, route)
	if !ok {
		return
	}
	var request setActiveVersionRequest
	if err := decodeRequiredBody(w, r, &request); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if request.Version <= 0 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	if err := store.SetActiveVersion(r.Context(), tenantID, project.ID, target.ID, request.Version); err != nil {
		writeStoreError(w, err, "version", "failed to set active version")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"active_version": request.Version})
}

func handleSetStatus(w http.ResponseWriter, r *http.Request, store prompt.AdminStore, route projectPathRoute) {
	tenantID, project, target, ok := loadPromptRoute(w, r, store, route)
	if !ok {
		return
	}
	var request setStatusRequest
	if err := decodeRequiredBody(w, r, &request); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if request.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}
	if err := store.SetPromptActive(r.Context(), tenantID, project.ID, target.ID, *request.Active); err != nil {
		writeStoreError(w, err, "prompt", "failed to update prompt status")
		return
	}
	target.Active = *request.Active
	writeJSON(w, http.StatusOK, target)
}

func handlePromptStats(w http.ResponseWriter, r *http.Request, store prompt.AdminStore, records execlog.RecordStore, route projectPathRoute) {
	if records == nil {
		writeError(w, http.StatusServiceUnavailable, "log store is not configured")
		return
	}
	tenantID, project, target, ok := loadPromptRoute(w, r, store, route)
	if !ok {
		return
	}

	query := r.URL.Query()
	from, err := parseTimeQuery(query.Get("from"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid from: %v", err))
		return
	}
	to, err := parseTimeQuery(query.Get("to"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid to: %v", err))
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must be greater than or equal to from")
		return
	}

	filter := execlog.StatsFilter{
		TenantID:  tenantID,
		ProjectID: project.ID,
		PromptID:  target.ID,
		From:      from,
		To:        to,
	}
	versions, err := records.GetVersionStats(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read version stats")
		return
	}
	summary, err := records.GetUsageSummary(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read usage summary")
		return
	}
	if versions == nil {
		versions = []execlog.VersionStats{}
	}
	writeJSON(w, http.StatusOK, promptStatsResponse{
		ProjectID: project.ID,
		PromptID:  target.ID,
		Summary:   summary,
		Versions:  versions,
	})
}

func loadProject(w http.ResponseWriter, r *http.Request, store prompt.AdminStore, tenantID string, ref prompt.EntityRef) (*prompt.Project, bool) {
	project, err := store.GetProject(r.Context(), tenantID, ref)
	if err != nil {
		if errors.Is(err, prompt.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "failed to read project")
		return nil, false
	}
	return project, true
}

func loadPromptRoute(w http.ResponseWriter, r *http.Request, store prompt.AdminStore, route projectPathRoute) (string, *prompt.Project, *prompt.Prompt, bool) {
	tenantID, ok := scopedTenant(w, r)
	if !ok {
		return "", nil, nil, false
	}
	project, ok := loadProject(w, r, store, tenantID, route.Project)
	if !ok {
		return "", nil, nil, false
	}
	target, err := store.GetPrompt(r.Context(), tenantID, project.ID, *route.Prompt)
	if err != nil {
		if errors.Is(err, prompt.ErrNotFound) {
			writeError(w, http.StatusNotFound, "prompt not found")
			return "", nil, nil, false
		}
		writeError(w, http.StatusInternalServerError, "failed to read prompt")
		return "", nil, nil, false
	}
	return tenantID, project, target, true
}

// writeStoreError maps admin store errors. entity names the row a bare
// ErrNotFound refers to.
func writeStoreError(w http.ResponseWriter, err error, entity, fallback string) {
	switch {
	case errors.Is(err, prompt.ErrNotFound):
		writeError(w, http.StatusNotFound, entity+" not found")
	case errors.Is(err, prompt.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, prompt.ErrInvalidSlug), errors.Is(err, prompt.ErrInvalidBody):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func providerAllowed(providers []string, name string) bool {
	if len(providers) == 0 {
		return true
	}
	for _, candidate := range providers {
		if strings.EqualFold(candidate, name) {
			return true
		}
	}
	return false
}

// parseProjectPathRoute splits /api/projects/{project}[/prompts[/{prompt}[/{action}]]].
func parseProjectPathRoute(path string) (projectPathRoute, bool) {
	const prefix = "/api/projects/"
	if !strings.HasPrefix(path, prefix) {
		return projectPathRoute{}, false
	}
	suffix := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if suffix == "" {
		return projectPathRoute{}, false
	}
	parts := strings.Split(suffix, "/")
	if len(parts) > 4 {
		return projectPathRoute{}, false
	}

	projectRef, err := prompt.ParseRef(parts[0])
	if err != nil {
		return projectPathRoute{}, false
	}
	route := projectPathRoute{Project: projectRef}
	if len(parts) == 1 {
		return route, true
	}
	if parts[1] != "prompts" {
		return projectPathRoute{}, false
	}
	route.Prompts = true
	if len(parts) == 2 {
		return route, true
	}

	promptRef, err := prompt.ParseRef(parts[2])
	if err != nil {
		return projectPathRoute{}, false
	}
	route.Prompt = &promptRef
	if len(parts) == 4 {
		route.Action = strings.TrimSpace(parts[3])
		if route.Action == "" {
			return projectPathRoute{}, false
		}
	}
	return route, true
}
