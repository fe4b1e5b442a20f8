package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTenantRequired  = errors.New("tenant is required")
	ErrProjectNotFound = errors.New("project not found")
	ErrPromptNotFound  = errors.New("prompt not found")
	ErrPromptInactive  = errors.New("prompt is not active")
	ErrNoActiveVersion = errors.New("no active version found for prompt")
)

// Resolver turns caller identifiers into canonical rows for one tenant and
// separates the distinct "not executable" outcomes.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) ResolveProject(ctx context.Context, tenantID string, ref EntityRef) (*Project, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantRequired
	}
	project, err := r.store.GetProject(ctx, tenantID, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	return project, nil
}

// ResolvePrompt returns the prompt even when it is inactive so callers can
// log which row was addressed; the error is ErrPromptInactive in that case.
func (r *Resolver) ResolvePrompt(ctx context.Context, tenantID string, projectID int64, ref EntityRef) (*Prompt, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantRequired
	}
	prompt, err := r.store.GetPrompt(ctx, tenantID, projectID, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPromptNotFound
		}
		return nil, fmt.Errorf("resolve prompt: %w", err)
	}
	if !prompt.Active {
		return prompt, ErrPromptInactive
	}
	return prompt, nil
}

func (r *Resolver) ResolveActiveVersion(ctx context.Context, tenantID string, projectID, promptID int64) (*Version, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantRequired
	}
	version, err := r.store.GetActiveVersion(ctx, tenantID, projectID, promptID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoActiveVersion
		}
		return nil, fmt.Errorf("resolve active version: %w", err)
	}
	return version, nil
}
