package prompt

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by stores for absent rows. Rows owned by a
	// different tenant are reported the same way.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a slug is already taken in its scope.
	ErrConflict = errors.New("already exists")
)

// Store is the read side needed to execute a prompt. Every method is
// scoped to tenantID.
type Store interface {
	GetProject(ctx context.Context, tenantID string, ref EntityRef) (*Project, error)
	GetPrompt(ctx context.Context, tenantID string, projectID int64, ref EntityRef) (*Prompt, error)
	GetActiveVersion(ctx context.Context, tenantID string, projectID, promptID int64) (*Version, error)
}

// VersionSource splits active version lookup into the mutable router
// pointer and the immutable version row so the row can be cached.
type VersionSource interface {
	Store
	ActiveVersionID(ctx context.Context, tenantID string, projectID, promptID int64) (int64, error)
	GetVersion(ctx context.Context, tenantID string, projectID, promptID, versionID int64) (*Version, error)
}

// AdminStore adds the publishing operations used by the management API.
type AdminStore interface {
	VersionSource
	CreateProject(ctx context.Context, tenantID, slug, name string) (*Project, error)
	ListProjects(ctx context.Context, tenantID string) ([]Project, error)
	CreatePrompt(ctx context.Context, tenantID string, projectID int64, slug, name string) (*Prompt, error)
	ListPrompts(ctx context.Context, tenantID string, projectID int64) ([]Prompt, error)
	SetPromptActive(ctx context.Context, tenantID string, projectID, promptID int64, active bool) error
	PublishVersion(ctx context.Context, tenantID string, projectID, promptID int64, input PublishInput) (*Version, error)
	SetActiveVersion(ctx context.Context, tenantID string, projectID, promptID int64, version int) error
	ListVersions(ctx context.Context, tenantID string, projectID, promptID int64) ([]Version, error)
	Close() error
}

func normalizeName(name, slug string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return slug
	}
	return name
}
