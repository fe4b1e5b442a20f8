// Package prompt holds the project, prompt and version model together with
// the tenant-scoped storage and resolution used to execute a prompt.
package prompt

import (
	"encoding/json"
	"time"
)

type Project struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Prompt struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ProjectID int64     `json:"project_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Version is an immutable published snapshot of a prompt. Body holds the
// stored JSON document exactly as written; it is decoded with ParseBody at
// execution time so corrupted rows surface as data errors.
type Version struct {
	ID        int64           `json:"id"`
	TenantID  string          `json:"tenant_id"`
	ProjectID int64           `json:"project_id"`
	PromptID  int64           `json:"prompt_id"`
	Version   int             `json:"version"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}

// PublishInput describes a new version to append to a prompt.
type PublishInput struct {
	Provider string
	Model    string
	Body     json.RawMessage
	// Activate points the prompt router at the new version.
	Activate bool
}
