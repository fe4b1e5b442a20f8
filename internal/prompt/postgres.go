package prompt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ongoingai/promptops/internal/sqlstore"
)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps a database opened with sqlstore.OpenPostgres.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres database is required")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const (
	postgresProjectColumns = `id, tenant_id, slug, name, created_at`
	postgresPromptColumns  = `id, tenant_id, project_id, slug, name, is_active, created_at`
	postgresVersionColumns = `v.id, v.tenant_id, v.project_id, v.prompt_id, v.version, v.provider, v.model, v.body, v.created_at`
)

func (s *PostgresStore) GetProject(ctx context.Context, tenantID string, ref EntityRef) (*Project, error) {
	builder := sqlstore.NewWhereBuilder()
	builder.AddComparison("tenant_id", "=", tenantID)
	if id, ok := ref.ID(); ok {
		builder.AddComparison("id", "=", id)
	} else {
		slug, _ := ref.SlugValue()
		builder.AddComparison("slug", "=", slug)
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+postgresProjectColumns+" FROM projects WHERE "+builder.Where()+" LIMIT 1", builder.Args()...)
	project, err := scanPostgresProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project %q: %w", ref, err)
	}
	return project, nil
}

func (s *PostgresStore) GetPrompt(ctx context.Context, tenantID string, projectID int64, ref EntityRef) (*Prompt, error) {
	builder := sqlstore.NewWhereBuilder()
	builder.AddComparison("tenant_id", "=", tenantID)
	builder.AddComparison("project_id", "=", projectID)
	if id, ok := ref.ID(); ok {
		builder.AddComparison("id", "=", id)
	} else {
		slug, _ := ref.SlugValue()
		builder.AddComparison("slug", "=", slug)
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+postgresPromptColumns+" FROM prompts WHERE "+builder.Where()+" LIMIT 1", builder.Args()...)
	prompt, err := scanPostgresPrompt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prompt %q: %w", ref, err)
	}
	return prompt, nil
}

func (s *PostgresStore) GetActiveVersion(ctx context.Context, tenantID string, projectID, promptID int64) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+postgresVersionColumns+`
FROM prompt_routers r
JOIN prompt_versions v ON v.id = r.version_id
WHERE r.tenant_id = $1 AND r.prompt_id = $2 AND v.tenant_id = $1 AND v.project_id = $3
LIMIT 1`, tenantID, promptID, projectID)
	version, err := scanPostgresVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active version for prompt %d: %w", promptID, err)
	}
	return version, nil
}

func (s *PostgresStore) ActiveVersionID(ctx context.Context, tenantID string, projectID, promptID int64) (int64, error) {
	var versionID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT r.version_id
FROM prompt_routers r
JOIN prompts p ON p.id = r.prompt_id
WHERE r.tenant_id = $1 AND r.prompt_id = $2 AND p.project_id = $3
LIMIT 1`, tenantID, promptID, projectID).Scan(&versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get router for prompt %d: %w", promptID, err)
	}
	if !versionID.Valid {
		return 0, ErrNotFound
	}
	return versionID.Int64, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, tenantID string, projectID, promptID, versionID int64) (*Version, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postgresVersionColumns+" FROM prompt_versions v WHERE v.tenant_id = $1 AND v.project_id = $2 AND v.prompt_id = $3 AND v.id = $4 LIMIT 1",
		tenantID, projectID, promptID, versionID)
	version, err := scanPostgresVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get version %d: %w", versionID, err)
	}
	return version, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, tenantID, slug, name string) (*Project, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
INSERT INTO projects (tenant_id, slug, name)
VALUES ($1, $2, $3)
RETURNING `+postgresProjectColumns, tenantID, slug, normalizeName(name, slug))
	project, err := scanPostgresProject(row)
	if err != nil {
		if sqlstore.IsUniqueViolation(err) {
			return nil, fmt.Errorf("project %q: %w", slug, ErrConflict)
		}
		return nil, fmt.Errorf("create project %q: %w", slug, err)
	}
	return project, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, tenantID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+postgresProjectColumns+" FROM projects WHERE tenant_id = $1 ORDER BY id ASC", tenantID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		project, err := scanPostgresProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		projects = append(projects, *project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}
	return projects, nil
}

func (s *PostgresStore) CreatePrompt(ctx context.Context, tenantID string, projectID int64, slug, name string) (*Prompt, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	if _, err := s.GetProject(ctx, tenantID, NumericID(projectID)); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
INSERT INTO prompts (tenant_id, project_id, slug, name, is_active)
VALUES ($1, $2, $3, $4, TRUE)
RETURNING `+postgresPromptColumns, tenantID, projectID, slug, normalizeName(name, slug))
	prompt, err := scanPostgresPrompt(row)
	if err != nil {
		if sqlstore.IsUniqueViolation(err) {
			return nil, fmt.Errorf("prompt %q: %w", slug, ErrConflict)
		}
		return nil, fmt.Errorf("create prompt %q: %w", slug, err)
	}
	return prompt, nil
}

func (s *PostgresStore) ListPrompts(ctx context.Context, tenantID string, projectID int64) ([]Prompt, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+postgresPromptColumns+" FROM prompts WHERE tenant_id = $1 AND project_id = $2 ORDER BY id ASC", tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]Prompt, 0)
	for rows.Next() {
		prompt, err := scanPostgresPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		prompts = append(prompts, *prompt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt rows: %w", err)
	}
	return prompts, nil
}

func (s *PostgresStore) SetPromptActive(ctx context.Context, tenantID string, projectID, promptID int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE prompts SET is_active = $1 WHERE tenant_id = $2 AND project_id = $3 AND id = $4`,
		active, tenantID, projectID, promptID)
	if err != nil {
		return fmt.Errorf("set prompt %d active=%t: %w", promptID, active, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read updated prompt count: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PublishVersion(ctx context.Context, tenantID string, projectID, promptID int64, input PublishInput) (*Version, error) {
	if _, err := ValidateBody(input.Body); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin publish transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Lock the prompt row so concurrent publishes number versions serially.
	var lockedID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM prompts WHERE tenant_id = $1 AND project_id = $2 AND id = $3 FOR UPDATE`,
		tenantID, projectID, promptID).Scan(&lockedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock prompt %d: %w", promptID, err)
	}

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE prompt_id = $1`, promptID).Scan(&next); err != nil {
		return nil, fmt.Errorf("read next version number: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
INSERT INTO prompt_versions (tenant_id, project_id, prompt_id, version, provider, model, body)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, tenant_id, project_id, prompt_id, version, provider, model, body, created_at`,
		tenantID, projectID, promptID, next, strings.TrimSpace(input.Provider), strings.TrimSpace(input.Model), string(input.Body))
	version, err := scanPostgresVersion(row)
	if err != nil {
		return nil, fmt.Errorf("insert version for prompt %d: %w", promptID, err)
	}

	if input.Activate {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO prompt_routers (prompt_id, tenant_id, version_id, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (prompt_id) DO UPDATE SET version_id = EXCLUDED.version_id, updated_at = EXCLUDED.updated_at`,
			promptID, tenantID, version.ID); err != nil {
			return nil, fmt.Errorf("point router at version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit publish transaction: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) SetActiveVersion(ctx context.Context, tenantID string, projectID, promptID int64, version int) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO prompt_routers (prompt_id, tenant_id, version_id, updated_at)
SELECT v.prompt_id, v.tenant_id, v.id, NOW()
FROM prompt_versions v
WHERE v.tenant_id = $1 AND v.project_id = $2 AND v.prompt_id = $3 AND v.version = $4
ON CONFLICT (prompt_id) DO UPDATE SET version_id = EXCLUDED.version_id, updated_at = EXCLUDED.updated_at`,
		tenantID, projectID, promptID, version)
	if err != nil {
		return fmt.Errorf("set active version %d of prompt %d: %w", version, promptID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read router update count: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, tenantID string, projectID, promptID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+postgresVersionColumns+" FROM prompt_versions v WHERE v.tenant_id = $1 AND v.project_id = $2 AND v.prompt_id = $3 ORDER BY v.version ASC",
		tenantID, projectID, promptID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]Version, 0)
	for rows.Next() {
		version, err := scanPostgresVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		versions = append(versions, *version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version rows: %w", err)
	}
	return versions, nil
}

func scanPostgresProject(scanner sqlstore.RowScanner) (*Project, error) {
	var (
		item      Project
		createdAt sql.NullTime
	)
	if err := scanner.Scan(&item.ID, &item.TenantID, &item.Slug, &item.Name, &createdAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		item.CreatedAt = createdAt.Time.UTC()
	}
	return &item, nil
}

func scanPostgresPrompt(scanner sqlstore.RowScanner) (*Prompt, error) {
	var (
		item      Prompt
		createdAt sql.NullTime
	)
	if err := scanner.Scan(&item.ID, &item.TenantID, &item.ProjectID, &item.Slug, &item.Name, &item.Active, &createdAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		item.CreatedAt = createdAt.Time.UTC()
	}
	return &item, nil
}

func scanPostgresVersion(scanner sqlstore.RowScanner) (*Version, error) {
	var (
		item      Version
		body      sql.NullString
		createdAt sql.NullTime
	)
	if err := scanner.Scan(&item.ID, &item.TenantID, &item.ProjectID, &item.PromptID, &item.Version, &item.Provider, &item.Model, &body, &createdAt); err != nil {
		return nil, err
	}
	if body.Valid {
		item.Body = []byte(body.String)
	}
	if createdAt.Valid {
		item.CreatedAt = createdAt.Time.UTC()
	}
	return &item, nil
}
