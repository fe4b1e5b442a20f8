package prompt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ongoingai/promptops/internal/sqlstore"
)

type SQLiteStore struct {
	db *sql.DB
	// SQLite allows one writer at a time; publishing reads then writes the
	// next version number, so writes are serialized.
	writeMu sync.Mutex
}

// NewSQLiteStore wraps a database opened with sqlstore.OpenSQLite.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite database is required")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const (
	sqliteProjectColumns = `id, tenant_id, slug, name, CAST(created_at AS TEXT)`
	sqlitePromptColumns  = `id, tenant_id, project_id, slug, name, is_active, CAST(created_at AS TEXT)`
	sqliteVersionColumns = `v.id, v.tenant_id, v.project_id, v.prompt_id, v.version, v.provider, v.model, v.body, CAST(v.created_at AS TEXT)`
)

func (s *SQLiteStore) GetProject(ctx context.Context, tenantID string, ref EntityRef) (*Project, error) {
	var row *sql.Row
	if id, ok := ref.ID(); ok {
		row = s.db.QueryRowContext(ctx, "SELECT "+sqliteProjectColumns+" FROM projects WHERE tenant_id = ? AND id = ? LIMIT 1", tenantID, id)
	} else {
		slug, _ := ref.SlugValue()
		row = s.db.QueryRowContext(ctx, "SELECT "+sqliteProjectColumns+" FROM projects WHERE tenant_id = ? AND slug = ? LIMIT 1", tenantID, slug)
	}
	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project %q: %w", ref, err)
	}
	return project, nil
}

func (s *SQLiteStore) GetPrompt(ctx context.Context, tenantID string, projectID int64, ref EntityRef) (*Prompt, error) {
	var row *sql.Row
	if id, ok := ref.ID(); ok {
		row = s.db.QueryRowContext(ctx, "SELECT "+sqlitePromptColumns+" FROM prompts WHERE tenant_id = ? AND project_id = ? AND id = ? LIMIT 1", tenantID, projectID, id)
	} else {
		slug, _ := ref.SlugValue()
		row = s.db.QueryRowContext(ctx, "SELECT "+sqlitePromptColumns+" FROM prompts WHERE tenant_id = ? AND project_id = ? AND slug = ? LIMIT 1", tenantID, projectID, slug)
	}
	prompt, err := scanPrompt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prompt %q: %w", ref, err)
	}
	return prompt, nil
}

func (s *SQLiteStore) GetActiveVersion(ctx context.Context, tenantID string, projectID, promptID int64) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+sqliteVersionColumns+`
FROM prompt_routers r
JOIN prompt_versions v ON v.id = r.version_id
WHERE r.tenant_id = ? AND r.prompt_id = ? AND v.tenant_id = ? AND v.project_id = ?
LIMIT 1`, tenantID, promptID, tenantID, projectID)
	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active version for prompt %d: %w", promptID, err)
	}
	return version, nil
}

func (s *SQLiteStore) ActiveVersionID(ctx context.Context, tenantID string, projectID, promptID int64) (int64, error) {
	var versionID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT r.version_id
FROM prompt_routers r
JOIN prompts p ON p.id = r.prompt_id
WHERE r.tenant_id = ? AND r.prompt_id = ? AND p.project_id = ?
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

func (s *SQLiteStore) GetVersion(ctx context.Context, tenantID string, projectID, promptID, versionID int64) (*Version, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteVersionColumns+" FROM prompt_versions v WHERE v.tenant_id = ? AND v.project_id = ? AND v.prompt_id = ? AND v.id = ? LIMIT 1",
		tenantID, projectID, promptID, versionID)
	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get version %d: %w", versionID, err)
	}
	return version, nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, tenantID, slug, name string) (*Project, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id int64
	err := sqlstore.RetrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `INSERT INTO projects (tenant_id, slug, name) VALUES (?, ?, ?)`, tenantID, slug, normalizeName(name, slug))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if sqlstore.IsUniqueViolation(err) {
			return nil, fmt.Errorf("project %q: %w", slug, ErrConflict)
		}
		return nil, fmt.Errorf("create project %q: %w", slug, err)
	}
	return s.GetProject(ctx, tenantID, NumericID(id))
}

func (s *SQLiteStore) ListProjects(ctx context.Context, tenantID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqliteProjectColumns+" FROM projects WHERE tenant_id = ? ORDER BY id ASC", tenantID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
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

func (s *SQLiteStore) CreatePrompt(ctx context.Context, tenantID string, projectID int64, slug, name string) (*Prompt, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	if _, err := s.GetProject(ctx, tenantID, NumericID(projectID)); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id int64
	err := sqlstore.RetrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `INSERT INTO prompts (tenant_id, project_id, slug, name, is_active) VALUES (?, ?, ?, ?, 1)`,
			tenantID, projectID, slug, normalizeName(name, slug))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if sqlstore.IsUniqueViolation(err) {
			return nil, fmt.Errorf("prompt %q: %w", slug, ErrConflict)
		}
		return nil, fmt.Errorf("create prompt %q: %w", slug, err)
	}
	return s.GetPrompt(ctx, tenantID, projectID, NumericID(id))
}

func (s *SQLiteStore) ListPrompts(ctx context.Context, tenantID string, projectID int64) ([]Prompt, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqlitePromptColumns+" FROM prompts WHERE tenant_id = ? AND project_id = ? ORDER BY id ASC", tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]Prompt, 0)
	for rows.Next() {
		prompt, err := scanPrompt(rows)
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

func (s *SQLiteStore) SetPromptActive(ctx context.Context, tenantID string, projectID, promptID int64, active bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var affected int64
	err := sqlstore.RetrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE prompts SET is_active = ? WHERE tenant_id = ? AND project_id = ? AND id = ?`,
			boolToInt(active), tenantID, projectID, promptID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("set prompt %d active=%t: %w", promptID, active, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) PublishVersion(ctx context.Context, tenantID string, projectID, promptID int64, input PublishInput) (*Version, error) {
	if _, err := ValidateBody(input.Body); err != nil {
		return nil, err
	}
	if _, err := s.GetPrompt(ctx, tenantID, projectID, NumericID(promptID)); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var versionID int64
	err := sqlstore.RetrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin publish transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		var next int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE prompt_id = ?`, promptID).Scan(&next); err != nil {
			return fmt.Errorf("read next version number: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO prompt_versions (tenant_id, project_id, prompt_id, version, provider, model, body)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tenantID, projectID, promptID, next, strings.TrimSpace(input.Provider), strings.TrimSpace(input.Model), string(input.Body))
		if err != nil {
			return err
		}
		versionID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if input.Activate {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO prompt_routers (prompt_id, tenant_id, version_id, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (prompt_id) DO UPDATE SET version_id = excluded.version_id, updated_at = excluded.updated_at`,
				promptID, tenantID, versionID); err != nil {
				return fmt.Errorf("point router at version: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("publish version for prompt %d: %w", promptID, err)
	}
	return s.GetVersion(ctx, tenantID, projectID, promptID, versionID)
}

func (s *SQLiteStore) SetActiveVersion(ctx context.Context, tenantID string, projectID, promptID int64, version int) error {
	var versionID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM prompt_versions WHERE tenant_id = ? AND project_id = ? AND prompt_id = ? AND version = ?`,
		tenantID, projectID, promptID, version).Scan(&versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("find version %d of prompt %d: %w", version, promptID, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = sqlstore.RetrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO prompt_routers (prompt_id, tenant_id, version_id, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (prompt_id) DO UPDATE SET version_id = excluded.version_id, updated_at = excluded.updated_at`,
			promptID, tenantID, versionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("set active version %d of prompt %d: %w", version, promptID, err)
	}
	return nil
}

func (s *SQLiteStore) ListVersions(ctx context.Context, tenantID string, projectID, promptID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqliteVersionColumns+" FROM prompt_versions v WHERE v.tenant_id = ? AND v.project_id = ? AND v.prompt_id = ? ORDER BY v.version ASC",
		tenantID, projectID, promptID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]Version, 0)
	for rows.Next() {
		version, err := scanVersion(rows)
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

func scanProject(scanner sqlstore.RowScanner) (*Project, error) {
	var (
		item      Project
		createdAt sql.NullString
	)
	if err := scanner.Scan(&item.ID, &item.TenantID, &item.Slug, &item.Name, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := sqlstore.NullTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt.String, err)
	}
	item.CreatedAt = parsed
	return &item, nil
}

func scanPrompt(scanner sqlstore.RowScanner) (*Prompt, error) {
	var (
		item      Prompt
		active    int64
		createdAt sql.NullString
	)
	if err := scanner.Scan(&item.ID, &item.TenantID, &item.ProjectID, &item.Slug, &item.Name, &active, &createdAt); err != nil {
		return nil, err
	}
	item.Active = active != 0
	parsed, err := sqlstore.NullTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt.String, err)
	}
	item.CreatedAt = parsed
	return &item, nil
}

func scanVersion(scanner sqlstore.RowScanner) (*Version, error) {
	var (
		item      Version
		body      sql.NullString
		createdAt sql.NullString
	)
	if err := scanner.Scan(&item.ID, &item.TenantID, &item.ProjectID, &item.PromptID, &item.Version, &item.Provider, &item.Model, &body, &createdAt); err != nil {
		return nil, err
	}
	if body.Valid {
		item.Body = []byte(body.String)
	}
	parsed, err := sqlstore.NullTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt.String, err)
	}
	item.CreatedAt = parsed
	return &item, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
