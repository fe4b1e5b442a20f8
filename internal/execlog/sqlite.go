package execlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/promptops/internal/sqlstore"
)

// sqliteTimeLayout is fixed width so text comparison matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteRecordColumns = `id, tenant_id, project_id, prompt_id, version, trace_id, provider, model,
	is_success, duration_ms, prompt_tokens, completion_tokens, total_tokens,
	estimated_cost_usd, error_message, CAST(created_at AS TEXT)`

type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite database is required")
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func (s *SQLiteStore) WriteRecord(ctx context.Context, record *Record) error {
	if record == nil {
		return nil
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := sqlstore.RetrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO execution_logs (
	id,
	tenant_id,
	project_id,
	prompt_id,
	version,
	trace_id,
	provider,
	model,
	is_success,
	duration_ms,
	prompt_tokens,
	completion_tokens,
	total_tokens,
	estimated_cost_usd,
	error_message,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ID,
			record.TenantID,
			record.ProjectID,
			record.PromptID,
			record.Version,
			record.TraceID,
			record.Provider,
			record.Model,
			boolToInt(record.IsSuccess),
			record.DurationMS,
			record.PromptTokens,
			record.CompletionTokens,
			record.TotalTokens,
			record.EstimatedCostUSD,
			sqlstore.NullIfEmpty(record.ErrorMessage),
			sqliteTime(record.CreatedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("write execution log %q: %w", record.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, tenantID, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteRecordColumns+" FROM execution_logs WHERE tenant_id = ? AND id = ? LIMIT 1", tenantID, id)
	record, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get execution log %q: %w", id, err)
	}
	return record, nil
}

func (s *SQLiteStore) QueryRecords(ctx context.Context, filter Filter) (*RecordPage, error) {
	limit := pageSize(filter.Limit)

	whereSQL, args, err := buildSQLiteRecordWhere(filter)
	if err != nil {
		return nil, err
	}
	args = append(args, limit+1)

	query := "SELECT " + sqliteRecordColumns + " FROM execution_logs WHERE " + whereSQL + " ORDER BY created_at DESC, id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution logs: %w", err)
	}
	defer rows.Close()

	items := make([]*Record, 0, limit+1)
	for rows.Next() {
		record, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution log row: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution log rows: %w", err)
	}

	return paginate(items, limit), nil
}

func (s *SQLiteStore) GetVersionStats(ctx context.Context, filter StatsFilter) ([]VersionStats, error) {
	whereSQL, args := buildSQLiteStatsWhere(filter)
	query := `
SELECT
	version,
	COUNT(*),
	COALESCE(SUM(CASE WHEN is_success = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(AVG(duration_ms), 0),
	COALESCE(MAX(duration_ms), 0),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0),
	COALESCE(SUM(total_tokens), 0),
	COALESCE(SUM(estimated_cost_usd), 0),
	MIN(created_at),
	MAX(created_at)
FROM execution_logs
WHERE ` + whereSQL + `
GROUP BY version
ORDER BY version DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query version stats: %w", err)
	}
	defer rows.Close()

	stats := make([]VersionStats, 0)
	for rows.Next() {
		var (
			item      VersionStats
			firstSeen sql.NullString
			lastSeen  sql.NullString
		)
		if err := rows.Scan(
			&item.Version,
			&item.Executions,
			&item.Failures,
			&item.AvgDurationMS,
			&item.MaxDurationMS,
			&item.PromptTokens,
			&item.CompletionTokens,
			&item.TotalTokens,
			&item.TotalCostUSD,
			&firstSeen,
			&lastSeen,
		); err != nil {
			return nil, fmt.Errorf("scan version stats row: %w", err)
		}
		if item.FirstSeen, err = sqlstore.NullTime(firstSeen); err != nil {
			return nil, fmt.Errorf("parse version stats timestamp %q: %w", firstSeen.String, err)
		}
		if item.LastSeen, err = sqlstore.NullTime(lastSeen); err != nil {
			return nil, fmt.Errorf("parse version stats timestamp %q: %w", lastSeen.String, err)
		}
		item.SuccessRate = successRate(item.Executions, item.Failures)
		stats = append(stats, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version stats rows: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) GetUsageSummary(ctx context.Context, filter StatsFilter) (*UsageSummary, error) {
	whereSQL, args := buildSQLiteStatsWhere(filter)
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN is_success = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0),
	COALESCE(SUM(total_tokens), 0),
	COALESCE(SUM(estimated_cost_usd), 0)
FROM execution_logs
WHERE `+whereSQL, args...)

	var summary UsageSummary
	if err := row.Scan(
		&summary.Executions,
		&summary.Failures,
		&summary.PromptTokens,
		&summary.CompletionTokens,
		&summary.TotalTokens,
		&summary.TotalCostUSD,
	); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &summary, nil
}

func buildSQLiteRecordWhere(filter Filter) (string, []any, error) {
	where := []string{"tenant_id = ?"}
	args := []any{filter.TenantID}

	if filter.ProjectID > 0 {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.PromptID > 0 {
		where = append(where, "prompt_id = ?")
		args = append(args, filter.PromptID)
	}
	if filter.Version > 0 {
		where = append(where, "version = ?")
		args = append(args, filter.Version)
	}
	if filter.TraceID != "" {
		where = append(where, "trace_id = ?")
		args = append(args, strings.ToLower(filter.TraceID))
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Success != nil {
		where = append(where, "is_success = ?")
		args = append(args, boolToInt(*filter.Success))
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, sqliteTime(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, sqliteTime(filter.To))
	}
	if filter.Cursor != "" {
		createdAt, id, err := sqlstore.DecodeCursor(filter.Cursor)
		if err != nil {
			return "", nil, err
		}
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, sqliteTime(createdAt), sqliteTime(createdAt), id)
	}
	return strings.Join(where, " AND "), args, nil
}

func buildSQLiteStatsWhere(filter StatsFilter) (string, []any) {
	where := []string{"tenant_id = ?"}
	args := []any{filter.TenantID}

	if filter.ProjectID > 0 {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.PromptID > 0 {
		where = append(where, "prompt_id = ?")
		args = append(args, filter.PromptID)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, sqliteTime(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, sqliteTime(filter.To))
	}
	return strings.Join(where, " AND "), args
}

func scanSQLiteRecord(scanner sqlstore.RowScanner) (*Record, error) {
	var (
		record       Record
		isSuccess    int
		errorMessage sql.NullString
		createdAt    sql.NullString
	)
	if err := scanner.Scan(
		&record.ID,
		&record.TenantID,
		&record.ProjectID,
		&record.PromptID,
		&record.Version,
		&record.TraceID,
		&record.Provider,
		&record.Model,
		&isSuccess,
		&record.DurationMS,
		&record.PromptTokens,
		&record.CompletionTokens,
		&record.TotalTokens,
		&record.EstimatedCostUSD,
		&errorMessage,
		&createdAt,
	); err != nil {
		return nil, err
	}
	record.IsSuccess = isSuccess != 0
	record.ErrorMessage = errorMessage.String

	parsed, err := sqlstore.NullTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt.String, err)
	}
	record.CreatedAt = parsed
	return &record, nil
}

// paginate trims the extra row fetched to detect a next page.
func paginate(items []*Record, limit int) *RecordPage {
	page := &RecordPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[len(page.Items)-1]
		page.NextCursor = sqlstore.EncodeCursor(last.CreatedAt, last.ID)
	}
	return page
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
