package execlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ongoingai/promptops/internal/sqlstore"
)

const postgresRecordColumns = `id, tenant_id, project_id, prompt_id, version, trace_id, provider, model,
	is_success, duration_ms, prompt_tokens, completion_tokens, total_tokens,
	estimated_cost_usd, error_message, created_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres database is required")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) WriteRecord(ctx context.Context, record *Record) error {
	if record == nil {
		return nil
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

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
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		record.ID,
		record.TenantID,
		record.ProjectID,
		record.PromptID,
		record.Version,
		record.TraceID,
		record.Provider,
		record.Model,
		record.IsSuccess,
		record.DurationMS,
		record.PromptTokens,
		record.CompletionTokens,
		record.TotalTokens,
		record.EstimatedCostUSD,
		sqlstore.NullIfEmpty(record.ErrorMessage),
		record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write execution log %q: %w", record.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, tenantID, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postgresRecordColumns+" FROM execution_logs WHERE tenant_id = $1 AND id = $2 LIMIT 1", tenantID, id)
	record, err := scanPostgresRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get execution log %q: %w", id, err)
	}
	return record, nil
}

func (s *PostgresStore) QueryRecords(ctx context.Context, filter Filter) (*RecordPage, error) {
	limit := pageSize(filter.Limit)

	builder, err := buildPostgresRecordWhere(filter)
	if err != nil {
		return nil, err
	}
	limitArg := builder.AddArg(limit + 1)

	query := "SELECT " + postgresRecordColumns + " FROM execution_logs WHERE " + builder.Where() + " ORDER BY created_at DESC, id DESC LIMIT " + limitArg
	rows, err := s.db.QueryContext(ctx, query, builder.Args()...)
	if err != nil {
		return nil, fmt.Errorf("query execution logs: %w", err)
	}
	defer rows.Close()

	items := make([]*Record, 0, limit+1)
	for rows.Next() {
		record, err := scanPostgresRecord(rows)
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

func (s *PostgresStore) GetVersionStats(ctx context.Context, filter StatsFilter) ([]VersionStats, error) {
	builder := buildPostgresStatsWhere(filter)
	query := `
SELECT
	version,
	COUNT(*),
	COUNT(*) FILTER (WHERE NOT is_success),
	COALESCE(AVG(duration_ms), 0)::DOUBLE PRECISION,
	COALESCE(MAX(duration_ms), 0),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0),
	COALESCE(SUM(total_tokens), 0),
	COALESCE(SUM(estimated_cost_usd), 0),
	MIN(created_at),
	MAX(created_at)
FROM execution_logs
WHERE ` + builder.Where() + `
GROUP BY version
ORDER BY version DESC`

	rows, err := s.db.QueryContext(ctx, query, builder.Args()...)
	if err != nil {
		return nil, fmt.Errorf("query version stats: %w", err)
	}
	defer rows.Close()

	stats := make([]VersionStats, 0)
	for rows.Next() {
		var (
			item      VersionStats
			firstSeen sql.NullTime
			lastSeen  sql.NullTime
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
		if firstSeen.Valid {
			item.FirstSeen = firstSeen.Time.UTC()
		}
		if lastSeen.Valid {
			item.LastSeen = lastSeen.Time.UTC()
		}
		item.SuccessRate = successRate(item.Executions, item.Failures)
		stats = append(stats, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version stats rows: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) GetUsageSummary(ctx context.Context, filter StatsFilter) (*UsageSummary, error) {
	builder := buildPostgresStatsWhere(filter)
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE NOT is_success),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0),
	COALESCE(SUM(total_tokens), 0),
	COALESCE(SUM(estimated_cost_usd), 0)
FROM execution_logs
WHERE `+builder.Where(), builder.Args()...)

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

func buildPostgresRecordWhere(filter Filter) (*sqlstore.WhereBuilder, error) {
	builder := sqlstore.NewWhereBuilder()
	builder.AddComparison("tenant_id", "=", filter.TenantID)

	if filter.ProjectID > 0 {
		builder.AddComparison("project_id", "=", filter.ProjectID)
	}
	if filter.PromptID > 0 {
		builder.AddComparison("prompt_id", "=", filter.PromptID)
	}
	if filter.Version > 0 {
		builder.AddComparison("version", "=", filter.Version)
	}
	if filter.TraceID != "" {
		builder.AddComparison("trace_id", "=", strings.ToLower(filter.TraceID))
	}
	if filter.Provider != "" {
		builder.AddComparison("provider", "=", filter.Provider)
	}
	if filter.Success != nil {
		builder.AddComparison("is_success", "=", *filter.Success)
	}
	if !filter.From.IsZero() {
		builder.AddComparison("created_at", ">=", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		builder.AddComparison("created_at", "<=", filter.To.UTC())
	}
	if filter.Cursor != "" {
		createdAt, id, err := sqlstore.DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		createdAtArg := builder.AddArg(createdAt)
		idArg := builder.AddArg(id)
		builder.AddCondition("(created_at < " + createdAtArg + " OR (created_at = " + createdAtArg + " AND id < " + idArg + "))")
	}
	return builder, nil
}

func buildPostgresStatsWhere(filter StatsFilter) *sqlstore.WhereBuilder {
	builder := sqlstore.NewWhereBuilder()
	builder.AddComparison("tenant_id", "=", filter.TenantID)
	if filter.ProjectID > 0 {
		builder.AddComparison("project_id", "=", filter.ProjectID)
	}
	if filter.PromptID > 0 {
		builder.AddComparison("prompt_id", "=", filter.PromptID)
	}
	if !filter.From.IsZero() {
		builder.AddComparison("created_at", ">=", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		builder.AddComparison("created_at", "<=", filter.To.UTC())
	}
	return builder
}

func scanPostgresRecord(scanner sqlstore.RowScanner) (*Record, error) {
	var (
		record       Record
		errorMessage sql.NullString
		createdAt    sql.NullTime
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
		&record.IsSuccess,
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
	record.ErrorMessage = errorMessage.String
	if createdAt.Valid {
		record.CreatedAt = createdAt.Time.UTC()
	}
	return &record, nil
}
