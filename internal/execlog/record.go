// Package execlog records one row plus five artifact blobs per prompt
// execution and serves them back for viewing.
package execlog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrNotFound        = errors.New("execution log not found")
	ErrInvalidState    = errors.New("execution logger used out of order")
	ErrUnknownArtifact = errors.New("unknown artifact")
)

const (
	ArtifactVariables = "variables"
	ArtifactInput     = "input"
	ArtifactOutput    = "output"
	ArtifactResult    = "result"
	ArtifactResponse  = "response"
)

// ArtifactNames lists every artifact written for a finished execution, in
// write order.
var ArtifactNames = []string{
	ArtifactVariables,
	ArtifactInput,
	ArtifactOutput,
	ArtifactResult,
	ArtifactResponse,
}

func IsArtifactName(name string) bool {
	for _, candidate := range ArtifactNames {
		if candidate == name {
			return true
		}
	}
	return false
}

// ArtifactKey is the blob key of one artifact:
// logs/<tenant>/<record id>/<name>.json.
func ArtifactKey(tenantID, recordID, name string) string {
	return fmt.Sprintf("logs/%s/%s/%s.json", url.PathEscape(tenantID), url.PathEscape(recordID), name)
}

type Record struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	ProjectID        int64     `json:"project_id"`
	PromptID         int64     `json:"prompt_id"`
	Version          int       `json:"version"`
	TraceID          string    `json:"trace_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	IsSuccess        bool      `json:"is_success"`
	DurationMS       int64     `json:"duration_ms"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Filter narrows QueryRecords. TenantID is required; zero values of the
// other fields do not filter.
type Filter struct {
	TenantID  string
	ProjectID int64
	PromptID  int64
	Version   int
	TraceID   string
	Provider  string
	Success   *bool
	From      time.Time
	To        time.Time
	Limit     int
	Cursor    string
}

type RecordPage struct {
	Items      []*Record `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// VersionStats aggregates executions of one prompt version so versions can
// be compared side by side.
type VersionStats struct {
	Version          int       `json:"version"`
	Executions       int64     `json:"executions"`
	Failures         int64     `json:"failures"`
	SuccessRate      float64   `json:"success_rate"`
	AvgDurationMS    float64   `json:"avg_duration_ms"`
	MaxDurationMS    int64     `json:"max_duration_ms"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	TotalCostUSD     float64   `json:"total_cost_usd"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
}

type StatsFilter struct {
	TenantID  string
	ProjectID int64
	PromptID  int64
	From      time.Time
	To        time.Time
}

type UsageSummary struct {
	Executions       int64   `json:"executions"`
	Failures         int64   `json:"failures"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
}

type RecordStore interface {
	WriteRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, tenantID, id string) (*Record, error)
	QueryRecords(ctx context.Context, filter Filter) (*RecordPage, error)
	GetVersionStats(ctx context.Context, filter StatsFilter) ([]VersionStats, error)
	GetUsageSummary(ctx context.Context, filter StatsFilter) (*UsageSummary, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func successRate(executions, failures int64) float64 {
	if executions == 0 {
		return 0
	}
	return float64(executions-failures) / float64(executions)
}

// GetArtifact loads one artifact of a record the tenant owns. The record
// lookup enforces tenant scope before the blob is read.
func GetArtifact(ctx context.Context, records RecordStore, blobs BlobStore, tenantID, recordID, name string) ([]byte, error) {
	if !IsArtifactName(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownArtifact, name)
	}
	record, err := records.GetRecord(ctx, tenantID, recordID)
	if err != nil {
		return nil, err
	}
	return blobs.Get(ctx, ArtifactKey(record.TenantID, record.ID, name))
}
