// Package limits enforces per-tenant execution rates and daily budgets.
package limits

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/promptops/internal/execlog"
	"golang.org/x/time/rate"
)

// Policy bounds how much a single tenant may execute. Zero values disable
// the corresponding check.
type Policy struct {
	RequestsPerSecond float64
	Burst             int
	MaxTokensPerDay   int64
	MaxCostUSDPerDay  float64
}

// Enabled reports whether any check is configured.
func (p Policy) Enabled() bool {
	return p.RequestsPerSecond > 0 || p.dailyUsageEnabled()
}

func (p Policy) dailyUsageEnabled() bool {
	return p.MaxTokensPerDay > 0 || p.MaxCostUSDPerDay > 0
}

// UsageReader reports accumulated usage for a tenant.
type UsageReader interface {
	GetUsageSummary(ctx context.Context, filter execlog.StatsFilter) (*execlog.UsageSummary, error)
}

// Decision explains why an execution was rejected.
type Decision struct {
	Code              string
	Message           string
	RetryAfterSeconds int
}

const (
	CodeRateLimitExceeded   = "TENANT_RATE_LIMIT_EXCEEDED"
	CodeDailyTokensExceeded = "TENANT_DAILY_TOKENS_EXCEEDED"
	CodeDailyCostExceeded   = "TENANT_DAILY_COST_EXCEEDED"
)

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TenantLimiter applies one Policy independently to every tenant.
type TenantLimiter struct {
	usage  UsageReader
	policy Policy
	nowFn  func() time.Time

	mu        sync.Mutex
	buckets   map[string]*tenantBucket
	lastSweep time.Time
}

const (
	bucketSweepInterval = 2 * time.Minute
	bucketIdleTTL       = 10 * time.Minute
)

// NewTenantLimiter builds a limiter. usage may be nil when no daily budget
// is configured.
func NewTenantLimiter(usage UsageReader, policy Policy) *TenantLimiter {
	if policy.RequestsPerSecond > 0 && policy.Burst <= 0 {
		policy.Burst = int(math.Max(1, math.Ceil(policy.RequestsPerSecond)))
	}
	return &TenantLimiter{
		usage:   usage,
		policy:  policy,
		nowFn:   func() time.Time { return time.Now().UTC() },
		buckets: map[string]*tenantBucket{},
	}
}

// Enabled reports whether the limiter can reject anything.
func (l *TenantLimiter) Enabled() bool {
	return l != nil && l.policy.Enabled()
}

// Check returns a non-nil Decision when tenantID must not execute now.
// Daily budgets are checked first; a budget rejection consumes no rate token.
func (l *TenantLimiter) Check(ctx context.Context, tenantID string) (*Decision, error) {
	if !l.Enabled() {
		return nil, nil
	}
	tenantID = strings.TrimSpace(tenantID)
	now := time.Now().UTC()
	if l.nowFn != nil {
		now = l.nowFn().UTC()
	}
	if decision, err := l.checkDailyUsage(ctx, tenantID, now); err != nil || decision != nil {
		return decision, err
	}
	return l.checkRate(tenantID, now), nil
}

func (l *TenantLimiter) checkDailyUsage(ctx context.Context, tenantID string, now time.Time) (*Decision, error) {
	if l.usage == nil || !l.policy.dailyUsageEnabled() {
		return nil, nil
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	usage, err := l.usage.GetUsageSummary(ctx, execlog.StatsFilter{
		TenantID: tenantID,
		From:     dayStart,
		To:       now,
	})
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return nil, nil
	}
	retryAfter := int(math.Ceil(dayStart.Add(24 * time.Hour).Sub(now).Seconds()))
	if l.policy.MaxTokensPerDay > 0 && usage.TotalTokens >= l.policy.MaxTokensPerDay {
		return &Decision{
			Code:              CodeDailyTokensExceeded,
			Message:           "daily token limit exceeded for tenant",
			RetryAfterSeconds: retryAfter,
		}, nil
	}
	if l.policy.MaxCostUSDPerDay > 0 && usage.TotalCostUSD >= l.policy.MaxCostUSDPerDay {
		return &Decision{
			Code:              CodeDailyCostExceeded,
			Message:           "daily cost limit exceeded for tenant",
			RetryAfterSeconds: retryAfter,
		}, nil
	}
	return nil, nil
}

func (l *TenantLimiter) checkRate(tenantID string, now time.Time) *Decision {
	if l.policy.RequestsPerSecond <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeSweep(now)

	bucket, ok := l.buckets[tenantID]
	if !ok {
		bucket = &tenantBucket{limiter: rate.NewLimiter(rate.Limit(l.policy.RequestsPerSecond), l.policy.Burst)}
		l.buckets[tenantID] = bucket
	}
	bucket.lastSeen = now

	reservation := bucket.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return &Decision{Code: CodeRateLimitExceeded, Message: "request rate limit exceeded for tenant", RetryAfterSeconds: 1}
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	reservation.CancelAt(now)
	return &Decision{
		Code:              CodeRateLimitExceeded,
		Message:           "request rate limit exceeded for tenant",
		RetryAfterSeconds: retryAfterSeconds(delay),
	}
}

func (l *TenantLimiter) maybeSweep(now time.Time) {
	if !l.lastSweep.IsZero() && now.Sub(l.lastSweep) < bucketSweepInterval {
		return
	}
	for tenantID, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= bucketIdleTTL {
			delete(l.buckets, tenantID)
		}
	}
	l.lastSweep = now
}

func retryAfterSeconds(delay time.Duration) int {
	if delay <= time.Second {
		return 1
	}
	return int(math.Ceil(delay.Seconds()))
}
