// Package budget tracks project spend against daily and monthly limits.
package budget

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/upb/llm-governance-gateway/internal/kvstore"
	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/repositories"
	"go.uber.org/zap"
)

// Period represents the time period for budget tracking
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

const (
	DefaultDailyLimit   = 100.0
	DefaultMonthlyLimit = 1000.0
	DefaultCacheTTL     = time.Hour
)

// Limits is a project's spend ceiling per period
type Limits struct {
	Daily   float64
	Monthly float64
}

// Config holds ledger settings
type Config struct {
	DefaultDaily   float64
	DefaultMonthly float64
	Projects       map[string]Limits
	CacheTTL       time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		DefaultDaily:   DefaultDailyLimit,
		DefaultMonthly: DefaultMonthlyLimit,
		CacheTTL:       DefaultCacheTTL,
	}
}

// CheckResult represents the result of a budget check
type CheckResult struct {
	Allowed        bool    `json:"allowed"`
	FailOpen       bool    `json:"fail_open,omitempty"`
	DailySpend     float64 `json:"daily_spend"`
	DailyLimit     float64 `json:"daily_limit"`
	MonthlySpend   float64 `json:"monthly_spend"`
	MonthlyLimit   float64 `json:"monthly_limit"`
	ViolatedPeriod Period  `json:"violated_period,omitempty"`
	Limit          float64 `json:"limit,omitempty"`
	CurrentSpend   float64 `json:"current_spend,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// Snapshot is a project's current position in both periods
type Snapshot struct {
	DailySpend   float64
	DailyLimit   float64
	MonthlySpend float64
	MonthlyLimit float64
}

// Ledger checks and records spend. Spend totals are read through the KV
// store and recomputed from the usage store on a miss. All bookkeeping for
// one project and period is serialized by a per-key mutex.
type Ledger struct {
	usage  repositories.UsageRepository
	store  kvstore.Store
	cfg    Config
	logger *zap.Logger
	locks  *keyedMutex
	now    func() time.Time
}

// NewLedger creates a new Ledger. store may be nil, in which case every
// lookup goes to the usage store.
func NewLedger(usage repositories.UsageRepository, store kvstore.Store, cfg Config, logger *zap.Logger) *Ledger {
	if cfg.DefaultDaily <= 0 {
		cfg.DefaultDaily = DefaultDailyLimit
	}
	if cfg.DefaultMonthly <= 0 {
		cfg.DefaultMonthly = DefaultMonthlyLimit
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Ledger{
		usage:  usage,
		store:  store,
		cfg:    cfg,
		logger: logger,
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
}

// LimitsFor returns the configured limits for a project
func (l *Ledger) LimitsFor(projectID string) Limits {
	limits := Limits{Daily: l.cfg.DefaultDaily, Monthly: l.cfg.DefaultMonthly}
	if p, ok := l.cfg.Projects[projectID]; ok {
		if p.Daily > 0 {
			limits.Daily = p.Daily
		}
		if p.Monthly > 0 {
			limits.Monthly = p.Monthly
		}
	}
	return limits
}

// CheckBudget reports whether estimatedCost fits within the project's
// remaining budget. Requests without a project are always allowed. Any
// internal failure allows the request and sets FailOpen.
func (l *Ledger) CheckBudget(ctx context.Context, projectID *string, estimatedCost float64) *CheckResult {
	if projectID == nil || *projectID == "" {
		return &CheckResult{Allowed: true}
	}

	project := *projectID
	limits := l.LimitsFor(project)
	now := l.now()

	result := &CheckResult{
		Allowed:      true,
		DailyLimit:   limits.Daily,
		MonthlyLimit: limits.Monthly,
	}

	dailySpend, err := l.spend(ctx, project, PeriodDaily, now)
	if err != nil {
		return l.failOpen(result, project, err)
	}
	result.DailySpend = dailySpend

	if dailySpend+estimatedCost > limits.Daily {
		return l.deny(result, PeriodDaily, limits.Daily, dailySpend, estimatedCost)
	}

	monthlySpend, err := l.spend(ctx, project, PeriodMonthly, now)
	if err != nil {
		return l.failOpen(result, project, err)
	}
	result.MonthlySpend = monthlySpend

	if monthlySpend+estimatedCost > limits.Monthly {
		return l.deny(result, PeriodMonthly, limits.Monthly, monthlySpend, estimatedCost)
	}

	return result
}

func (l *Ledger) deny(result *CheckResult, period Period, limit, spend, cost float64) *CheckResult {
	result.Allowed = false
	result.ViolatedPeriod = period
	result.Limit = limit
	result.CurrentSpend = spend
	result.Reason = fmt.Sprintf("would exceed %s budget of %.2f (current: %.2f, request: %.4f)",
		period, limit, spend, cost)
	return result
}

func (l *Ledger) failOpen(result *CheckResult, project string, err error) *CheckResult {
	l.logger.Warn("budget check failed, allowing request",
		zap.String("project_id", project),
		zap.Error(err))
	result.Allowed = true
	result.FailOpen = true
	return result
}

// Snapshot returns the project's spend and limits for the policy input.
// Lookup failures report zero spend.
func (l *Ledger) Snapshot(ctx context.Context, projectID *string) Snapshot {
	if projectID == nil || *projectID == "" {
		return Snapshot{DailyLimit: l.cfg.DefaultDaily, MonthlyLimit: l.cfg.DefaultMonthly}
	}

	project := *projectID
	limits := l.LimitsFor(project)
	now := l.now()
	snap := Snapshot{DailyLimit: limits.Daily, MonthlyLimit: limits.Monthly}

	var err error
	if snap.DailySpend, err = l.spend(ctx, project, PeriodDaily, now); err != nil {
		l.logger.Warn("failed to read daily spend", zap.String("project_id", project), zap.Error(err))
	}
	if snap.MonthlySpend, err = l.spend(ctx, project, PeriodMonthly, now); err != nil {
		l.logger.Warn("failed to read monthly spend", zap.String("project_id", project), zap.Error(err))
	}
	return snap
}

// RecordUsage appends the record and, when it was not a duplicate, adds its
// cost to any cached period totals.
func (l *Ledger) RecordUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}

	if rec.ProjectID == nil || *rec.ProjectID == "" {
		if _, err := l.usage.Insert(ctx, rec); err != nil {
			return fmt.Errorf("failed to record usage: %w", err)
		}
		return nil
	}

	project := *rec.ProjectID
	// periods are cut in the ledger's zone, whatever zone the record carries
	at := rec.CreatedAt.In(l.now().Location())
	dailyKey := CacheKey(PeriodDaily, project, at)
	monthlyKey := CacheKey(PeriodMonthly, project, at)

	// daily before monthly everywhere; CheckBudget never holds both
	unlockDaily := l.locks.Lock(dailyKey)
	defer unlockDaily()
	unlockMonthly := l.locks.Lock(monthlyKey)
	defer unlockMonthly()

	inserted, err := l.usage.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	if !inserted {
		l.logger.Debug("usage already recorded", zap.String("request_id", rec.RequestID))
		return nil
	}

	l.incrementCached(ctx, dailyKey, rec.Cost)
	l.incrementCached(ctx, monthlyKey, rec.Cost)

	l.logger.Info("usage recorded",
		zap.String("request_id", rec.RequestID),
		zap.String("project_id", project),
		zap.Float64("cost", rec.Cost))
	return nil
}

// incrementCached adds cost to an existing cached total. Absent totals are
// left for the next read to recompute.
func (l *Ledger) incrementCached(ctx context.Context, key string, cost float64) {
	if l.store == nil {
		return
	}
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		if !kvstore.IsNotFound(err) {
			l.logger.Warn("failed to read spend cache", zap.String("key", key), zap.Error(err))
		}
		return
	}
	current, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		l.dropCached(ctx, key)
		return
	}
	if err := l.store.SetWithTTL(ctx, key, formatSpend(current+cost), l.cfg.CacheTTL); err != nil {
		l.logger.Warn("failed to update spend cache", zap.String("key", key), zap.Error(err))
		l.dropCached(ctx, key)
	}
}

func (l *Ledger) dropCached(ctx context.Context, key string) {
	if err := l.store.Delete(ctx, key); err != nil && !kvstore.IsNotFound(err) {
		l.logger.Warn("failed to drop spend cache entry", zap.String("key", key), zap.Error(err))
	}
}

// spend returns the period total for project, reading through the cache
func (l *Ledger) spend(ctx context.Context, project string, period Period, now time.Time) (float64, error) {
	key := CacheKey(period, project, now)
	unlock := l.locks.Lock(key)
	defer unlock()

	if l.store != nil {
		raw, err := l.store.Get(ctx, key)
		switch {
		case err == nil:
			if v, perr := strconv.ParseFloat(string(raw), 64); perr == nil {
				return v, nil
			}
			l.dropCached(ctx, key)
		case !kvstore.IsNotFound(err):
			l.logger.Warn("spend cache unavailable", zap.String("key", key), zap.Error(err))
		}
	}

	total, err := l.usage.SumCostSince(ctx, project, PeriodStart(period, now))
	if err != nil {
		return 0, err
	}

	if l.store != nil {
		if err := l.store.SetWithTTL(ctx, key, formatSpend(total), l.cfg.CacheTTL); err != nil {
			l.logger.Warn("failed to cache spend", zap.String("key", key), zap.Error(err))
		}
	}
	return total, nil
}

// CacheKey returns the spend-cache key for a project and period
func CacheKey(period Period, project string, at time.Time) string {
	return "budget:" + string(period) + ":" + project + ":" + PeriodKey(period, at)
}

// PeriodKey returns a unique key for a time period
func PeriodKey(period Period, at time.Time) string {
	switch period {
	case PeriodMonthly:
		return at.Format("2006-01")
	default:
		return at.Format("2006-01-02")
	}
}

// PeriodStart returns local midnight for daily and the first of the month
// for monthly
func PeriodStart(period Period, at time.Time) time.Time {
	y, m, d := at.Date()
	if period == PeriodMonthly {
		d = 1
	}
	return time.Date(y, m, d, 0, 0, 0, 0, at.Location())
}

func formatSpend(v float64) []byte {
	return []byte(strconv.FormatFloat(v, 'f', -1, 64))
}

// GetProjectSpend returns a project's spend over the trailing days
func (l *Ledger) GetProjectSpend(ctx context.Context, projectID string, days int) (*models.ProjectSpend, error) {
	if days <= 0 {
		days = 30
	}
	records, err := l.usage.ListByProject(ctx, projectID, l.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("failed to get project spend: %w", err)
	}

	summary := &models.ProjectSpend{
		ProjectID:  projectID,
		PeriodDays: days,
		DailySpend: make(map[string]float64),
	}
	for _, r := range records {
		summary.TotalSpend += r.Cost
		summary.TotalRequests++
		summary.DailySpend[r.CreatedAt.In(l.now().Location()).Format("2006-01-02")] += r.Cost
	}
	return summary, nil
}

// GetUserSpend returns a user's spend over the trailing days
func (l *Ledger) GetUserSpend(ctx context.Context, userID string, days int) (*models.UserSpend, error) {
	if days <= 0 {
		days = 30
	}
	records, err := l.usage.ListByUser(ctx, userID, l.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("failed to get user spend: %w", err)
	}

	summary := &models.UserSpend{
		UserID:        userID,
		PeriodDays:    days,
		ProviderSpend: make(map[string]float64),
		ModelSpend:    make(map[string]float64),
	}
	for _, r := range records {
		summary.TotalSpend += r.Cost
		summary.TotalRequests++
		summary.ProviderSpend[r.Provider] += r.Cost
		summary.ModelSpend[r.Model] += r.Cost
	}
	return summary, nil
}

// CleanupOldData removes usage records older than retention
func (l *Ledger) CleanupOldData(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention)
	n, err := l.usage.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old usage data: %w", err)
	}

	l.logger.Info("cleaned up old usage data",
		zap.Int64("rows_deleted", n),
		zap.Time("cutoff_date", cutoff))
	return n, nil
}

// StartCleanupWorker periodically removes old usage data until ctx is done
func (l *Ledger) StartCleanupWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("started usage cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			if _, err := l.CleanupOldData(ctx, retention); err != nil {
				l.logger.Error("failed to cleanup old usage data", zap.Error(err))
			}
		case <-ctx.Done():
			l.logger.Info("stopping usage cleanup worker")
			return
		}
	}
}
