package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"wms/internal/settings"
	audit "wms/pkg/platform/audit"
)

// DefaultRetentionDays applies when AUDIT_RETENTION_DAYS is absent or invalid.
const DefaultRetentionDays = 90

// RetentionJob removes audit entries older than the configured window.
// Running it twice with the same clock deletes nothing the second time.
type RetentionJob struct {
	store       audit.Store
	source      settings.Source
	defaultDays int
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
}

// RetentionOption configures a RetentionJob.
type RetentionOption func(*RetentionJob)

// WithDefaultDays overrides DefaultRetentionDays.
func WithDefaultDays(days int) RetentionOption {
	return func(j *RetentionJob) {
		if days > 0 {
			j.defaultDays = days
		}
	}
}

// WithRetentionLogger sets the job logger.
func WithRetentionLogger(logger *slog.Logger) RetentionOption {
	return func(j *RetentionJob) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithRetentionMetrics enables Prometheus metrics.
func WithRetentionMetrics(m *Metrics) RetentionOption {
	return func(j *RetentionJob) { j.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RetentionOption {
	return func(j *RetentionJob) {
		if now != nil {
			j.now = now
		}
	}
}

// NewRetentionJob creates the job. source is read once per run.
func NewRetentionJob(store audit.Store, source settings.Source, opts ...RetentionOption) *RetentionJob {
	j := &RetentionJob{
		store:       store,
		source:      source,
		defaultDays: DefaultRetentionDays,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *RetentionJob) Name() string { return "audit-retention" }

// Run purges with the current time.
func (j *RetentionJob) Run(ctx context.Context) error {
	return j.RunAt(ctx, j.now())
}

// RunAt purges entries that occurred before now minus the retention window.
// Exported for testability; the scheduler passes wall-clock time.
func (j *RetentionJob) RunAt(ctx context.Context, now time.Time) error {
	days := j.retentionDays(ctx)
	cutoff := now.UTC().AddDate(0, 0, -days)

	deleted, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "audit retention failed",
			"retention_days", days,
			"cutoff", cutoff,
			"deleted", deleted,
			"error", err,
		)
		if j.metrics != nil {
			j.metrics.PurgedTotal.Add(float64(deleted))
		}
		return fmt.Errorf("purge audit entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if j.metrics != nil {
		j.metrics.PurgedTotal.Add(float64(deleted))
		j.metrics.RetentionDays.Set(float64(days))
	}
	j.logger.InfoContext(ctx, "audit retention completed",
		"retention_days", days,
		"cutoff", cutoff,
		"deleted", deleted,
	)
	return nil
}

// retentionDays reads the window, falling back to the default with a warning
// when the setting is unreadable, absent, not an integer or not positive.
func (j *RetentionJob) retentionDays(ctx context.Context) int {
	raw, found, err := j.source.Get(ctx, settings.RetentionDaysKey)
	if err != nil {
		j.logger.WarnContext(ctx, "could not read retention setting, using default",
			"key", settings.RetentionDaysKey,
			"default_days", j.defaultDays,
			"error", err,
		)
		return j.defaultDays
	}
	if !found {
		j.logger.WarnContext(ctx, "retention setting not configured, using default",
			"key", settings.RetentionDaysKey,
			"default_days", j.defaultDays,
		)
		return j.defaultDays
	}
	days, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || days <= 0 {
		j.logger.WarnContext(ctx, "invalid retention setting, using default",
			"key", settings.RetentionDaysKey,
			"value", raw,
			"default_days", j.defaultDays,
		)
		return j.defaultDays
	}
	return days
}
