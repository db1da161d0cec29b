package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/driftwatch/internal/model"
	"github.com/sells-group/driftwatch/internal/store"
)

// Config tunes health monitoring over the drift-check history.
type Config struct {
	// WebhookURL receives alert payloads as JSON POSTs. Empty disables delivery.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`

	// FailureRateThreshold is the check failure fraction above which an alert
	// fires, once at least minFinishedChecks checks have finished.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`

	// StaleAfterHours alerts when no check has completed within this many
	// hours. Zero disables the staleness alert.
	StaleAfterHours int `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`

	CheckIntervalSecs   int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// MetricsSnapshot holds a point-in-time view of drift-check health.
type MetricsSnapshot struct {
	// Check runs within the lookback window.
	ChecksTotal    int     `json:"checks_total"`
	ChecksComplete int     `json:"checks_complete"`
	ChecksFailed   int     `json:"checks_failed"`
	ChecksRunning  int     `json:"checks_running"`
	CheckFailRate  float64 `json:"check_fail_rate"`

	// Verdicts within the lookback window.
	RetrainVerdicts int            `json:"retrain_verdicts"`
	StrongVerdicts  int            `json:"strong_verdicts"`
	LatestSeverity  model.Severity `json:"latest_severity,omitempty"`
	LatestDecision  model.Decision `json:"latest_decision,omitempty"`

	// LastCompletedAt is the most recent completed check regardless of the
	// lookback window. Zero when no check has ever completed.
	LastCompletedAt time.Time `json:"last_completed_at,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers health metrics from the check store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of check health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	checks, err := c.store.ListChecks(ctx, store.CheckFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list checks")
	}

	snap.ChecksTotal = len(checks)
	for _, run := range checks {
		switch run.Status {
		case model.CheckStatusComplete:
			snap.ChecksComplete++
		case model.CheckStatusFailed:
			snap.ChecksFailed++
		case model.CheckStatusRunning:
			snap.ChecksRunning++
		}
		if run.Verdict == nil {
			continue
		}
		if run.Verdict.Decision == model.DecisionRetrain {
			snap.RetrainVerdicts++
		}
		if run.Verdict.Severity == model.SeverityStrong {
			snap.StrongVerdicts++
		}
	}

	finished := snap.ChecksComplete + snap.ChecksFailed
	if finished > 0 {
		snap.CheckFailRate = float64(snap.ChecksFailed) / float64(finished)
	}

	// Latest completed check, unconstrained by the window, for staleness and
	// the current standing verdict.
	latest, err := c.store.ListChecks(ctx, store.CheckFilter{
		Status: model.CheckStatusComplete,
		Limit:  1,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest check")
	}
	if len(latest) > 0 {
		snap.LastCompletedAt = latest[0].UpdatedAt
		if latest[0].Verdict != nil {
			snap.LatestSeverity = latest[0].Verdict.Severity
			snap.LatestDecision = latest[0].Verdict.Decision
		}
	}

	return snap, nil
}
