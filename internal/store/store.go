package store

import (
	"context"
	"time"

	"github.com/sells-group/driftwatch/internal/model"
)

// CheckFilter specifies criteria for listing drift check runs.
type CheckFilter struct {
	Status model.CheckStatus `json:"status,omitempty"`
	Since  time.Time         `json:"since,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// Store defines the persistence interface for the drift monitor: the
// append-only event log, the daily metric series, model importance tables,
// baseline feature snapshots, and the check runs themselves.
type Store interface {
	// Check runs
	CreateCheck(ctx context.Context, anchor time.Time) (*model.CheckRun, error)
	UpdateCheckStatus(ctx context.Context, checkID string, status model.CheckStatus) error
	CompleteCheck(ctx context.Context, check *model.CheckRun) error
	FailCheck(ctx context.Context, checkID string, cause string) error
	GetCheck(ctx context.Context, checkID string) (*model.CheckRun, error)
	ListChecks(ctx context.Context, filter CheckFilter) ([]model.CheckRun, error)

	// Event log. AppendEvents preserves insertion order so that
	// same-timestamp events replay deterministically.
	AppendEvents(ctx context.Context, events []model.EventRecord) (int64, error)
	EventLog(ctx context.Context, from, to time.Time) ([]model.EventRecord, error)

	// Metric series. UpsertMetricPoints replaces re-evaluated dates.
	UpsertMetricPoints(ctx context.Context, metric string, points []model.MetricPoint) (int64, error)
	MetricBefore(ctx context.Context, metric string, anchor time.Time, limit int) ([]model.MetricPoint, error)
	MetricAt(ctx context.Context, metric string, date time.Time) (*model.MetricPoint, error)

	// Feature importance, keyed by model version.
	SaveImportance(ctx context.Context, modelVersion string, features []model.FeatureImportance) error
	LatestImportance(ctx context.Context) ([]model.FeatureImportance, error)

	// Baseline snapshots: the per-feature samples a check compares against.
	SaveSnapshot(ctx context.Context, tag string, dists []model.FeatureDistribution) error
	GetSnapshot(ctx context.Context, tag string) ([]model.FeatureDistribution, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
