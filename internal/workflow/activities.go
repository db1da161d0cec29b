package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/driftwatch/internal/concept"
	"github.com/sells-group/driftwatch/internal/decision"
	"github.com/sells-group/driftwatch/internal/evaluate"
	"github.com/sells-group/driftwatch/internal/model"
	"github.com/sells-group/driftwatch/internal/stability"
	"github.com/sells-group/driftwatch/internal/store"
	"github.com/sells-group/driftwatch/internal/train"
	"github.com/sells-group/driftwatch/internal/window"
)

// Config tunes the drift-check activities.
type Config struct {
	// SnapshotTag names the baseline snapshot the comparator reads and the
	// retrain flow rewrites.
	SnapshotTag string `yaml:"snapshot_tag" mapstructure:"snapshot_tag"`
	// Metric is the prediction-quality series the concept estimator reads.
	Metric string `yaml:"metric" mapstructure:"metric"`
	// LabelRateMetric is the daily positive-rate series.
	LabelRateMetric string `yaml:"label_rate_metric" mapstructure:"label_rate_metric"`
	// CurrentPeriodDays bounds the event-log slice the current
	// distributions are built from, counted back from the anchor.
	CurrentPeriodDays int `yaml:"current_period_days" mapstructure:"current_period_days"`
	// TopK is the selection size for recall@K during evaluation.
	TopK int `yaml:"top_k" mapstructure:"top_k"`
	// Parallelism caps concurrent per-feature comparisons.
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism"`
}

// DefaultConfig returns the activity defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotTag:       "baseline",
		Metric:            "recall_at_k",
		LabelRateMetric:   "label_rate",
		CurrentPeriodDays: 14,
		TopK:              100,
		Parallelism:       8,
	}
}

// Validate fills zero values with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.SnapshotTag == "" {
		c.SnapshotTag = def.SnapshotTag
	}
	if c.Metric == "" {
		c.Metric = def.Metric
	}
	if c.LabelRateMetric == "" {
		c.LabelRateMetric = def.LabelRateMetric
	}
	if c.CurrentPeriodDays == 0 {
		c.CurrentPeriodDays = def.CurrentPeriodDays
	}
	if c.TopK == 0 {
		c.TopK = def.TopK
	}
	if c.Parallelism == 0 {
		c.Parallelism = def.Parallelism
	}
	if c.CurrentPeriodDays < 0 || c.TopK < 0 || c.Parallelism < 0 {
		return eris.New("workflow: negative tunable in activity config")
	}
	return nil
}

// Activities hosts the worker-side implementation of both workflows. The
// fitted model lives on the struct between a retrain and the checks that
// follow it; it is worker-local state, not workflow state.
type Activities struct {
	Store     store.Store
	Window    window.Config
	Stability stability.Config
	Concept   concept.Config
	Decision  decision.Config
	Fitter    train.Fitter
	Cfg       Config

	mu           sync.RWMutex
	model        train.Model
	featureNames []string
}

// NewActivities validates the component configs once so activity invocations
// cannot fail on configuration mid-run.
func NewActivities(st store.Store, fitter train.Fitter, winCfg window.Config, stabCfg stability.Config, conCfg concept.Config, decCfg decision.Config, cfg Config) (*Activities, error) {
	if err := winCfg.Validate(); err != nil {
		return nil, err
	}
	if err := stabCfg.Validate(); err != nil {
		return nil, err
	}
	if err := decCfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Activities{
		Store:     st,
		Window:    winCfg,
		Stability: stabCfg,
		Concept:   conCfg,
		Decision:  decCfg,
		Fitter:    fitter,
		Cfg:       cfg,
	}, nil
}

// BeginCheck records a new check run and marks it running.
func (a *Activities) BeginCheck(ctx context.Context, anchor time.Time) (string, error) {
	check, err := a.Store.CreateCheck(ctx, anchor)
	if err != nil {
		return "", err
	}
	if err := a.Store.UpdateCheckStatus(ctx, check.ID, model.CheckStatusRunning); err != nil {
		return "", err
	}
	return check.ID, nil
}

// ComputeDriftScores compares the baseline snapshot against distributions
// rebuilt from the recent event log, one stability index per feature.
// Features with a degenerate baseline come back undecidable, not zero.
func (a *Activities) ComputeDriftScores(ctx context.Context, req CheckRequest) ([]model.DriftScore, error) {
	baseline, err := a.Store.GetSnapshot(ctx, a.Cfg.SnapshotTag)
	if err != nil {
		return nil, err
	}
	if len(baseline) == 0 {
		return nil, eris.Errorf("workflow: no baseline snapshot %q", a.Cfg.SnapshotTag)
	}
	baseByFeature := make(map[string]model.FeatureDistribution, len(baseline))
	for _, d := range baseline {
		baseByFeature[d.Feature] = d
	}

	current, err := a.currentDistributions(ctx, req.Anchor)
	if err != nil {
		return nil, err
	}

	features := req.Features
	if len(features) == 0 {
		for _, d := range baseline {
			features = append(features, d.Feature)
		}
		sort.Strings(features)
	}

	// Per-feature comparison is independent work.
	scores := make([]model.DriftScore, len(features))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Cfg.Parallelism)
	for i, feature := range features {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			base, ok := baseByFeature[feature]
			if !ok {
				return eris.Errorf("workflow: feature %q missing from baseline snapshot", feature)
			}
			score, err := stability.Compare(base,
				model.FeatureDistribution{Feature: feature, Sample: current[feature]},
				a.Stability)
			if err != nil {
				return err
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// ComputeConceptRecord assembles the prediction-quality signals for the
// anchor date. Missing series or a missing model degrade to undefined
// measures rather than failing the check.
func (a *Activities) ComputeConceptRecord(ctx context.Context, anchor time.Time) (model.ConceptDriftRecord, error) {
	metrics, err := a.metricSeries(ctx, a.Cfg.Metric, anchor)
	if err != nil {
		return model.ConceptDriftRecord{}, err
	}
	labelRates, err := a.metricSeries(ctx, a.Cfg.LabelRateMetric, anchor)
	if err != nil {
		return model.ConceptDriftRecord{}, err
	}

	pairs, err := a.anchorPairs(ctx, anchor)
	if err != nil {
		return model.ConceptDriftRecord{}, err
	}

	est := concept.New(a.Concept)
	return est.Check(anchor, metrics, pairs, labelRates), nil
}

// DecideInput carries both signal families into the decision activity.
type DecideInput struct {
	Scores  []model.DriftScore       `json:"scores"`
	Concept model.ConceptDriftRecord `json:"concept"`
}

// DecideVerdict runs the decision engine against the latest importance table.
func (a *Activities) DecideVerdict(ctx context.Context, in DecideInput) (model.DriftVerdict, error) {
	importance, err := a.Store.LatestImportance(ctx)
	if err != nil {
		return model.DriftVerdict{}, err
	}

	engine, err := decision.New(a.Decision)
	if err != nil {
		return model.DriftVerdict{}, err
	}
	verdict := engine.Decide(in.Scores, importance, &in.Concept)

	zap.L().Info("drift verdict",
		zap.String("severity", string(verdict.Severity)),
		zap.String("decision", string(verdict.Decision)),
		zap.Bool("insufficient_evidence", verdict.InsufficientEvidence))
	return verdict, nil
}

// PersistInput carries a finished check into the store.
type PersistInput struct {
	CheckID string                   `json:"check_id"`
	Scores  []model.DriftScore       `json:"scores"`
	Concept model.ConceptDriftRecord `json:"concept"`
	Verdict model.DriftVerdict       `json:"verdict"`
}

// PersistCheck stores the finished check run.
func (a *Activities) PersistCheck(ctx context.Context, in PersistInput) error {
	return a.Store.CompleteCheck(ctx, &model.CheckRun{
		ID:      in.CheckID,
		Scores:  in.Scores,
		Concept: &in.Concept,
		Verdict: &in.Verdict,
	})
}

// FailInput marks a check failed with its cause.
type FailInput struct {
	CheckID string `json:"check_id"`
	Cause   string `json:"cause"`
}

// FailCheck marks a check run failed.
func (a *Activities) FailCheck(ctx context.Context, in FailInput) error {
	return a.Store.FailCheck(ctx, in.CheckID, in.Cause)
}

// RetrainResult summarizes one retrain pass.
type RetrainResult struct {
	TrainingWindows int      `json:"training_windows"`
	Features        int      `json:"features"`
	RecallAtK       *float64 `json:"recall_at_k,omitempty"`
	LabelRate       *float64 `json:"label_rate,omitempty"`
}

// RetrainAndEvaluate rebuilds the labeled training set from the full event
// log up to the anchor, fits a fresh model, evaluates it, appends the day's
// metric points, and rewrites the baseline snapshot the next checks compare
// against.
func (a *Activities) RetrainAndEvaluate(ctx context.Context, req RetrainRequest) (*RetrainResult, error) {
	events, err := a.Store.EventLog(ctx, time.Time{}, req.Anchor)
	if err != nil {
		return nil, err
	}

	// Only fully labeled windows train the model.
	winCfg := a.Window
	winCfg.DropPartial = true
	builder, err := window.New(winCfg)
	if err != nil {
		return nil, err
	}
	windows, err := builder.Build(events)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, eris.New("workflow: no complete training windows before anchor")
	}

	names := train.FeatureNames(windows)
	features, labels := train.Matrix(windows, names)

	fitted, err := a.Fitter.Fit(ctx, features, labels)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.model = fitted
	a.featureNames = names
	a.mu.Unlock()

	scored, positives := scoreWindows(fitted, windows, names)
	recall := evaluate.RecallAtK(scored, positives, a.Cfg.TopK)
	labelRate := evaluate.PositiveRate(labels)

	anchorDay := req.Anchor.UTC().Truncate(24 * time.Hour)
	if _, err := a.Store.UpsertMetricPoints(ctx, a.Cfg.Metric,
		[]model.MetricPoint{{Date: anchorDay, Value: recall.Float()}}); err != nil {
		return nil, err
	}
	if _, err := a.Store.UpsertMetricPoints(ctx, a.Cfg.LabelRateMetric,
		[]model.MetricPoint{{Date: anchorDay, Value: labelRate.Float()}}); err != nil {
		return nil, err
	}

	if err := a.Store.SaveSnapshot(ctx, a.Cfg.SnapshotTag, distributions(windows, names)); err != nil {
		return nil, err
	}

	zap.L().Info("retrain complete",
		zap.Int("windows", len(windows)),
		zap.Int("features", len(names)))
	return &RetrainResult{
		TrainingWindows: len(windows),
		Features:        len(names),
		RecallAtK:       recall.Float(),
		LabelRate:       labelRate.Float(),
	}, nil
}

// currentDistributions rebuilds per-feature samples from windows over the
// recent event log.
func (a *Activities) currentDistributions(ctx context.Context, anchor time.Time) (map[string][]float64, error) {
	lookback := a.Cfg.CurrentPeriodDays + a.Window.ObservationDays + a.Window.PredictionDays
	from := anchor.AddDate(0, 0, -lookback)

	events, err := a.Store.EventLog(ctx, from, anchor)
	if err != nil {
		return nil, err
	}
	builder, err := window.New(a.Window)
	if err != nil {
		return nil, err
	}
	windows, err := builder.Build(events)
	if err != nil {
		if eris.Is(err, window.ErrEmptyLog) {
			return map[string][]float64{}, nil
		}
		return nil, err
	}

	current := make(map[string][]float64)
	for _, w := range windows {
		for name, v := range w.Features {
			current[name] = append(current[name], v)
		}
	}
	return current, nil
}

// metricSeries loads the pre-anchor history plus the anchor-day point.
func (a *Activities) metricSeries(ctx context.Context, metric string, anchor time.Time) ([]model.MetricPoint, error) {
	series, err := a.Store.MetricBefore(ctx, metric, anchor, a.Concept.BaselineLookback)
	if err != nil {
		return nil, err
	}
	at, err := a.Store.MetricAt(ctx, metric, anchor)
	if err != nil {
		return nil, err
	}
	if at != nil {
		series = append(series, *at)
	}
	return series, nil
}

// anchorPairs scores the anchor-day cohort with the current model. Without
// a fitted model there is no score to correlate and the signal stays
// undefined.
func (a *Activities) anchorPairs(ctx context.Context, anchor time.Time) ([]concept.Pair, error) {
	a.mu.RLock()
	fitted := a.model
	names := a.featureNames
	a.mu.RUnlock()
	if fitted == nil {
		return nil, nil
	}

	lookback := a.Cfg.CurrentPeriodDays + a.Window.ObservationDays + a.Window.PredictionDays
	events, err := a.Store.EventLog(ctx, anchor.AddDate(0, 0, -lookback), anchor)
	if err != nil {
		return nil, err
	}

	winCfg := a.Window
	winCfg.DropPartial = true
	builder, err := window.New(winCfg)
	if err != nil {
		return nil, err
	}
	windows, err := builder.Build(events)
	if err != nil {
		if eris.Is(err, window.ErrEmptyLog) {
			return nil, nil
		}
		return nil, err
	}

	scored, _ := scoreWindows(fitted, windows, names)
	labels := make(map[string]int, len(windows))
	for _, w := range windows {
		labels[w.EntityID] = max(labels[w.EntityID], w.Label)
	}
	return evaluate.Pairs(scored, labels), nil
}

// scoreWindows produces one score per entity (its latest window) and the
// positive-label set.
func scoreWindows(fitted train.Model, windows []model.ObservationWindow, names []string) ([]model.ScoredEntity, map[string]bool) {
	latest := make(map[string]model.ObservationWindow, len(windows))
	positives := make(map[string]bool)
	for _, w := range windows {
		prev, ok := latest[w.EntityID]
		if !ok || w.ObservationEnd.After(prev.ObservationEnd) {
			latest[w.EntityID] = w
		}
		if w.Label == 1 {
			positives[w.EntityID] = true
		}
	}

	scored := make([]model.ScoredEntity, 0, len(latest))
	for entity, w := range latest {
		row := make([]float64, len(names))
		for j, name := range names {
			row[j] = w.Features[name]
		}
		scored = append(scored, model.ScoredEntity{EntityID: entity, Score: fitted.Score(row)})
	}
	return scored, positives
}

// distributions collects per-feature samples from the training windows for
// the baseline snapshot.
func distributions(windows []model.ObservationWindow, names []string) []model.FeatureDistribution {
	byFeature := make(map[string][]float64, len(names))
	for _, w := range windows {
		for _, name := range names {
			byFeature[name] = append(byFeature[name], w.Features[name])
		}
	}

	dists := make([]model.FeatureDistribution, 0, len(names))
	for _, name := range names {
		dists = append(dists, model.FeatureDistribution{Feature: name, Sample: byFeature[name]})
	}
	return dists
}
