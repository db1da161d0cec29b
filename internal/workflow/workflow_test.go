package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/sells-group/driftwatch/internal/concept"
	"github.com/sells-group/driftwatch/internal/decision"
	"github.com/sells-group/driftwatch/internal/model"
	"github.com/sells-group/driftwatch/internal/stability"
	"github.com/sells-group/driftwatch/internal/store"
	"github.com/sells-group/driftwatch/internal/train"
	"github.com/sells-group/driftwatch/internal/window"
)

var testAnchor = time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DriftCheckWorkflow)
	env.RegisterWorkflow(RetrainWorkflow)
	return env
}

func mockHappyPath(env *testsuite.TestWorkflowEnvironment, a *Activities, verdict model.DriftVerdict) {
	env.OnActivity(a.BeginCheck, mock.Anything, testAnchor).Return("check-1", nil)
	env.OnActivity(a.ComputeDriftScores, mock.Anything, mock.Anything).
		Return([]model.DriftScore{{Feature: "total_events", StabilityIndex: 0.31, Buckets: 10}}, nil)
	env.OnActivity(a.ComputeConceptRecord, mock.Anything, testAnchor).
		Return(model.ConceptDriftRecord{AnchorDate: testAnchor}, nil)
	env.OnActivity(a.DecideVerdict, mock.Anything, mock.Anything).Return(verdict, nil)
	env.OnActivity(a.PersistCheck, mock.Anything, mock.Anything).Return(nil)
}

func TestDriftCheckWorkflow_RetrainOnStrong(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	mockHappyPath(env, a, model.DriftVerdict{
		Severity: model.SeverityStrong,
		Decision: model.DecisionRetrain,
	})
	env.OnActivity(a.RetrainAndEvaluate, mock.Anything, RetrainRequest{Anchor: testAnchor}).
		Return(&RetrainResult{TrainingWindows: 12, Features: 3}, nil)

	env.ExecuteWorkflow(DriftCheckWorkflow, CheckRequest{Anchor: testAnchor})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result CheckResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "check-1", result.CheckID)
	assert.True(t, result.Retrained)
	env.AssertExpectations(t)
}

func TestDriftCheckWorkflow_SkipDoesNotRetrain(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	mockHappyPath(env, a, model.DriftVerdict{
		Severity: model.SeverityWeak,
		Decision: model.DecisionSkip,
	})

	env.ExecuteWorkflow(DriftCheckWorkflow, CheckRequest{Anchor: testAnchor})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result CheckResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.False(t, result.Retrained)
	assert.Equal(t, model.DecisionSkip, result.Verdict.Decision)
	env.AssertNotCalled(t, "RetrainAndEvaluate", mock.Anything, mock.Anything)
}

func TestDriftCheckWorkflow_FailureMarksCheckFailed(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	env.OnActivity(a.BeginCheck, mock.Anything, testAnchor).Return("check-1", nil)
	env.OnActivity(a.ComputeDriftScores, mock.Anything, mock.Anything).
		Return(nil, errors.New("no baseline snapshot"))
	env.OnActivity(a.FailCheck, mock.Anything, mock.MatchedBy(func(in FailInput) bool {
		return in.CheckID == "check-1" && in.Cause != ""
	})).Return(nil)

	env.ExecuteWorkflow(DriftCheckWorkflow, CheckRequest{Anchor: testAnchor})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

// End-to-end against a real sqlite store: strong recall degradation forces
// RETRAIN, and the retrain child rebuilds the baseline snapshot.
func TestDriftCheckWorkflow_EndToEnd(t *testing.T) {
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "wf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	// Five days of activity for two entities; only u1 converts.
	day := func(d int, hour int) time.Time {
		return time.Date(2026, 8, d, hour, 0, 0, 0, time.UTC)
	}
	var events []model.EventRecord
	for d := 1; d <= 5; d++ {
		events = append(events,
			model.EventRecord{EntityID: "u1", Type: "view_item", Timestamp: day(d, 10)},
			model.EventRecord{EntityID: "u2", Type: "view_item", Timestamp: day(d, 11)},
		)
	}
	events = append(events, model.EventRecord{EntityID: "u1", Type: "purchase", Timestamp: day(4, 12)})
	_, err = st.AppendEvents(ctx, events)
	require.NoError(t, err)

	require.NoError(t, st.SaveSnapshot(ctx, "baseline", []model.FeatureDistribution{
		{Feature: "total_events", Sample: []float64{1, 2, 3}},
	}))
	require.NoError(t, st.SaveImportance(ctx, "v1", []model.FeatureImportance{
		{Feature: "total_events", Importance: 1.0},
	}))

	// Healthy history, bad anchor day: degradation 0.4 crosses the strong
	// floor.
	v6, v2 := 0.6, 0.2
	_, err = st.UpsertMetricPoints(ctx, "recall_at_k", []model.MetricPoint{
		{Date: day(3, 0), Value: &v6},
		{Date: day(4, 0), Value: &v6},
		{Date: day(5, 0), Value: &v6},
		{Date: day(6, 0), Value: &v2},
	})
	require.NoError(t, err)

	a, err := NewActivities(st, train.CentroidFitter{},
		window.Config{ObservationDays: 2, PredictionDays: 1, TargetEvent: "purchase"},
		stability.Config{Buckets: 2},
		concept.DefaultConfig(),
		decision.DefaultConfig(),
		DefaultConfig(),
	)
	require.NoError(t, err)

	env := newTestEnv(t)
	env.RegisterActivity(a)

	env.ExecuteWorkflow(DriftCheckWorkflow, CheckRequest{Anchor: testAnchor})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result CheckResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, model.DecisionRetrain, result.Verdict.Decision)
	assert.True(t, result.Retrained)

	// The check run is persisted complete with its evidence.
	check, err := st.GetCheck(ctx, result.CheckID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckStatusComplete, check.Status)
	require.NotNil(t, check.Concept)
	assert.InDelta(t, 0.4, check.Concept.RecallDegradation.Value, 1e-9)
	require.NotNil(t, check.Verdict)
	assert.NotEmpty(t, check.Verdict.Signals)

	// Retrain rewrote the baseline snapshot from real windows.
	snap, err := st.GetSnapshot(ctx, "baseline")
	require.NoError(t, err)
	features := make([]string, 0, len(snap))
	for _, d := range snap {
		features = append(features, d.Feature)
	}
	assert.Contains(t, features, "view_item_count")
	assert.Contains(t, features, "total_events")
}
