// Package workflow sequences drift checks and retrains on Temporal. The
// workflows hold no domain logic beyond ordering and branching on the
// verdict; everything numeric happens in the activities.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/driftwatch/internal/model"
)

// TaskQueue is the Temporal task queue both workflows run on.
const TaskQueue = "driftwatch"

// CheckRequest starts a drift check. An empty Features list checks every
// feature in the baseline snapshot.
type CheckRequest struct {
	Anchor   time.Time `json:"anchor"`
	Features []string  `json:"features,omitempty"`
}

// CheckResult is the workflow's outcome.
type CheckResult struct {
	CheckID   string             `json:"check_id"`
	Verdict   model.DriftVerdict `json:"verdict"`
	Retrained bool               `json:"retrained"`
}

// RetrainRequest starts a retrain pass anchored at a date.
type RetrainRequest struct {
	Anchor time.Time `json:"anchor"`
}

// DriftCheckWorkflow runs one scheduled drift check: record the run, score
// the feature distributions, assemble the concept record, decide, persist,
// and retrain as a child workflow when the verdict says so.
func DriftCheckWorkflow(ctx workflow.Context, req CheckRequest) (*CheckResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})
	logger := workflow.GetLogger(ctx)

	var a *Activities

	var checkID string
	if err := workflow.ExecuteActivity(ctx, a.BeginCheck, req.Anchor).Get(ctx, &checkID); err != nil {
		return nil, err
	}

	var scores []model.DriftScore
	if err := workflow.ExecuteActivity(ctx, a.ComputeDriftScores, req).Get(ctx, &scores); err != nil {
		return nil, failCheck(ctx, a, checkID, err)
	}

	var conceptRec model.ConceptDriftRecord
	if err := workflow.ExecuteActivity(ctx, a.ComputeConceptRecord, req.Anchor).Get(ctx, &conceptRec); err != nil {
		return nil, failCheck(ctx, a, checkID, err)
	}

	var verdict model.DriftVerdict
	if err := workflow.ExecuteActivity(ctx, a.DecideVerdict, DecideInput{
		Scores:  scores,
		Concept: conceptRec,
	}).Get(ctx, &verdict); err != nil {
		return nil, failCheck(ctx, a, checkID, err)
	}

	if err := workflow.ExecuteActivity(ctx, a.PersistCheck, PersistInput{
		CheckID: checkID,
		Scores:  scores,
		Concept: conceptRec,
		Verdict: verdict,
	}).Get(ctx, nil); err != nil {
		return nil, failCheck(ctx, a, checkID, err)
	}

	result := &CheckResult{CheckID: checkID, Verdict: verdict}

	if verdict.Decision == model.DecisionRetrain {
		logger.Info("strong drift, starting retrain", "check_id", checkID)
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: "retrain-" + checkID,
		})
		var rr RetrainResult
		if err := workflow.ExecuteChildWorkflow(childCtx, RetrainWorkflow, RetrainRequest{
			Anchor: req.Anchor,
		}).Get(ctx, &rr); err != nil {
			return nil, err
		}
		result.Retrained = true
	}
	return result, nil
}

// RetrainWorkflow rebuilds the model and its baseline snapshot. Runs as a
// child of DriftCheckWorkflow or standalone.
func RetrainWorkflow(ctx workflow.Context, req RetrainRequest) (*RetrainResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 2,
		},
	})

	var a *Activities
	var result RetrainResult
	if err := workflow.ExecuteActivity(ctx, a.RetrainAndEvaluate, req).Get(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// failCheck records the failure on the check run, best effort, and returns
// the original error.
func failCheck(ctx workflow.Context, a *Activities, checkID string, cause error) error {
	ferr := workflow.ExecuteActivity(ctx, a.FailCheck, FailInput{
		CheckID: checkID,
		Cause:   cause.Error(),
	}).Get(ctx, nil)
	if ferr != nil {
		workflow.GetLogger(ctx).Error("could not mark check failed", "check_id", checkID, "error", ferr)
	}
	return cause
}
