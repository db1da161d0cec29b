package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/driftwatch/internal/workflow"
)

var (
	checkAnchor   string
	checkFeatures []string
)

// checkCmd runs one full drift check in-process, without Temporal: score
// the feature distributions against the baseline snapshot, assemble the
// concept record, decide, and persist.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a drift check for an anchor date",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		anchor := time.Now().UTC()
		if checkAnchor != "" {
			var err error
			anchor, err = parseDay(checkAnchor)
			if err != nil {
				return err
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		a, err := newActivities(st)
		if err != nil {
			return err
		}

		checkID, err := a.BeginCheck(ctx, anchor)
		if err != nil {
			return err
		}

		req := workflow.CheckRequest{Anchor: anchor, Features: checkFeatures}
		scores, err := a.ComputeDriftScores(ctx, req)
		if err != nil {
			return failAndReturn(ctx, a, checkID, err)
		}
		conceptRec, err := a.ComputeConceptRecord(ctx, anchor)
		if err != nil {
			return failAndReturn(ctx, a, checkID, err)
		}
		verdict, err := a.DecideVerdict(ctx, workflow.DecideInput{Scores: scores, Concept: conceptRec})
		if err != nil {
			return failAndReturn(ctx, a, checkID, err)
		}
		if err := a.PersistCheck(ctx, workflow.PersistInput{
			CheckID: checkID,
			Scores:  scores,
			Concept: conceptRec,
			Verdict: verdict,
		}); err != nil {
			return failAndReturn(ctx, a, checkID, err)
		}

		out := map[string]any{
			"check_id": checkID,
			"anchor":   anchor.Format("2006-01-02"),
			"scores":   scores,
			"concept":  conceptRec,
			"verdict":  verdict,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func failAndReturn(ctx context.Context, a *workflow.Activities, checkID string, cause error) error {
	if err := a.FailCheck(ctx, workflow.FailInput{CheckID: checkID, Cause: cause.Error()}); err != nil {
		zap.L().Error("could not mark check failed", zap.String("check_id", checkID), zap.Error(err))
	}
	return cause
}

// parseDay parses a YYYY-MM-DD flag value as a UTC date.
func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse date %q", s)
	}
	return t, nil
}

func init() {
	checkCmd.Flags().StringVar(&checkAnchor, "anchor", "", "anchor date YYYY-MM-DD (default today)")
	checkCmd.Flags().StringSliceVar(&checkFeatures, "feature", nil, "features to check (default all in baseline snapshot)")
	rootCmd.AddCommand(checkCmd)
}
