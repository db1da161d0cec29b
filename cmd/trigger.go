package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/driftwatch/internal/workflow"
)

var (
	triggerAnchor   string
	triggerFeatures []string
	triggerWait     bool
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Start a DriftCheckWorkflow via Temporal",
	RunE: func(cmd *cobra.Command, args []string) error {
		anchor := time.Now().UTC()
		if triggerAnchor != "" {
			var err error
			anchor, err = parseDay(triggerAnchor)
			if err != nil {
				return err
			}
		}

		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return eris.Wrap(err, "temporal dial")
		}
		defer c.Close()

		run, err := c.ExecuteWorkflow(cmd.Context(), client.StartWorkflowOptions{
			ID:        "drift-check-" + uuid.New().String(),
			TaskQueue: workflow.TaskQueue,
		}, workflow.DriftCheckWorkflow, workflow.CheckRequest{
			Anchor:   anchor,
			Features: triggerFeatures,
		})
		if err != nil {
			return eris.Wrap(err, "start workflow")
		}
		zap.L().Info("workflow started",
			zap.String("workflow_id", run.GetID()),
			zap.String("run_id", run.GetRunID()))

		if !triggerWait {
			return nil
		}

		var result workflow.CheckResult
		if err := run.Get(cmd.Context(), &result); err != nil {
			return eris.Wrap(err, "await workflow")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerAnchor, "anchor", "", "anchor date YYYY-MM-DD (default today)")
	triggerCmd.Flags().StringSliceVar(&triggerFeatures, "feature", nil, "features to check (default all in baseline snapshot)")
	triggerCmd.Flags().BoolVar(&triggerWait, "wait", false, "block until the workflow completes and print the verdict")
	rootCmd.AddCommand(triggerCmd)
}
