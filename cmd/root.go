package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/driftwatch/internal/config"
	"github.com/sells-group/driftwatch/internal/store"
	"github.com/sells-group/driftwatch/internal/train"
	"github.com/sells-group/driftwatch/internal/workflow"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Model drift monitoring and retrain decisions",
	Long:  "Builds leakage-safe labeled windows from event logs, scores feature distribution drift and concept drift, and decides when the propensity model needs retraining.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newActivities assembles the check/retrain implementation shared by the
// in-process check command and the Temporal worker.
func newActivities(st store.Store) (*workflow.Activities, error) {
	return workflow.NewActivities(st, train.CentroidFitter{},
		cfg.Window, cfg.Stability, cfg.Concept, cfg.Decision, cfg.Check)
}
