package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/driftwatch/internal/ingest"
)

var (
	ingestEventsFile string
	ingestMetricFile string
	ingestMetricName string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Bulk-load an event log or metric series into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestEventsFile == "" && ingestMetricFile == "" {
			return eris.New("nothing to ingest: pass --events and/or --metric-file")
		}
		if ingestMetricFile != "" && ingestMetricName == "" {
			return eris.New("--metric is required with --metric-file")
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		loader, err := ingest.NewLoader(cfg.Ingest)
		if err != nil {
			return err
		}

		if ingestEventsFile != "" {
			f, err := os.Open(ingestEventsFile)
			if err != nil {
				return eris.Wrapf(err, "open %s", ingestEventsFile)
			}
			events, err := ingest.ReadEvents(f)
			f.Close()
			if err != nil {
				return err
			}
			n, err := loader.LoadEvents(cmd.Context(), st, events)
			if err != nil {
				return err
			}
			zap.L().Info("events loaded", zap.Int64("rows", n), zap.String("file", ingestEventsFile))
		}

		if ingestMetricFile != "" {
			f, err := os.Open(ingestMetricFile)
			if err != nil {
				return eris.Wrapf(err, "open %s", ingestMetricFile)
			}
			points, err := ingest.ReadMetricPoints(f)
			f.Close()
			if err != nil {
				return err
			}
			n, err := loader.LoadMetric(cmd.Context(), st, ingestMetricName, points)
			if err != nil {
				return err
			}
			zap.L().Info("metric points loaded", zap.Int64("rows", n), zap.String("metric", ingestMetricName))
		}

		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestEventsFile, "events", "", "event-log CSV to load")
	ingestCmd.Flags().StringVar(&ingestMetricFile, "metric-file", "", "daily metric CSV to load")
	ingestCmd.Flags().StringVar(&ingestMetricName, "metric", "", "metric name for --metric-file")
	rootCmd.AddCommand(ingestCmd)
}
