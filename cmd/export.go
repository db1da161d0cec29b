package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/driftwatch/internal/report"
	"github.com/sells-group/driftwatch/internal/store"
)

var (
	exportOut   string
	exportLimit int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write drift-check history to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		checks, err := st.ListChecks(cmd.Context(), store.CheckFilter{Limit: exportLimit})
		if err != nil {
			return err
		}

		if err := report.WriteCheckHistory(exportOut, checks); err != nil {
			return err
		}
		zap.L().Info("history exported",
			zap.String("file", exportOut),
			zap.Int("checks", len(checks)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "drift.xlsx", "output workbook path")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 500, "maximum check runs to export")
	rootCmd.AddCommand(exportCmd)
}
