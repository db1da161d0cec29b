package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/driftwatch/internal/model"
	"github.com/sells-group/driftwatch/internal/store"
)

var (
	checksStatus string
	checksLimit  int
)

var checksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List past drift check runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		checks, err := st.ListChecks(cmd.Context(), store.CheckFilter{
			Status: model.CheckStatus(checksStatus),
			Limit:  checksLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tANCHOR\tSTATUS\tSEVERITY\tDECISION\tERROR")
		for _, c := range checks {
			severity, decision := "-", "-"
			if c.Verdict != nil {
				severity = string(c.Verdict.Severity)
				decision = string(c.Verdict.Decision)
				if c.Verdict.InsufficientEvidence {
					decision += " (insufficient evidence)"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.AnchorDate.Format("2006-01-02"), c.Status, severity, decision, c.Error)
		}
		return w.Flush()
	},
}

func init() {
	checksCmd.Flags().StringVar(&checksStatus, "status", "", "filter by status (queued|running|complete|failed)")
	checksCmd.Flags().IntVar(&checksLimit, "limit", 50, "maximum rows")
	rootCmd.AddCommand(checksCmd)
}
