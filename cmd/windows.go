package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/driftwatch/internal/window"
)

var (
	windowsEntity      string
	windowsDropPartial bool
	windowsUntil       string
)

// windowsCmd replays the stored event log through the window builder and
// prints one labeled window per line, for inspection and offline training.
var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "Build labeled observation windows from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		var until time.Time
		if windowsUntil != "" {
			until, err = parseDay(windowsUntil)
			if err != nil {
				return err
			}
		}

		events, err := st.EventLog(cmd.Context(), time.Time{}, until)
		if err != nil {
			return err
		}
		if windowsEntity != "" {
			filtered := events[:0]
			for _, e := range events {
				if e.EntityID == windowsEntity {
					filtered = append(filtered, e)
				}
			}
			events = filtered
		}

		winCfg := cfg.Window
		winCfg.DropPartial = windowsDropPartial
		builder, err := window.New(winCfg)
		if err != nil {
			return err
		}
		windows, err := builder.Build(events)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		for _, w := range windows {
			if err := enc.Encode(w); err != nil {
				return err
			}
		}
		zap.L().Info("windows built", zap.Int("count", len(windows)))
		return nil
	},
}

func init() {
	windowsCmd.Flags().StringVar(&windowsEntity, "entity", "", "restrict to one entity")
	windowsCmd.Flags().BoolVar(&windowsDropPartial, "drop-partial", false, "drop windows with incomplete prediction spans")
	windowsCmd.Flags().StringVar(&windowsUntil, "until", "", "only use events before this date (YYYY-MM-DD)")
	rootCmd.AddCommand(windowsCmd)
}
