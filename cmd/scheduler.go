package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-enrichment/internal/model"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Inspect or change the automatic run schedule",
}

var schedulerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current scheduler settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		settings, err := st.SchedulerSettings(ctx)
		if err != nil {
			return eris.Wrap(err, "scheduler show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	},
}

var (
	schedEnabled  bool
	schedInterval int
	schedBatch    int
)

var schedulerSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update scheduler settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		settings, err := st.UpdateSchedulerSettings(ctx, model.SchedulerUpdate{
			Enabled:         schedEnabled,
			IntervalMinutes: schedInterval,
			BatchSize:       schedBatch,
		})
		if err != nil {
			return eris.Wrap(err, "scheduler set")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	},
}

func init() {
	schedulerSetCmd.Flags().BoolVar(&schedEnabled, "enabled", false, "enable automatic runs")
	schedulerSetCmd.Flags().IntVar(&schedInterval, "interval", 120, "minutes between runs (15-1440)")
	schedulerSetCmd.Flags().IntVar(&schedBatch, "batch-size", 50, "contacts per scheduled batch (1-100)")

	schedulerCmd.AddCommand(schedulerShowCmd)
	schedulerCmd.AddCommand(schedulerSetCmd)
	rootCmd.AddCommand(schedulerCmd)
}
