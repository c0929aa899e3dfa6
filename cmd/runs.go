package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-enrichment/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect enrichment run history",
	Long:  "Commands for listing, viewing, and stopping enrichment runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent enrichment runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.RecentRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run including per-contact outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stop --

var runsStopCmd = &cobra.Command{
	Use:   "stop [run-id]",
	Short: "Stop the current run (or a specific run by id)",
	Long:  "Marks the run failed in the ledger. The in-flight process finishes its current contact and observes the stop when it tries to close the run.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID := ""
		if len(args) == 1 {
			runID = args[0]
		} else {
			current, err := st.CurrentRun(ctx)
			if err != nil {
				return eris.Wrap(err, "runs stop")
			}
			if current == nil {
				fmt.Fprintln(os.Stderr, "No run is in progress.")
				return nil
			}
			runID = current.ID
		}

		if err := st.FailRun(ctx, runID, "stopped by operator"); err != nil {
			return eris.Wrap(err, "runs stop")
		}
		fmt.Fprintf(os.Stdout, "Run %s stopped.\n", runID)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStopCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tSTARTED\tDURATION\tPROCESSED\tENRICHED\tSKIPPED\tERRORS")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-------\t--------\t---------\t--------\t-------\t------")

	for _, r := range runs {
		dur := ""
		if d := r.Duration(); d > 0 {
			dur = d.Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID,
			r.Trigger,
			r.Status,
			r.StartTime.Format("2006-01-02 15:04"),
			dur,
			r.Summary.Processed,
			r.Summary.Enriched,
			r.Summary.Skipped,
			r.Summary.Errors,
		)
	}
	_ = w.Flush()
}
