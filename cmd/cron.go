package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-enrichment/internal/ledger"
	"github.com/sells-group/contact-enrichment/internal/model"
)

// cronCmd is the scheduled entry point, meant to be invoked frequently
// by an external cron. The scheduler gate decides whether a run is
// actually due; a not-due tick exits 0 so cron stays quiet.
var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run a scheduled enrichment batch if one is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Runner.Run(ctx, model.TriggerScheduled)
		if err != nil {
			if errors.Is(err, ledger.ErrRunActive) {
				fmt.Fprintln(os.Stderr, "A run is already in progress; skipping this tick.")
				return nil
			}
			return eris.Wrap(err, "scheduled run")
		}

		if result.Skipped {
			fmt.Fprintln(os.Stdout, "skipped: schedule not due")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(cronCmd)
}
