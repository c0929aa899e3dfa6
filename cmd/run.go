package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/ledger"
	"github.com/sells-group/contact-enrichment/internal/model"
)

var (
	runBatchSize int
	runDelayMS   int
	runListID    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one enrichment batch now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runBatchSize > 0 {
			cfg.Enrich.BatchSize = runBatchSize
		}
		if runDelayMS >= 0 {
			cfg.Enrich.RecordDelayMS = runDelayMS
		}
		if runListID != "" {
			cfg.HubSpot.ListID = runListID
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Runner.Run(ctx, model.TriggerManual)
		if err != nil {
			if errors.Is(err, ledger.ErrRunActive) {
				fmt.Fprintln(os.Stderr, "A run is already in progress.")
				return err
			}
			return eris.Wrap(err, "enrichment run")
		}

		zap.L().Info("batch complete",
			zap.String("run_id", result.RunID),
			zap.Int("processed", result.Summary.Processed),
			zap.Int("enriched", result.Summary.Enriched),
			zap.Int("skipped", result.Summary.Skipped),
			zap.Int("errors", result.Summary.Errors),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "contacts per batch (default from config)")
	runCmd.Flags().IntVar(&runDelayMS, "delay", -1, "pause between contacts in ms (default from config)")
	runCmd.Flags().StringVar(&runListID, "list", "", "CRM list id (default from config)")
	rootCmd.AddCommand(runCmd)
}
