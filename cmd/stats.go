package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statsRefresh bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show enrichment progress for the target list",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		snap, err := e.Stats.Get(ctx, statsRefresh)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		if age := time.Since(snap.CachedAt); age > 5*time.Minute {
			fmt.Fprintf(os.Stderr, "Note: cached %s ago; use --refresh for a live count.\n", age.Round(time.Minute))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsRefresh, "refresh", false, "recount the list instead of serving the cache")
	rootCmd.AddCommand(statsCmd)
}
