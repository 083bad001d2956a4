package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Batch-enrich stored records from the catalog",
}

var enrichCycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one enrichment cycle over the pending set",
	Long:  "Loads the checkpoint, fetches the next batch of records still missing enrichment fields, merges fetched data without regressing known values, and advances the checkpoint. Repeated invocations sweep the whole pending set; after the last batch the offset resets for the next pass.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		batchSize, _ := cmd.Flags().GetInt("batch-size")
		if batchSize <= 0 {
			batchSize = cfg.Enrich.BatchSize
		}

		result, err := initEnricher(st).RunCycle(ctx, batchSize)
		if result != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(result)
		}
		if err != nil {
			return eris.Wrap(err, "enrich cycle")
		}
		return nil
	},
}

var enrichResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the enrichment checkpoint to offset zero",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := initEnricher(st).ResetCheckpoint(); err != nil {
			return eris.Wrap(err, "enrich reset")
		}
		fmt.Fprintln(os.Stdout, "Checkpoint reset.")
		return nil
	},
}

func init() {
	enrichCycleCmd.Flags().Int("batch-size", 0, "candidates per cycle (default from config)")

	enrichCmd.AddCommand(enrichCycleCmd)
	enrichCmd.AddCommand(enrichResetCmd)
	rootCmd.AddCommand(enrichCmd)
}
