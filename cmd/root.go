package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glarus-data/instrument-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "instrument-cli",
	Short: "Structured product catalog crawler and fusion store",
	Long:  "Crawls the issuer catalog API in alphabet segments, parses items into provenance-tagged records, merges enrichment data without regressing known fields, and tracks every crawl in a run registry.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
