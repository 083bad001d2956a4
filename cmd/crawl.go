package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the issuer catalog",
}

var crawlStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a full segmented catalog crawl",
	Long:  "Probes each root prefix, subdivides segments that exceed the result window, pages every addressable segment and persists each item. Progress is tracked in the run registry; pause, resume and cancel through `runs`.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("crawl"); err != nil {
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

		cr, err := initCrawler(st)
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = "crawl-" + time.Now().UTC().Format("20060102-150405")
		}
		prefixes, _ := cmd.Flags().GetStringSlice("prefixes")
		if len(prefixes) == 0 {
			prefixes = cfg.Crawl.RootPrefixes
		}

		run, err := st.CreateRun(ctx, name)
		if err != nil {
			return eris.Wrap(err, "crawl start")
		}
		zap.L().Info("run created",
			zap.String("run_id", run.ID),
			zap.String("name", name),
			zap.Strings("prefixes", prefixes),
		)

		if err := cr.Run(ctx, run.ID, prefixes); err != nil {
			return eris.Wrap(err, "crawl start")
		}

		final, err := st.GetRun(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "crawl start")
		}
		fmt.Fprintf(os.Stdout, "Run %s %s: %d/%d items, %d errors\n",
			run.ID, final.Status, final.Completed, final.Total, final.ErrorsCount)
		return nil
	},
}

func init() {
	crawlStartCmd.Flags().String("name", "", "run name (default crawl-<timestamp>)")
	crawlStartCmd.Flags().StringSlice("prefixes", nil, "root ISIN prefixes to crawl (default from config, else the full catalog)")

	crawlCmd.AddCommand(crawlStartCmd)
	rootCmd.AddCommand(crawlCmd)
}
