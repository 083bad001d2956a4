package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glarus-data/instrument-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control surface",
	Long:  "Serves run lifecycle, enrichment and record query endpoints. Crawls started through POST /runs execute in the background and answer to pause, resume and cancel like CLI-started runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
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

		prefixes := cfg.Crawl.RootPrefixes
		if len(prefixes) == 0 {
			prefixes = []string{""}
		}

		srv := &server.Server{
			Store:            st,
			Crawler:          cr,
			Enricher:         initEnricher(st),
			DefaultPrefixes:  prefixes,
			DefaultBatchSize: cfg.Enrich.BatchSize,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		return srv.Serve(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
