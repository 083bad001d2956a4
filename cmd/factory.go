package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/glarus-data/instrument-cli/internal/crawler"
	"github.com/glarus-data/instrument-cli/internal/enrich"
	"github.com/glarus-data/instrument-cli/internal/fetcher"
	"github.com/glarus-data/instrument-cli/internal/resilience"
	"github.com/glarus-data/instrument-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "instruments.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCatalog() *fetcher.HTTPCatalog {
	return fetcher.NewHTTPCatalog(fetcher.HTTPOptions{
		BaseURL:   cfg.Provider.BaseURL,
		Token:     cfg.Provider.Token,
		UserAgent: cfg.Provider.UserAgent,
		Timeout:   time.Duration(cfg.Provider.TimeoutSecs) * time.Second,
		Retry: resilience.FixedRetryConfig(
			cfg.Provider.MaxRetries,
			time.Duration(cfg.Provider.RetrySecs)*time.Second,
		),
	})
}

func initCrawler(st store.Store) (*crawler.Crawler, error) {
	var limiter *rate.Limiter
	if cfg.Crawl.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Crawl.RatePerSec), 1)
	}

	seg, err := crawler.NewSegmenter(initCatalog(), crawler.SegmenterConfig{
		PageSize:      cfg.Crawl.PageSize,
		WindowCeiling: cfg.Crawl.WindowCeiling,
		Alphabet:      cfg.Crawl.Alphabet,
		MaxDepth:      cfg.Crawl.MaxDepth,
		Limiter:       limiter,
	})
	if err != nil {
		return nil, err
	}

	return &crawler.Crawler{
		Store:        st,
		Segmenter:    seg,
		PollInterval: time.Duration(cfg.Crawl.PollSecs) * time.Second,
	}, nil
}

func initEnricher(st store.Store) *enrich.Driver {
	return &enrich.Driver{
		Store:          st,
		Source:         &enrich.CatalogSource{Catalog: initCatalog()},
		Workers:        cfg.Enrich.Workers,
		Delay:          time.Duration(cfg.Enrich.DelayMillis) * time.Millisecond,
		CheckpointPath: cfg.Enrich.CheckpointPath,
		Prefer:         cfg.Enrich.PreferMap(),
	}
}
