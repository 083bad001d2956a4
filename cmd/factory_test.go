package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glarus-data/instrument-cli/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "test.db")
	c.Provider.BaseURL = "https://api.example.com/v1"
	c.Crawl.PageSize = 100
	c.Crawl.WindowCeiling = 10000
	c.Crawl.MaxDepth = 4
	c.Crawl.RatePerSec = 2.0
	c.Enrich.Workers = 4
	c.Enrich.BatchSize = 50
	c.Enrich.CheckpointPath = filepath.Join(t.TempDir(), "checkpoint.json")
	return c
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = testConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = "oracle"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitCrawler(t *testing.T) {
	cfg = testConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	cr, err := initCrawler(st)
	require.NoError(t, err)
	assert.NotNil(t, cr.Segmenter)
}

func TestInitEnricher(t *testing.T) {
	cfg = testConfig(t)
	cfg.Enrich.PreferFields = []string{"coupon_rate_pct_pa"}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	d := initEnricher(st)
	assert.Equal(t, 4, d.Workers)
	assert.True(t, d.Prefer["coupon_rate_pct_pa"])
}
