package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "instruments.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Provider.TimeoutSecs)
	assert.Equal(t, 3, cfg.Provider.MaxRetries)
	assert.Equal(t, 5, cfg.Provider.RetrySecs)
	assert.Equal(t, 100, cfg.Crawl.PageSize)
	assert.Equal(t, 10000, cfg.Crawl.WindowCeiling)
	assert.Equal(t, 4, cfg.Crawl.MaxDepth)
	assert.InDelta(t, 2.0, cfg.Crawl.RatePerSec, 0.001)
	assert.Equal(t, 4, cfg.Enrich.Workers)
	assert.Equal(t, 50, cfg.Enrich.BatchSize)
	assert.Equal(t, 200, cfg.Enrich.DelayMillis)
	assert.Equal(t, "enrichment_checkpoint.json", cfg.Enrich.CheckpointPath)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/instruments
log:
  level: debug
  format: console
server:
  port: 9090
crawl:
  window_ceiling: 5000
  root_prefixes: ["CH", "DE"]
enrich:
  prefer_fields: ["coupon_rate_pct_pa", "maturity_date"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5000, cfg.Crawl.WindowCeiling)
	assert.Equal(t, []string{"CH", "DE"}, cfg.Crawl.RootPrefixes)
	assert.Equal(t, map[string]bool{
		"coupon_rate_pct_pa": true,
		"maturity_date":      true,
	}, cfg.Enrich.PreferMap())
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.Crawl.PageSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("INSTRUMENT_STORE_DRIVER", "postgres")
	t.Setenv("INSTRUMENT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("INSTRUMENT_SERVER_PORT", "3000")
	t.Setenv("INSTRUMENT_PROVIDER_TOKEN", "secret")
	t.Setenv("INSTRUMENT_PROVIDER_BASE_URL", "https://api.example.com/v1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	// Credentials come in via env only: no file, no non-empty default.
	assert.Equal(t, "secret", cfg.Provider.Token)
	assert.Equal(t, "https://api.example.com/v1", cfg.Provider.BaseURL)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config populated like Load with no file or env.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "instruments.db"
	cfg.Provider.BaseURL = "https://api.example.com/v1"
	cfg.Crawl.PageSize = 100
	cfg.Crawl.WindowCeiling = 10000
	cfg.Crawl.MaxDepth = 4
	cfg.Enrich.Workers = 4
	cfg.Enrich.BatchSize = 50
	cfg.Enrich.CheckpointPath = "enrichment_checkpoint.json"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateCrawl_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("crawl"))
}

func TestValidateCrawl_MissingProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.Provider.BaseURL = ""

	err := cfg.Validate("crawl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "provider.base_url is required")
}

func TestValidateCrawl_BadWindow(t *testing.T) {
	cfg := validDefaults()
	cfg.Crawl.WindowCeiling = 0

	err := cfg.Validate("crawl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "window_ceiling")
}

func TestValidateEnrich_WorkerBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Enrich.Workers = 0
	err := cfg.Validate("enrich")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "enrich.workers must be between 1 and 32")

	cfg.Enrich.Workers = 33
	err = cfg.Validate("enrich")
	assert.Error(t, err)

	cfg.Enrich.Workers = 32
	assert.NoError(t, cfg.Validate("enrich"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidate_BadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "oracle"

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
