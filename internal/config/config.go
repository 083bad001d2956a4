package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Crawl    CrawlConfig    `yaml:"crawl" mapstructure:"crawl"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderConfig holds the catalog API endpoint and credentials.
type ProviderConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Token       string `yaml:"token" mapstructure:"token"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetrySecs   int    `yaml:"retry_secs" mapstructure:"retry_secs"`
}

// CrawlConfig configures the segmented catalog crawl.
type CrawlConfig struct {
	PageSize      int      `yaml:"page_size" mapstructure:"page_size"`
	WindowCeiling int      `yaml:"window_ceiling" mapstructure:"window_ceiling"`
	Alphabet      string   `yaml:"alphabet" mapstructure:"alphabet"`
	MaxDepth      int      `yaml:"max_depth" mapstructure:"max_depth"`
	RatePerSec    float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RootPrefixes  []string `yaml:"root_prefixes" mapstructure:"root_prefixes"`
	PollSecs      int      `yaml:"poll_secs" mapstructure:"poll_secs"`
}

// EnrichConfig configures the batch enrichment driver.
type EnrichConfig struct {
	Workers        int      `yaml:"workers" mapstructure:"workers"`
	BatchSize      int      `yaml:"batch_size" mapstructure:"batch_size"`
	DelayMillis    int      `yaml:"delay_millis" mapstructure:"delay_millis"`
	CheckpointPath string   `yaml:"checkpoint_path" mapstructure:"checkpoint_path"`
	// PreferFields lists record fields (json names) the fetched data may
	// override even when the stored record already carries a value.
	PreferFields []string `yaml:"prefer_fields" mapstructure:"prefer_fields"`
}

// PreferMap converts the override allow-list to the form the merge takes.
func (c EnrichConfig) PreferMap() map[string]bool {
	if len(c.PreferFields) == 0 {
		return nil
	}
	m := make(map[string]bool, len(c.PreferFields))
	for _, f := range c.PreferFields {
		m[f] = true
	}
	return m
}

// ServerConfig configures the control surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSTRUMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key gets one, even if empty: AutomaticEnv only
	// surfaces env values through Unmarshal for keys viper already knows.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "instruments.db")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.token", "")
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.retry_secs", 5)
	v.SetDefault("provider.user_agent", "instrument-cli/1.0")
	v.SetDefault("crawl.page_size", 100)
	v.SetDefault("crawl.window_ceiling", 10000)
	v.SetDefault("crawl.alphabet", "")
	v.SetDefault("crawl.max_depth", 4)
	v.SetDefault("crawl.rate_per_sec", 2.0)
	v.SetDefault("crawl.root_prefixes", []string{})
	v.SetDefault("crawl.poll_secs", 2)
	v.SetDefault("enrich.workers", 4)
	v.SetDefault("enrich.batch_size", 50)
	v.SetDefault("enrich.delay_millis", 200)
	v.SetDefault("enrich.checkpoint_path", "enrichment_checkpoint.json")
	v.SetDefault("enrich.prefer_fields", []string{})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields required for the given mode ("crawl",
// "enrich" or "serve"). Errors name every missing or out-of-range field.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Store.Driver == "sqlite" || c.Store.Driver == "postgres",
		"store.driver must be sqlite or postgres")
	check(c.Store.DatabaseURL != "", "store.database_url is required")

	switch mode {
	case "crawl":
		check(c.Provider.BaseURL != "", "provider.base_url is required")
		check(c.Crawl.PageSize > 0, "crawl.page_size must be > 0")
		check(c.Crawl.WindowCeiling > 0, "crawl.window_ceiling must be > 0")
		check(c.Crawl.MaxDepth > 0, "crawl.max_depth must be > 0")
	case "enrich":
		check(c.Provider.BaseURL != "", "provider.base_url is required")
		check(c.Enrich.Workers >= 1 && c.Enrich.Workers <= 32,
			"enrich.workers must be between 1 and 32")
		check(c.Enrich.BatchSize > 0, "enrich.batch_size must be > 0")
		check(c.Enrich.CheckpointPath != "", "enrich.checkpoint_path is required")
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
