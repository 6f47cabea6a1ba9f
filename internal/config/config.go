// Package config loads cardsync configuration from config.yaml and
// CARDSYNC_* environment variables, and initializes the global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/cardsync/internal/backfill"
	"github.com/sells-group/cardsync/internal/fetcher"
	"github.com/sells-group/cardsync/internal/match"
	"github.com/sells-group/cardsync/internal/persist"
	"github.com/sells-group/cardsync/internal/provider"
	"github.com/sells-group/cardsync/internal/resilience"
	"github.com/sells-group/cardsync/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Match    MatchConfig    `yaml:"match" mapstructure:"match"`
	Persist  persist.Config `yaml:"persist" mapstructure:"persist"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RetryConfig configures transport retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ProviderConfig holds the price provider API settings.
type ProviderConfig struct {
	Name               string      `yaml:"name" mapstructure:"name"`
	BaseURL            string      `yaml:"base_url" mapstructure:"base_url"`
	APIKey             string      `yaml:"api_key" mapstructure:"api_key"`
	PageSize           int         `yaml:"page_size" mapstructure:"page_size"`
	MaxPages           int         `yaml:"max_pages" mapstructure:"max_pages"`
	TimeoutSecs        int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec         float64     `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst              int         `yaml:"burst" mapstructure:"burst"`
	DefaultWindow      string      `yaml:"default_window" mapstructure:"default_window"`
	RecentWindow       string      `yaml:"recent_window" mapstructure:"recent_window"`
	ArchiveSampleBytes int         `yaml:"archive_sample_bytes" mapstructure:"archive_sample_bytes"`
	Retry              RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// MatchConfig configures scoring weights and the manual repair table.
type MatchConfig struct {
	Weights     match.Weights `yaml:"weights" mapstructure:"weights"`
	RepairsPath string        `yaml:"repairs_path" mapstructure:"repairs_path"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("CARDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("provider.name", "justtcg")
	v.SetDefault("provider.base_url", "https://api.justtcg.com/v1")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.page_size", 100)
	v.SetDefault("provider.max_pages", 50)
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("provider.rate_per_sec", 5.0)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("provider.default_window", "90d")
	v.SetDefault("provider.recent_window", "7d")
	v.SetDefault("provider.archive_sample_bytes", 4096)
	v.SetDefault("provider.retry.max_attempts", 3)
	v.SetDefault("provider.retry.initial_backoff_ms", 500)
	v.SetDefault("provider.retry.max_backoff_ms", 30000)
	v.SetDefault("provider.retry.multiplier", 2.0)
	v.SetDefault("provider.retry.jitter_fraction", 0.25)
	w := match.DefaultWeights()
	v.SetDefault("match.weights.number", w.Number)
	v.SetDefault("match.weights.finish", w.Finish)
	v.SetDefault("match.weights.edition", w.Edition)
	v.SetDefault("match.weights.stamp", w.Stamp)
	v.SetDefault("match.weights.base_no_stamp", w.BaseNoStamp)
	v.SetDefault("match.weights.name_exact", w.NameExact)
	v.SetDefault("match.weights.name_contains", w.NameContains)
	v.SetDefault("match.weights.condition_nm", w.ConditionNM)
	v.SetDefault("match.weights.condition_lp", w.ConditionLP)
	v.SetDefault("match.weights.condition_mp", w.ConditionMP)
	v.SetDefault("match.weights.condition_hp", w.ConditionHP)
	v.SetDefault("match.weights.language", w.Language)
	v.SetDefault("match.weights.max_score", w.MaxScore)
	v.SetDefault("match.repairs_path", "")
	v.SetDefault("persist.batch_size", 500)
	v.SetDefault("persist.recompute_batch_size", 200)
	v.SetDefault("persist.row_fallback", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode needs. Modes: backfill,
// serve, migrate, runs.
func (c *Config) Validate(mode string) error {
	var errs []string
	need := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch mode {
	case "backfill", "serve":
		c.validateStore(need)
		need(c.Provider.BaseURL != "", "provider.base_url is required")
		need(c.Provider.APIKey != "", "provider.api_key is required")
		need(c.Provider.PageSize >= 1 && c.Provider.PageSize <= 1000, "provider.page_size must be between 1 and 1000")
		need(c.Provider.MaxPages >= 1, "provider.max_pages must be > 0")
		need(c.Provider.RatePerSec > 0, "provider.rate_per_sec must be > 0")
		_, err := provider.ParseWindow(c.Provider.DefaultWindow)
		need(err == nil, fmt.Sprintf("provider.default_window %q is not a known window", c.Provider.DefaultWindow))
		if c.Provider.RecentWindow != "" {
			_, err := provider.ParseWindow(c.Provider.RecentWindow)
			need(err == nil, fmt.Sprintf("provider.recent_window %q is not a known window", c.Provider.RecentWindow))
		}
		if c.Match.Weights != (match.Weights{}) {
			if err := c.Match.Weights.Validate(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		need(c.Persist.BatchSize >= 1, "persist.batch_size must be > 0")
		need(c.Persist.RecomputeBatchSize >= 1, "persist.recompute_batch_size must be > 0")
		if mode == "serve" {
			need(c.Server.Port > 0, "server.port must be > 0")
		}
	case "migrate", "runs":
		c.validateStore(need)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(need func(bool, string)) {
	switch strings.ToLower(c.Store.Driver) {
	case "postgres", "postgresql", "pgx":
		need(c.Store.DatabaseURL != "", "store.database_url is required")
	case "sqlite", "":
	default:
		need(false, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
}

// StoreOptions converts the store section for store.Open.
func (c *Config) StoreOptions() store.Config {
	return store.Config{Driver: c.Store.Driver, DatabaseURL: c.Store.DatabaseURL, MaxConns: c.Store.MaxConns}
}

// HTTPOptions converts the provider section into transport options. Call it
// after InitLogger so retries log through the configured logger.
func (c *Config) HTTPOptions() fetcher.HTTPOptions {
	retry := c.Provider.Retry.toResilience()
	retry.OnRetry = resilience.RetryLogger(c.Provider.Name, "get_json")
	return fetcher.HTTPOptions{
		Timeout:    time.Duration(c.Provider.TimeoutSecs) * time.Second,
		RatePerSec: c.Provider.RatePerSec,
		Burst:      c.Provider.Burst,
		Retry:      retry,
	}
}

// toResilience overlays the set values on the resilience defaults. A
// negative jitter keeps the default; zero disables jitter.
func (r RetryConfig) toResilience() resilience.RetryConfig {
	out := resilience.DefaultRetryConfig()
	if r.MaxAttempts > 0 {
		out.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		out.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		out.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	if r.Multiplier > 0 {
		out.Multiplier = r.Multiplier
	}
	if r.JitterFraction >= 0 {
		out.JitterFraction = r.JitterFraction
	}
	return out
}

// ProviderOptions converts the provider section into client settings.
func (c *Config) ProviderOptions() provider.Config {
	return provider.Config{
		Name:               c.Provider.Name,
		BaseURL:            c.Provider.BaseURL,
		APIKey:             c.Provider.APIKey,
		PageSize:           c.Provider.PageSize,
		MaxPages:           c.Provider.MaxPages,
		ArchiveSampleBytes: c.Provider.ArchiveSampleBytes,
	}
}

// BackfillOptions converts windows and persistence settings for the runner.
// Windows are assumed validated.
func (c *Config) BackfillOptions() backfill.Config {
	return backfill.Config{
		DefaultWindow: provider.Window(c.Provider.DefaultWindow),
		RecentWindow:  provider.Window(c.Provider.RecentWindow),
		Persist:       c.Persist,
	}
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
