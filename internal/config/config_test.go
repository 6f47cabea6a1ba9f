package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/cardsync/internal/match"
	"github.com/sells-group/cardsync/internal/provider"
	"github.com/sells-group/cardsync/internal/resilience"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "justtcg", cfg.Provider.Name)
	assert.Equal(t, "https://api.justtcg.com/v1", cfg.Provider.BaseURL)
	assert.Equal(t, 100, cfg.Provider.PageSize)
	assert.Equal(t, 50, cfg.Provider.MaxPages)
	assert.Equal(t, 30, cfg.Provider.TimeoutSecs)
	assert.InDelta(t, 5.0, cfg.Provider.RatePerSec, 0.001)
	assert.Equal(t, "90d", cfg.Provider.DefaultWindow)
	assert.Equal(t, "7d", cfg.Provider.RecentWindow)
	assert.Equal(t, 3, cfg.Provider.Retry.MaxAttempts)
	assert.Equal(t, match.DefaultWeights(), cfg.Match.Weights)
	assert.Equal(t, 500, cfg.Persist.BatchSize)
	assert.Equal(t, 200, cfg.Persist.RecomputeBatchSize)
	assert.True(t, cfg.Persist.RowFallback)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: cards.db
log:
  level: debug
  format: console
provider:
  page_size: 50
  default_window: 30d
  retry:
    max_attempts: 5
match:
  weights:
    number: 200
persist:
  batch_size: 100
  row_fallback: false
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "cards.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 50, cfg.Provider.PageSize)
	assert.Equal(t, "30d", cfg.Provider.DefaultWindow)
	assert.Equal(t, 5, cfg.Provider.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Provider.Retry.InitialBackoffMs)
	assert.Equal(t, 200, cfg.Match.Weights.Number)
	assert.Equal(t, 40, cfg.Match.Weights.Finish)
	assert.Equal(t, 100, cfg.Persist.BatchSize)
	assert.False(t, cfg.Persist.RowFallback)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CARDSYNC_STORE_DRIVER", "postgres")
	t.Setenv("CARDSYNC_LOG_LEVEL", "warn")
	t.Setenv("CARDSYNC_PROVIDER_API_KEY", "tcg_secret")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "tcg_secret", cfg.Provider.APIKey)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CARDSYNC_SERVER_PORT", "3000")
	t.Setenv("CARDSYNC_PERSIST_BATCH_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 250, cfg.Persist.BatchSize)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
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

// validDefaults returns a Config that passes validation in every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/cards"
	cfg.Provider.BaseURL = "https://api.justtcg.com/v1"
	cfg.Provider.APIKey = "tcg_key"
	cfg.Provider.PageSize = 100
	cfg.Provider.MaxPages = 50
	cfg.Provider.RatePerSec = 5
	cfg.Provider.DefaultWindow = "90d"
	cfg.Provider.RecentWindow = "7d"
	cfg.Match.Weights = match.DefaultWeights()
	cfg.Persist.BatchSize = 500
	cfg.Persist.RecomputeBatchSize = 200
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"backfill", "serve", "migrate", "runs"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateBackfill_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Provider.APIKey = ""
	cfg.Provider.DefaultWindow = "14d"

	err := cfg.Validate("backfill")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "provider.api_key is required")
	assert.Contains(t, err.Error(), `provider.default_window "14d"`)
}

func TestValidate_WeightOrdering(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.DatabaseURL = "postgres://localhost/cards"
	cfg.Provider.APIKey = "tcg_key"
	require.NoError(t, cfg.Validate("backfill"))

	cfg.Match.Weights.Number = 1
	cfg.Match.Weights.Finish = 500
	for _, mode := range []string{"backfill", "serve"} {
		err := cfg.Validate(mode)
		require.Error(t, err, mode)
		assert.Contains(t, err.Error(), "number (1) must exceed finish (500)")
	}
	assert.NoError(t, cfg.Validate("migrate"), "weights do not matter for migrate")

	cfg.Match.Weights = match.DefaultWeights()
	cfg.Match.Weights.MaxScore = 0
	assert.ErrorContains(t, cfg.Validate("backfill"), "max_score must be > 0")
}

func TestValidate_WeightOrderingFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CARDSYNC_MATCH_WEIGHTS_LANGUAGE", "50")

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.DatabaseURL = "postgres://localhost/cards"
	cfg.Provider.APIKey = "tcg_key"
	assert.ErrorContains(t, cfg.Validate("backfill"), "language (50) must be in (0, condition_hp]")
}

func TestValidate_SQLiteNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be postgres or sqlite")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.NoError(t, cfg.Validate("backfill"))
}

func TestValidatePageSizeBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Provider.PageSize = 0
	assert.ErrorContains(t, cfg.Validate("backfill"), "page_size must be between 1 and 1000")

	cfg.Provider.PageSize = 1001
	assert.ErrorContains(t, cfg.Validate("backfill"), "page_size must be between 1 and 1000")

	cfg.Provider.PageSize = 1000
	assert.NoError(t, cfg.Validate("backfill"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestConversions(t *testing.T) {
	cfg := validDefaults()
	cfg.Provider.TimeoutSecs = 12
	cfg.Provider.Burst = 3
	cfg.Provider.Retry = RetryConfig{MaxAttempts: 4, InitialBackoffMs: 100, MaxBackoffMs: 1000}
	cfg.Store.MaxConns = 7

	h := cfg.HTTPOptions()
	assert.Equal(t, 12*time.Second, h.Timeout)
	assert.Equal(t, 3, h.Burst)
	assert.Equal(t, 4, h.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, h.Retry.InitialBackoff)
	assert.NotNil(t, h.Retry.OnRetry)

	p := cfg.ProviderOptions()
	assert.Equal(t, "tcg_key", p.APIKey)
	assert.Equal(t, 100, p.PageSize)

	b := cfg.BackfillOptions()
	assert.Equal(t, provider.Window90d, b.DefaultWindow)
	assert.Equal(t, provider.Window7d, b.RecentWindow)
	assert.Equal(t, 500, b.Persist.BatchSize)

	s := cfg.StoreOptions()
	assert.Equal(t, int32(7), s.MaxConns)
	assert.Equal(t, "postgres", s.Driver)
}

func TestRetryConfig_ToResilience(t *testing.T) {
	r := RetryConfig{MaxAttempts: 5, InitialBackoffMs: 250, MaxBackoffMs: 4000, Multiplier: 3}.toResilience()
	assert.Equal(t, 5, r.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, r.InitialBackoff)
	assert.Equal(t, 4*time.Second, r.MaxBackoff)
	assert.InDelta(t, 3.0, r.Multiplier, 0.001)
	assert.Zero(t, r.JitterFraction)

	def := RetryConfig{JitterFraction: -1}.toResilience()
	assert.Equal(t, resilience.DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
	assert.InDelta(t, resilience.DefaultRetryConfig().JitterFraction, def.JitterFraction, 0.001)
}
