package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig is Defaults plus the pieces Defaults cannot guess: a venue.
func validConfig() Config {
	cfg := Defaults()
	cfg.Venues = map[string]VenueConfig{
		"binance": {BaseURL: "https://api.binance.test", FeeRate: 0.001},
	}
	return cfg
}

func TestValidateAcceptsDefaultsWithVenue(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadTopLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "dryrun"
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "dryrun"`)
	assert.Contains(t, err.Error(), `unknown log_level "verbose"`)
}

func TestValidateRequiresVenues(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one venue")
}

func TestValidateVenueRules(t *testing.T) {
	cfg := validConfig()
	cfg.Venues["binance"] = VenueConfig{FeeRate: 0.2}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url must not be empty")
	assert.Contains(t, err.Error(), "fee_rate")
}

func TestValidateTradeModeNeedsCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required")
	assert.Contains(t, err.Error(), "api_secret or encrypted_secret_path")

	// An encrypted secret needs its password.
	cfg.Venues["binance"] = VenueConfig{
		BaseURL:             "https://api.binance.test",
		APIKey:              "k",
		EncryptedSecretPath: "/etc/venuebot/secret.enc",
	}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_password is required")

	// Paper mode never demands credentials.
	cfg.Mode = "paper"
	assert.NoError(t, cfg.Validate())
}

func TestValidateDatabaseAndScheduler(t *testing.T) {
	cfg := validConfig()
	cfg.Database = DatabaseConfig{}
	cfg.Scheduler.PaperTickIntervalMs = 0
	cfg.Scheduler.RealTickIntervalMs = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either dsn or host/database/user")
	assert.Contains(t, err.Error(), "paper_tick_interval_ms")
	assert.Contains(t, err.Error(), "real_tick_interval_ms")

	// A bare DSN satisfies the database requirement.
	cfg = validConfig()
	cfg.Database = DatabaseConfig{DSN: "postgres://u:p@h/db"}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRiskBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.MaxDrawdownPct = 100
	cfg.Risk.MinConfidence = 1.5
	cfg.Risk.MaxConsecutiveLosses = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_drawdown_pct")
	assert.Contains(t, err.Error(), "min_confidence")
	assert.Contains(t, err.Error(), "max_consecutive_losses")
}

func TestValidateNotifyAndS3(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.TelegramBotToken = "token-without-chat"
	cfg.S3.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram_bot_token and telegram_chat_id")
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestRequestTimeoutDefault(t *testing.T) {
	assert.Equal(t, 10*time.Second, VenueConfig{}.RequestTimeout())
	assert.Equal(t, 2500*time.Millisecond, VenueConfig{RequestTimeoutMs: 2500}.RequestTimeout())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "trade"

[venues.kraken]
base_url = "https://api.kraken.test"
fee_rate = 0.002

[scheduler]
paper_tick_interval_ms = 1000
timeframe = "1h"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, "https://api.kraken.test", cfg.Venues["kraken"].BaseURL)
	assert.Equal(t, 1000, cfg.Scheduler.PaperTickIntervalMs)
	assert.Equal(t, "1h", cfg.Scheduler.Timeframe)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30_000, cfg.Scheduler.RealTickIntervalMs)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestDefaultsTimeframe(t *testing.T) {
	assert.Equal(t, "5m", Defaults().Scheduler.Timeframe)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "paper"`), 0o600))

	t.Setenv("VENUEBOT_MODE", "trade")
	t.Setenv("VENUEBOT_DATABASE_DSN", "postgres://env@db/venuebot")
	t.Setenv("VENUEBOT_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, "postgres://env@db/venuebot", cfg.Database.DSN)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Venues["binance"] = VenueConfig{
		BaseURL:   "https://api.binance.test",
		APIKey:    "key",
		APISecret: "secret",
	}
	cfg.Database.Password = "dbpass"
	cfg.Notify.TelegramBotToken = "tg-token"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Venues["binance"].APIKey)
	assert.Equal(t, "***", red.Venues["binance"].APISecret)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.Notify.TelegramBotToken)
	// Non-secret fields and the original config are untouched.
	assert.Equal(t, "https://api.binance.test", red.Venues["binance"].BaseURL)
	assert.Equal(t, "secret", cfg.Venues["binance"].APISecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
