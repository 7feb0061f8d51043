package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VENUEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "venuebot",
			User:          "venuebot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "venuebot-archive",
			ForcePathStyle: true,
		},
		Scheduler: SchedulerConfig{
			PaperTickIntervalMs:    5_000,
			RealTickIntervalMs:     30_000,
			CheckpointEveryTicks:   10,
			Timeframe:              "5m",
			CandleWindow:           100,
			ATRWindow:              14,
			AuditRingSize:          1_000,
			FetchOrderMaxAttempts:  5,
			FetchOrderBaseDelayMs:  500,
			HistoryPageDelayMs:     250,
			HistoryMaxRows:         10_000,
			CacheSweepIntervalSecs: 60,
		},
		Risk: RiskDefaults{
			Capital:                  10_000,
			MaxRiskPerTradePct:       2,
			MaxDailyLossPct:          5,
			MaxWeeklyLossPct:         10,
			MaxPositionSizePct:       25,
			DefaultStopLossPct:       2,
			ATRMultiplierSL:          1.5,
			ATRMultiplierTP:          3,
			TargetVolatilityPct:      2,
			MaxConsecutiveLosses:     3,
			CircuitBreakerCooldownMs: 3_600_000,
			MaxDrawdownPct:           15,
			MaxDailyTrades:           20,
			MinConfidence:            0.6,
		},
		Archive: ArchiveConfig{
			IntervalHours: 24,
			RetentionDays: 90,
		},
	}
}

// applyEnvOverrides reads well-known VENUEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Per-venue credentials are file-scoped (see EncryptedSecretPath) and
// are not overridable here.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "VENUEBOT_MODE")
	setStr(&cfg.LogLevel, "VENUEBOT_LOG_LEVEL")

	setStr(&cfg.Database.DSN, "VENUEBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "VENUEBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "VENUEBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "VENUEBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "VENUEBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "VENUEBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "VENUEBOT_DATABASE_SSLMODE")
	setBool(&cfg.Database.RunMigrations, "VENUEBOT_DATABASE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "VENUEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VENUEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VENUEBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "VENUEBOT_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "VENUEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VENUEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VENUEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "VENUEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VENUEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VENUEBOT_S3_SECRET_KEY")

	setStr(&cfg.Notify.TelegramBotToken, "VENUEBOT_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VENUEBOT_TELEGRAM_CHAT_ID")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
