// Package config defines the top-level configuration for venuebot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by VENUEBOT_* environment
// variables.
type Config struct {
	Venues    map[string]VenueConfig `toml:"venues"`
	Database  DatabaseConfig         `toml:"database"`
	Redis     RedisConfig            `toml:"redis"`
	S3        S3Config               `toml:"s3"`
	Scheduler SchedulerConfig        `toml:"scheduler"`
	Risk      RiskDefaults           `toml:"risk"`
	Notify    NotifyConfig           `toml:"notify"`
	Archive   ArchiveConfig          `toml:"archive"`
	Mode      string                 `toml:"mode"`
	LogLevel  string                 `toml:"log_level"`
}

// VenueConfig holds the endpoints and credentials for one trading venue.
type VenueConfig struct {
	BaseURL             string  `toml:"base_url"`
	PublicBaseURL       string  `toml:"public_base_url"`
	WsURL               string  `toml:"ws_url"`
	APIKey              string  `toml:"api_key"`
	APISecret           string  `toml:"api_secret"`
	EncryptedSecretPath string  `toml:"encrypted_secret_path"`
	SecretPassword      string  `toml:"secret_password"`
	FeeRate             float64 `toml:"fee_rate"`
	RequestTimeoutMs    int     `toml:"request_timeout_ms"`
	RateLimitPerSecond  int     `toml:"rate_limit_per_second"`
	// PaperStartBalance seeds the quote-asset ledger of paper bots on this
	// venue.
	PaperStartBalance float64 `toml:"paper_start_balance"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Enabled        bool   `toml:"enabled"`
}

// SchedulerConfig holds the per-bot control loop timings.
type SchedulerConfig struct {
	PaperTickIntervalMs    int    `toml:"paper_tick_interval_ms"`
	RealTickIntervalMs     int    `toml:"real_tick_interval_ms"`
	CheckpointEveryTicks   int    `toml:"checkpoint_every_ticks"`
	Timeframe              string `toml:"timeframe"`
	CandleWindow           int    `toml:"candle_window"`
	ATRWindow              int    `toml:"atr_window"`
	AuditRingSize          int    `toml:"audit_ring_size"`
	FetchOrderMaxAttempts  int    `toml:"fetch_order_max_attempts"`
	FetchOrderBaseDelayMs  int    `toml:"fetch_order_base_delay_ms"`
	HistoryPageDelayMs     int    `toml:"history_page_delay_ms"`
	HistoryMaxRows         int    `toml:"history_max_rows"`
	CacheSweepIntervalSecs int    `toml:"cache_sweep_interval_secs"`
}

// RiskDefaults are the fallback risk tunables applied when a bot's own
// RiskConfig leaves a field unset.
type RiskDefaults struct {
	Capital                  float64 `toml:"capital"`
	MaxRiskPerTradePct       float64 `toml:"max_risk_per_trade_pct"`
	MaxDailyLossPct          float64 `toml:"max_daily_loss_pct"`
	MaxWeeklyLossPct         float64 `toml:"max_weekly_loss_pct"`
	MaxPositionSizePct       float64 `toml:"max_position_size_pct"`
	DefaultStopLossPct       float64 `toml:"default_stop_loss_pct"`
	ATRMultiplierSL          float64 `toml:"atr_multiplier_sl"`
	ATRMultiplierTP          float64 `toml:"atr_multiplier_tp"`
	TargetVolatilityPct      float64 `toml:"target_volatility_pct"`
	MaxConsecutiveLosses     int     `toml:"max_consecutive_losses"`
	CircuitBreakerCooldownMs int     `toml:"circuit_breaker_cooldown_ms"`
	MaxDrawdownPct           float64 `toml:"max_drawdown_pct"`
	MaxDailyTrades           int     `toml:"max_daily_trades"`
	MinConfidence            float64 `toml:"min_confidence"`
}

// NotifyConfig holds notification backend settings. Events filters which
// event types are forwarded; empty means all.
type NotifyConfig struct {
	TelegramBotToken  string   `toml:"telegram_bot_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls the background archival loop.
type ArchiveConfig struct {
	IntervalHours int `toml:"interval_hours"`
	RetentionDays int `toml:"retention_days"`
}

var validModes = map[string]bool{
	"trade": true,
	"paper": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for inconsistencies and returns an error
// listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue must be configured")
	}
	for name, v := range c.Venues {
		if v.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: base_url must not be empty", name))
		}
		if strings.ToLower(c.Mode) == "trade" {
			if v.APIKey == "" {
				errs = append(errs, fmt.Sprintf("venues.%s: api_key is required for mode trade", name))
			}
			if v.APISecret == "" && v.EncryptedSecretPath == "" {
				errs = append(errs, fmt.Sprintf("venues.%s: either api_secret or encrypted_secret_path must be set", name))
			}
			if v.EncryptedSecretPath != "" && v.SecretPassword == "" {
				errs = append(errs, fmt.Sprintf("venues.%s: secret_password is required when encrypted_secret_path is set", name))
			}
		}
		if v.FeeRate < 0 || v.FeeRate > 0.05 {
			errs = append(errs, fmt.Sprintf("venues.%s: fee_rate %.4f outside sane range [0, 0.05]", name, v.FeeRate))
		}
	}

	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "") {
		errs = append(errs, "database: either dsn or host/database/user must be set")
	}

	if c.Scheduler.PaperTickIntervalMs <= 0 {
		errs = append(errs, "scheduler: paper_tick_interval_ms must be positive")
	}
	if c.Scheduler.RealTickIntervalMs <= 0 {
		errs = append(errs, "scheduler: real_tick_interval_ms must be positive")
	}

	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 100 {
		errs = append(errs, "risk: max_drawdown_pct must be in (0, 100)")
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1 {
		errs = append(errs, "risk: min_confidence must be in [0, 1]")
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		errs = append(errs, "risk: max_consecutive_losses must be positive")
	}

	if (c.Notify.TelegramBotToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_bot_token and telegram_chat_id must be set together")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when s3 is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequestTimeout returns the venue's outbound call timeout.
func (v VenueConfig) RequestTimeout() time.Duration {
	if v.RequestTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(v.RequestTimeoutMs) * time.Millisecond
}
