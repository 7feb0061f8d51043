package domain

import "time"

// BotMode selects between simulated and real-money execution.
type BotMode string

const (
	ModePaper BotMode = "paper"
	ModeReal  BotMode = "real"
)

// BotStatus is the durable lifecycle state of a bot.
type BotStatus string

const (
	BotStatusStopped BotStatus = "stopped"
	BotStatusRunning BotStatus = "running"
	// BotStatusError is reached only through the emergency-stop path.
	BotStatusError BotStatus = "error"
)

// Bot is the durable identity of a trading bot. The record is owned by the
// external API layer; the core reacts to start/stop commands and writes
// status transitions back through BotStore.
type Bot struct {
	ID        string
	UserID    string
	Symbol    string
	Venue     string
	Strategy  string
	Mode      BotMode
	Status    BotStatus
	Config    map[string]float64
	Risk      RiskConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RiskConfig holds the per-bot risk tunables. Zero values fall back to the
// configured defaults at start time.
type RiskConfig struct {
	Capital                float64
	MaxRiskPerTradePct     float64
	MaxDailyLossPct        float64
	MaxWeeklyLossPct       float64
	MaxPositionSizePct     float64
	DefaultStopLossPct     float64
	ATRMultiplierSL        float64
	ATRMultiplierTP        float64
	TargetVolatilityPct    float64
	MaxConsecutiveLosses   int
	CircuitBreakerCooldown time.Duration
	MaxDrawdownPct         float64
	MaxDailyTrades         int
	MinConfidence          float64
}
