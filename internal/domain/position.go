package domain

import "time"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is the authoritative in-memory record of a bot's exposure in one
// symbol. At most one open position exists per (bot, symbol); same-direction
// fills update the volume-weighted entry price, an opposite-direction fill
// closes it and realizes P&L.
type Position struct {
	BotID      string
	Symbol     string
	IsOpen     bool
	Side       PositionSide
	EntryPrice float64 // volume-weighted average
	Amount     float64
	TotalCost  float64
	OpenedAt   time.Time
	StopLoss   *float64
	TakeProfit *float64
}

// UnrealizedPnL returns the mark-to-market P&L of the position at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if !p.IsOpen || p.Amount == 0 {
		return 0
	}
	if p.Side == PositionShort {
		return (p.EntryPrice - price) * p.Amount
	}
	return (price - p.EntryPrice) * p.Amount
}

// UnrealizedPnLPct returns the unrealized P&L as a percentage of cost.
func (p Position) UnrealizedPnLPct(price float64) float64 {
	if !p.IsOpen || p.TotalCost == 0 {
		return 0
	}
	return p.UnrealizedPnL(price) / p.TotalCost * 100
}
