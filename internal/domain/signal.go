package domain

import "time"

// SignalAction is a strategy's recommendation for the current tick.
type SignalAction string

const (
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
	SignalHold SignalAction = "hold"
)

// Signal is the ephemeral output of a strategy evaluation. It is never
// persisted directly; an executed signal produces a Trade.
type Signal struct {
	Action     SignalAction
	Confidence float64 // 0..1
	Reason     string
	Price      float64
	StopLoss   *float64
	TakeProfit *float64
	Metadata   map[string]string
	CreatedAt  time.Time
}
