package domain

import "time"

// Trade is the persisted fact of an executed fill. PnL is nil until a
// closing fill realizes it.
type Trade struct {
	ID         string
	BotID      string
	Symbol     string
	Venue      string
	Mode       BotMode
	Side       OrderSide
	Price      float64
	Amount     float64
	Fee        float64
	PnL        *float64
	Reason     string
	ExecutedAt time.Time
}
