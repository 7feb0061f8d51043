package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
	"github.com/mkoval8/venuebot/internal/position"
)

// Crossover is a dual simple-moving-average strategy: it buys when the
// fast SMA crosses above the slow one and sells an open position when it
// crosses back below. Confidence scales with the separation between the
// averages.
//
// Config keys: fast_period (default 9), slow_period (default 21).
type Crossover struct{}

var _ Strategy = (*Crossover)(nil)

func NewCrossover() *Crossover { return &Crossover{} }

func (s *Crossover) Name() string { return "crossover" }

func (s *Crossover) Analyze(ctx context.Context, candles []domain.Candle, config map[string]float64) (*domain.Signal, error) {
	fast := int(cfgValue(config, "fast_period", 9))
	slow := int(cfgValue(config, "slow_period", 21))
	if fast <= 0 || slow <= fast {
		return nil, fmt.Errorf("strategy/crossover: invalid periods fast=%d slow=%d", fast, slow)
	}
	// One extra bar to see the previous relation of the two averages.
	if len(candles) < slow+1 {
		return nil, nil
	}

	last := len(candles)
	fastNow := sma(candles[:last], fast)
	slowNow := sma(candles[:last], slow)
	fastPrev := sma(candles[:last-1], fast)
	slowPrev := sma(candles[:last-1], slow)
	price := candles[last-1].Close

	crossedUp := fastPrev <= slowPrev && fastNow > slowNow
	crossedDown := fastPrev >= slowPrev && fastNow < slowNow

	switch {
	case crossedUp:
		return &domain.Signal{
			Action:     domain.SignalBuy,
			Confidence: crossConfidence(fastNow, slowNow),
			Reason:     fmt.Sprintf("SMA%d crossed above SMA%d", fast, slow),
			Price:      price,
			CreatedAt:  time.Now().UTC(),
		}, nil
	case crossedDown && config[position.CfgHasPosition] > 0:
		return &domain.Signal{
			Action:     domain.SignalSell,
			Confidence: crossConfidence(slowNow, fastNow),
			Reason:     fmt.Sprintf("SMA%d crossed below SMA%d", fast, slow),
			Price:      price,
			CreatedAt:  time.Now().UTC(),
		}, nil
	}
	return nil, nil
}

// crossConfidence maps the relative separation of the averages to [0.5, 1).
func crossConfidence(above, below float64) float64 {
	if below <= 0 {
		return 0.5
	}
	sep := (above - below) / below
	c := 0.5 + sep*50
	if c > 0.99 {
		c = 0.99
	}
	if c < 0.5 {
		c = 0.5
	}
	return c
}

// sma averages the closes of the last period candles.
func sma(candles []domain.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period)
}
