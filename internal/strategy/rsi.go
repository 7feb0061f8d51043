package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
	"github.com/mkoval8/venuebot/internal/position"
)

// RSI is a mean-reversion strategy on the relative strength index: it buys
// when RSI drops below the oversold level and sells an open position when
// RSI rises above the overbought level. Confidence grows with the distance
// past the threshold.
//
// Config keys: rsi_period (default 14), oversold (default 30),
// overbought (default 70).
type RSI struct{}

var _ Strategy = (*RSI)(nil)

func NewRSI() *RSI { return &RSI{} }

func (s *RSI) Name() string { return "rsi" }

func (s *RSI) Analyze(ctx context.Context, candles []domain.Candle, config map[string]float64) (*domain.Signal, error) {
	period := int(cfgValue(config, "rsi_period", 14))
	oversold := cfgValue(config, "oversold", 30)
	overbought := cfgValue(config, "overbought", 70)
	if period <= 1 || oversold >= overbought {
		return nil, fmt.Errorf("strategy/rsi: invalid config period=%d oversold=%.0f overbought=%.0f",
			period, oversold, overbought)
	}
	if len(candles) < period+1 {
		return nil, nil
	}

	value := rsi(candles, period)
	price := candles[len(candles)-1].Close

	switch {
	case value <= oversold:
		return &domain.Signal{
			Action:     domain.SignalBuy,
			Confidence: thresholdConfidence(oversold-value, oversold),
			Reason:     fmt.Sprintf("RSI %.1f below oversold %.0f", value, oversold),
			Price:      price,
			CreatedAt:  time.Now().UTC(),
		}, nil
	case value >= overbought && config[position.CfgHasPosition] > 0:
		return &domain.Signal{
			Action:     domain.SignalSell,
			Confidence: thresholdConfidence(value-overbought, 100-overbought),
			Reason:     fmt.Sprintf("RSI %.1f above overbought %.0f", value, overbought),
			Price:      price,
			CreatedAt:  time.Now().UTC(),
		}, nil
	}
	return nil, nil
}

// thresholdConfidence maps how far past the threshold we are to [0.5, 0.95].
func thresholdConfidence(excess, span float64) float64 {
	if span <= 0 {
		return 0.5
	}
	c := 0.5 + 0.45*excess/span
	if c > 0.95 {
		c = 0.95
	}
	if c < 0.5 {
		c = 0.5
	}
	return c
}

// rsi computes Wilder's relative strength index over the last period bars.
func rsi(candles []domain.Candle, period int) float64 {
	gains, losses := 0.0, 0.0
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}
