// Package risk implements position sizing math and the per-bot safety
// gates: the consecutive-loss circuit breaker and the drawdown/loss-limit
// check that can force an emergency stop.
package risk

import (
	"math"

	"github.com/mkoval8/venuebot/internal/domain"
)

// TakeProfitLevel is one rung of a tiered exit ladder: close Fraction of
// the position when price reaches Price.
type TakeProfitLevel struct {
	Price    float64
	Fraction float64
}

// Sizing is the output of a sizing function: how much to buy, where the
// protective stop sits, and the take-profit ladder.
type Sizing struct {
	Size        float64
	StopLoss    float64
	TakeProfits []TakeProfitLevel
}

// FixedFractionSize risks riskPct percent of capital between entry and
// stop: size = riskAmount / |entry - stop|. The resulting notional is
// capped at maxPositionPct percent of capital. Returns 0 when the inputs
// cannot produce a meaningful size.
func FixedFractionSize(capital, riskPct, maxPositionPct, entry, stop float64) float64 {
	if capital <= 0 || riskPct <= 0 || entry <= 0 {
		return 0
	}
	dist := math.Abs(entry - stop)
	if dist == 0 {
		return 0
	}

	size := capital * riskPct / 100 / dist
	if maxPositionPct > 0 {
		maxSize := capital * maxPositionPct / 100 / entry
		size = math.Min(size, maxSize)
	}
	return size
}

// ATRSize sizes a position from volatility: the stop sits atrMultSL ATRs
// away from entry and the risk amount is divided by that distance. When ATR
// is zero or negative (flat market, short window) it falls back to
// fixed-fraction sizing with the configured default stop percent, so the
// caller never divides by zero.
//
// Take profits are laddered at 0.5x, 1x, and 1.5x the TP ATR multiple with
// 30/40/30 weighting.
func ATRSize(cfg domain.RiskConfig, entry, atr float64, side domain.PositionSide) Sizing {
	dir := 1.0
	if side == domain.PositionShort {
		dir = -1.0
	}

	stopDist := atr * cfg.ATRMultiplierSL
	if atr <= 0 || stopDist <= 0 {
		stop := entry * (1 - dir*cfg.DefaultStopLossPct/100)
		size := FixedFractionSize(cfg.Capital, cfg.MaxRiskPerTradePct, cfg.MaxPositionSizePct, entry, stop)
		return Sizing{
			Size:        size,
			StopLoss:    stop,
			TakeProfits: TieredTakeProfits(entry, stop, side),
		}
	}

	stop := entry - dir*stopDist
	size := FixedFractionSize(cfg.Capital, cfg.MaxRiskPerTradePct, cfg.MaxPositionSizePct, entry, stop)

	tpDist := atr * cfg.ATRMultiplierTP
	return Sizing{
		Size:     size,
		StopLoss: stop,
		TakeProfits: []TakeProfitLevel{
			{Price: entry + dir*0.5*tpDist, Fraction: 0.30},
			{Price: entry + dir*1.0*tpDist, Fraction: 0.40},
			{Price: entry + dir*1.5*tpDist, Fraction: 0.30},
		},
	}
}

// VolatilityScaledSize scales base by targetVolPct/currentVolPct, clamped
// to [0.2, 2.0] so a quiet market never more than doubles exposure and a
// violent one never shrinks it below a fifth. A non-positive current
// volatility leaves base unchanged.
func VolatilityScaledSize(base, targetVolPct, currentVolPct float64) float64 {
	if base <= 0 || targetVolPct <= 0 || currentVolPct <= 0 {
		return base
	}
	scale := targetVolPct / currentVolPct
	scale = math.Max(0.2, math.Min(2.0, scale))
	return base * scale
}

// KellyFraction returns half the classic Kelly fraction (p*b - q)/b with
// b = avgWin/|avgLoss|, clamped to [0, 0.25]. Degenerate inputs (zero
// average loss, win rate outside (0,1)) return 0.
func KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if winRate <= 0 || winRate >= 1 || avgLoss == 0 || avgWin <= 0 {
		return 0
	}
	b := avgWin / math.Abs(avgLoss)
	raw := (winRate*b - (1 - winRate)) / b
	half := raw / 2
	return math.Max(0, math.Min(0.25, half))
}

// TieredTakeProfits builds a 25/50/25 exit ladder at 1x, 2x, and 4x the
// entry-to-stop risk distance, in the profit direction for the given side.
func TieredTakeProfits(entry, stop float64, side domain.PositionSide) []TakeProfitLevel {
	dist := math.Abs(entry - stop)
	if dist == 0 {
		return nil
	}
	dir := 1.0
	if side == domain.PositionShort {
		dir = -1.0
	}
	return []TakeProfitLevel{
		{Price: entry + dir*1*dist, Fraction: 0.25},
		{Price: entry + dir*2*dist, Fraction: 0.50},
		{Price: entry + dir*4*dist, Fraction: 0.25},
	}
}

// ATR computes the average true range over the last window candles,
// seeded with a simple mean. Returns 0 when the series is shorter than
// window+1 bars.
func ATR(candles []domain.Candle, window int) float64 {
	if window <= 0 || len(candles) < window+1 {
		return 0
	}

	sum := 0.0
	start := len(candles) - window
	for i := start; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		tr := math.Max(cur.High-cur.Low,
			math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		sum += tr
	}
	return sum / float64(window)
}

// RealizedVolatilityPct is the sample standard deviation of close-to-close
// returns over the candle series, in percent. Used to feed
// VolatilityScaledSize.
func RealizedVolatilityPct(candles []domain.Candle) float64 {
	if len(candles) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		if candles[i-1].Close == 0 {
			continue
		}
		returns = append(returns, candles[i].Close/candles[i-1].Close-1)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * 100
}
