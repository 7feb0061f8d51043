package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval8/venuebot/internal/domain"
)

func testRiskConfig() domain.RiskConfig {
	return domain.RiskConfig{
		Capital:            10_000,
		MaxRiskPerTradePct: 2,
		MaxPositionSizePct: 25,
		DefaultStopLossPct: 2,
		ATRMultiplierSL:    1.5,
		ATRMultiplierTP:    3,
	}
}

func TestFixedFractionSize(t *testing.T) {
	// Risk 2% of 10k = 200 over a 100 stop distance -> 2 units, but the
	// 25% notional cap at entry 1000 limits it to 2.5 units, so 2 stands.
	size := FixedFractionSize(10_000, 2, 25, 1_000, 900)
	assert.InDelta(t, 2.0, size, 1e-9)

	// Tight stop would give 20 units = 20k notional; the cap wins.
	size = FixedFractionSize(10_000, 2, 25, 1_000, 990)
	assert.InDelta(t, 2.5, size, 1e-9)

	assert.Zero(t, FixedFractionSize(0, 2, 25, 1_000, 900))
	assert.Zero(t, FixedFractionSize(10_000, 2, 25, 1_000, 1_000), "zero stop distance")
}

func TestATRSizeLlongLadder(t *testing.T) {
	cfg := testRiskConfig()
	s := ATRSize(cfg, 1_000, 20, domain.PositionLong)

	// Stop 1.5 ATRs below entry.
	assert.InDelta(t, 970.0, s.StopLoss, 1e-9)
	assert.InDelta(t, FixedFractionSize(cfg.Capital, cfg.MaxRiskPerTradePct, cfg.MaxPositionSizePct, 1_000, 970), s.Size, 1e-9)

	// 30/40/30 ladder at 0.5x/1x/1.5x of the 60-point TP distance.
	require.Len(t, s.TakeProfits, 3)
	assert.InDelta(t, 1_030.0, s.TakeProfits[0].Price, 1e-9)
	assert.InDelta(t, 1_060.0, s.TakeProfits[1].Price, 1e-9)
	assert.InDelta(t, 1_090.0, s.TakeProfits[2].Price, 1e-9)
	assert.Equal(t, 0.30, s.TakeProfits[0].Fraction)
	assert.Equal(t, 0.40, s.TakeProfits[1].Fraction)
	assert.Equal(t, 0.30, s.TakeProfits[2].Fraction)
}

func TestATRSizeShortMirrors(t *testing.T) {
	s := ATRSize(testRiskConfig(), 1_000, 20, domain.PositionShort)

	assert.InDelta(t, 1_030.0, s.StopLoss, 1e-9, "short stop sits above entry")
	require.Len(t, s.TakeProfits, 3)
	assert.InDelta(t, 970.0, s.TakeProfits[0].Price, 1e-9)
	assert.InDelta(t, 910.0, s.TakeProfits[2].Price, 1e-9)
}

func TestATRSizeFallsBackWhenATRZero(t *testing.T) {
	cfg := testRiskConfig()
	s := ATRSize(cfg, 1_000, 0, domain.PositionLong)

	// Flat market: default percent stop instead of a divide-by-zero.
	assert.InDelta(t, 980.0, s.StopLoss, 1e-9)
	assert.InDelta(t, FixedFractionSize(cfg.Capital, cfg.MaxRiskPerTradePct, cfg.MaxPositionSizePct, 1_000, 980), s.Size, 1e-9)

	// Fallback ladder is the 25/50/25 risk-distance ladder.
	require.Len(t, s.TakeProfits, 3)
	assert.InDelta(t, 1_020.0, s.TakeProfits[0].Price, 1e-9)
	assert.InDelta(t, 1_040.0, s.TakeProfits[1].Price, 1e-9)
	assert.InDelta(t, 1_080.0, s.TakeProfits[2].Price, 1e-9)
	assert.Equal(t, 0.25, s.TakeProfits[0].Fraction)
	assert.Equal(t, 0.50, s.TakeProfits[1].Fraction)
}

func TestVolatilityScaledSizeClamps(t *testing.T) {
	assert.InDelta(t, 2.0, VolatilityScaledSize(1, 4, 2), 1e-9, "quiet market doubles")
	assert.InDelta(t, 2.0, VolatilityScaledSize(1, 100, 2), 1e-9, "never more than 2x")
	assert.InDelta(t, 0.2, VolatilityScaledSize(1, 1, 100), 1e-9, "never below 0.2x")
	assert.Equal(t, 1.0, VolatilityScaledSize(1, 2, 0), "unknown volatility leaves size alone")
}

func TestKellyFraction(t *testing.T) {
	// p=0.55, b=100/80=1.25: raw Kelly 0.19, half 0.095.
	assert.InDelta(t, 0.095, KellyFraction(0.55, 100, -80), 1e-9)

	// Very favorable odds clamp at the quarter-Kelly ceiling.
	assert.Equal(t, 0.25, KellyFraction(0.9, 500, -50))

	// Negative-edge systems size to zero, never negative.
	assert.Zero(t, KellyFraction(0.3, 50, -100))

	// Degenerate inputs.
	assert.Zero(t, KellyFraction(0, 100, -80))
	assert.Zero(t, KellyFraction(1, 100, -80))
	assert.Zero(t, KellyFraction(0.55, 100, 0))
	assert.Zero(t, KellyFraction(0.55, 0, -80))
}

func TestTieredTakeProfits(t *testing.T) {
	levels := TieredTakeProfits(1_000, 950, domain.PositionLong)
	require.Len(t, levels, 3)
	assert.InDelta(t, 1_050.0, levels[0].Price, 1e-9)
	assert.InDelta(t, 1_100.0, levels[1].Price, 1e-9)
	assert.InDelta(t, 1_200.0, levels[2].Price, 1e-9)

	short := TieredTakeProfits(1_000, 1_050, domain.PositionShort)
	require.Len(t, short, 3)
	assert.InDelta(t, 950.0, short[0].Price, 1e-9)

	assert.Nil(t, TieredTakeProfits(1_000, 1_000, domain.PositionLong))
}

func TestATR(t *testing.T) {
	candles := []domain.Candle{
		{High: 105, Low: 95, Close: 100},
		{High: 110, Low: 100, Close: 105}, // TR 10
		{High: 111, Low: 103, Close: 110}, // TR 8
		{High: 118, Low: 108, Close: 112}, // TR 10
	}
	assert.InDelta(t, (10.0+8+10)/3, ATR(candles, 3), 1e-9)

	assert.Zero(t, ATR(candles, 4), "needs window+1 bars")
	assert.Zero(t, ATR(nil, 14))
	assert.Zero(t, ATR(candles, 0))
}

func TestRealizedVolatilityPct(t *testing.T) {
	flat := []domain.Candle{{Close: 100}, {Close: 100}, {Close: 100}, {Close: 100}}
	assert.Zero(t, RealizedVolatilityPct(flat))

	// Alternating +-1% returns have a well-defined sample stddev near 1%.
	series := []domain.Candle{{Close: 100}, {Close: 101}, {Close: 99.99}, {Close: 100.99}, {Close: 99.98}}
	got := RealizedVolatilityPct(series)
	assert.Greater(t, got, 0.9)
	assert.Less(t, got, 1.2)

	assert.Zero(t, RealizedVolatilityPct(series[:2]), "too short")
}
