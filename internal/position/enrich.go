package position

import "github.com/mkoval8/venuebot/internal/domain"

// Keys EnrichConfig injects into the strategy config map. Strategies read
// them to implement position-aware behavior without tracking state.
const (
	CfgHasPosition      = "has_position"
	CfgPositionSide     = "position_side" // +1 long, -1 short
	CfgPositionEntry    = "position_entry"
	CfgPositionAmount   = "position_amount"
	CfgUnrealizedPnL    = "unrealized_pnl"
	CfgUnrealizedPnLPct = "unrealized_pnl_pct"
)

// EnrichConfig copies base and overlays position-derived fields evaluated
// at currentPrice. With no open position only the has-position flag (0) is
// set. The input map is never mutated.
func EnrichConfig(base map[string]float64, p domain.Position, hasPosition bool, currentPrice float64) map[string]float64 {
	out := make(map[string]float64, len(base)+6)
	for k, v := range base {
		out[k] = v
	}

	if !hasPosition || !p.IsOpen {
		out[CfgHasPosition] = 0
		return out
	}

	side := 1.0
	if p.Side == domain.PositionShort {
		side = -1.0
	}
	out[CfgHasPosition] = 1
	out[CfgPositionSide] = side
	out[CfgPositionEntry] = p.EntryPrice
	out[CfgPositionAmount] = p.Amount
	out[CfgUnrealizedPnL] = p.UnrealizedPnL(currentPrice)
	out[CfgUnrealizedPnLPct] = p.UnrealizedPnLPct(currentPrice)
	return out
}
