package position

import (
	"fmt"

	"github.com/mkoval8/venuebot/internal/domain"
)

// ExitInstruction is a forced close produced by the protective-exit check.
type ExitInstruction struct {
	Trigger string // "stop_loss" or "take_profit"
	Reason  string
}

// CheckStopLossTakeProfit evaluates the position's protective levels at
// currentPrice, direction-aware: a long stops out when price falls to or
// below the stop and takes profit at or above the target; shorts mirror.
// Stop-loss is checked first. Returns nil when neither level is hit.
func CheckStopLossTakeProfit(p domain.Position, currentPrice float64) *ExitInstruction {
	if !p.IsOpen || currentPrice <= 0 {
		return nil
	}

	movePct := p.UnrealizedPnLPct(currentPrice)

	if p.StopLoss != nil {
		hit := currentPrice <= *p.StopLoss
		if p.Side == domain.PositionShort {
			hit = currentPrice >= *p.StopLoss
		}
		if hit {
			return &ExitInstruction{
				Trigger: "stop_loss",
				Reason: fmt.Sprintf("stop loss hit at %.8g (entry %.8g, move %+.2f%%)",
					currentPrice, p.EntryPrice, movePct),
			}
		}
	}

	if p.TakeProfit != nil {
		hit := currentPrice >= *p.TakeProfit
		if p.Side == domain.PositionShort {
			hit = currentPrice <= *p.TakeProfit
		}
		if hit {
			return &ExitInstruction{
				Trigger: "take_profit",
				Reason: fmt.Sprintf("take profit hit at %.8g (entry %.8g, move %+.2f%%)",
					currentPrice, p.EntryPrice, movePct),
			}
		}
	}

	return nil
}
