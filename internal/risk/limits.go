package risk

import (
	"fmt"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
)

// Verdict is the outcome of the enhanced risk check. EmergencyStop demands
// force-liquidation and a halt; a merely blocked verdict skips the tick.
type Verdict struct {
	Allowed       bool
	EmergencyStop bool
	Reason        string

	// Equity figures used by the decision, surfaced so emergency stops can
	// report the exact numbers that triggered them.
	PeakEquity    float64
	CurrentEquity float64
	DrawdownPct   float64
}

// ledgerSums is what checkLimits needs from the realized trade ledger.
type ledgerSums struct {
	realizedTotal  float64
	realizedDaily  float64
	realizedWeekly float64
	tradesToday    int64
}

// checkLimits evaluates the safety gates in strict priority order, first
// violation wins:
//
//  1. drawdown from peak equity (including unrealized P&L) against
//     MaxDrawdownPct — violation is an emergency stop, not a skip;
//  2. daily trade count against MaxDailyTrades;
//  3. daily realized+unrealized loss against MaxDailyLossPct;
//  4. weekly realized+unrealized loss against MaxWeeklyLossPct.
//
// peak is the previously tracked peak equity; the returned verdict carries
// the (possibly raised) peak for the caller to store when trading proceeds.
func checkLimits(cfg domain.RiskConfig, sums ledgerSums, unrealized, peak float64) Verdict {
	equity := cfg.Capital + sums.realizedTotal + unrealized
	if peak <= 0 {
		peak = cfg.Capital
	}

	if cfg.MaxDrawdownPct > 0 && peak > 0 {
		drawdown := (peak - equity) / peak * 100
		if drawdown >= cfg.MaxDrawdownPct {
			return Verdict{
				EmergencyStop: true,
				Reason: fmt.Sprintf("drawdown %.1f%% breaches limit %.1f%% (peak equity %.2f, current %.2f)",
					drawdown, cfg.MaxDrawdownPct, peak, equity),
				PeakEquity:    peak,
				CurrentEquity: equity,
				DrawdownPct:   drawdown,
			}
		}
	}

	if cfg.MaxDailyTrades > 0 && sums.tradesToday >= int64(cfg.MaxDailyTrades) {
		return Verdict{
			Reason:        fmt.Sprintf("daily trade cap reached: %d of %d", sums.tradesToday, cfg.MaxDailyTrades),
			PeakEquity:    peak,
			CurrentEquity: equity,
		}
	}

	if cfg.MaxDailyLossPct > 0 && cfg.Capital > 0 {
		dailyPnL := sums.realizedDaily + unrealized
		if lossPct := -dailyPnL / cfg.Capital * 100; dailyPnL < 0 && lossPct >= cfg.MaxDailyLossPct {
			return Verdict{
				Reason:        fmt.Sprintf("daily loss %.1f%% breaches limit %.1f%%", lossPct, cfg.MaxDailyLossPct),
				PeakEquity:    peak,
				CurrentEquity: equity,
			}
		}
	}

	if cfg.MaxWeeklyLossPct > 0 && cfg.Capital > 0 {
		weeklyPnL := sums.realizedWeekly + unrealized
		if lossPct := -weeklyPnL / cfg.Capital * 100; weeklyPnL < 0 && lossPct >= cfg.MaxWeeklyLossPct {
			return Verdict{
				Reason:        fmt.Sprintf("weekly loss %.1f%% breaches limit %.1f%%", lossPct, cfg.MaxWeeklyLossPct),
				PeakEquity:    peak,
				CurrentEquity: equity,
			}
		}
	}

	if equity > peak {
		peak = equity
	}
	return Verdict{Allowed: true, PeakEquity: peak, CurrentEquity: equity}
}

// startOfDay returns midnight UTC of now's date.
func startOfDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// startOfWeek returns midnight UTC of the most recent Monday.
func startOfWeek(now time.Time) time.Time {
	day := startOfDay(now)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
