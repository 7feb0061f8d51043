package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
)

// botState is the mutable per-bot safety state the engine tracks in memory.
type botState struct {
	breaker    lossBreaker
	peakEquity float64
}

// Engine evaluates risk for running bots. The sizing functions in this
// package are pure; the engine adds the two stateful gates (consecutive-loss
// breaker, drawdown/loss limits) and the trade-ledger queries they need.
// Safe for concurrent use by independent bot loops.
type Engine struct {
	trades domain.TradeStore
	logger *slog.Logger

	mu    sync.Mutex
	state map[string]*botState
}

// NewEngine creates an engine backed by the given trade ledger.
func NewEngine(trades domain.TradeStore, logger *slog.Logger) *Engine {
	return &Engine{
		trades: trades,
		logger: logger.With("component", "risk_engine"),
		state:  make(map[string]*botState),
	}
}

func (e *Engine) botState(botID string) *botState {
	s, ok := e.state[botID]
	if !ok {
		s = &botState{}
		e.state[botID] = s
	}
	return s
}

// RecordTradeResult feeds one realized trade P&L into the bot's
// consecutive-loss breaker.
func (e *Engine) RecordTradeResult(botID string, pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.botState(botID).breaker.record(pnl, time.Now())
}

// CheckCircuitBreaker reports whether the bot's consecutive-loss breaker
// currently blocks trading, with a displayable reason when it does.
func (e *Engine) CheckCircuitBreaker(botID string, cfg domain.RiskConfig) (blocked bool, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.botState(botID).breaker.tripped(cfg.MaxConsecutiveLosses, cfg.CircuitBreakerCooldown, time.Now())
}

// CheckLimits runs the enhanced risk check for a bot: realized P&L scoped
// to day and week from the trade ledger, combined with the current
// unrealized P&L, against the drawdown kill-switch, the daily trade cap,
// and the daily/weekly loss limits. When the verdict allows trading the
// tracked peak equity is raised to the current equity if higher.
func (e *Engine) CheckLimits(ctx context.Context, botID string, cfg domain.RiskConfig, unrealized float64) (Verdict, error) {
	now := time.Now()

	sums, err := e.ledgerSums(ctx, botID, now)
	if err != nil {
		return Verdict{}, fmt.Errorf("risk: ledger sums for bot %s: %w", botID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.botState(botID)
	v := checkLimits(cfg, sums, unrealized, s.peakEquity)
	if v.Allowed {
		s.peakEquity = v.PeakEquity
	} else {
		e.logger.Warn("risk gate blocked trading",
			"bot_id", botID,
			"reason", v.Reason,
			"emergency", v.EmergencyStop)
	}
	return v, nil
}

// ResetBot drops the in-memory safety state for a bot, used when the bot
// stops so a later restart begins fresh.
func (e *Engine) ResetBot(botID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.state, botID)
}

// PerformanceStats summarizes the ledger for Kelly sizing and reporting.
type PerformanceStats struct {
	Trades  int
	Wins    int
	WinRate float64
	AvgWin  float64
	AvgLoss float64
}

// Performance computes win rate and average win/loss over the bot's
// realized trades, most recent first up to limit rows.
func (e *Engine) Performance(ctx context.Context, botID string, limit int) (PerformanceStats, error) {
	trades, err := e.trades.ListByBot(ctx, botID, domain.ListOpts{Limit: limit})
	if err != nil {
		return PerformanceStats{}, fmt.Errorf("risk: list trades for bot %s: %w", botID, err)
	}

	var stats PerformanceStats
	var winSum, lossSum float64
	var losses int
	for _, t := range trades {
		if t.PnL == nil {
			continue
		}
		stats.Trades++
		if *t.PnL >= 0 {
			stats.Wins++
			winSum += *t.PnL
		} else {
			losses++
			lossSum += *t.PnL
		}
	}
	if stats.Trades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
	}
	if stats.Wins > 0 {
		stats.AvgWin = winSum / float64(stats.Wins)
	}
	if losses > 0 {
		stats.AvgLoss = lossSum / float64(losses)
	}
	return stats, nil
}

func (e *Engine) ledgerSums(ctx context.Context, botID string, now time.Time) (ledgerSums, error) {
	var sums ledgerSums
	var err error

	if sums.realizedTotal, err = e.trades.SumPnLSince(ctx, botID, time.Time{}); err != nil {
		return sums, err
	}
	if sums.realizedDaily, err = e.trades.SumPnLSince(ctx, botID, startOfDay(now)); err != nil {
		return sums, err
	}
	if sums.realizedWeekly, err = e.trades.SumPnLSince(ctx, botID, startOfWeek(now)); err != nil {
		return sums, err
	}
	if sums.tradesToday, err = e.trades.CountSince(ctx, botID, startOfDay(now)); err != nil {
		return sums, err
	}
	return sums, nil
}
