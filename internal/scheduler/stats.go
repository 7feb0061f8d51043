package scheduler

import (
	"context"
	"fmt"

	"github.com/mkoval8/venuebot/internal/domain"
)

// BotStats is the read-only summary exposed to the API layer.
type BotStats struct {
	BotID       string             `json:"bot_id"`
	Trades      int                `json:"trades"`
	Wins        int                `json:"wins"`
	Losses      int                `json:"losses"`
	WinRate     float64            `json:"win_rate"`
	RealizedPnL float64            `json:"realized_pnl"`
	Balances    map[string]float64 `json:"balances,omitempty"`
	HasPosition bool               `json:"has_position"`
}

// Stats summarizes a bot's realized trades and, for a running paper bot,
// its simulated balances.
func (s *Scheduler) Stats(ctx context.Context, botID string) (BotStats, error) {
	trades, err := s.stores.Trades.ListByBot(ctx, botID, domain.ListOpts{Limit: 1000})
	if err != nil {
		return BotStats{}, fmt.Errorf("scheduler: stats for bot %s: %w", botID, err)
	}

	stats := BotStats{BotID: botID}
	for _, t := range trades {
		if t.PnL == nil {
			continue
		}
		stats.Trades++
		stats.RealizedPnL += *t.PnL
		if *t.PnL >= 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}
	if stats.Trades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
	}

	s.mu.Lock()
	runner := s.running[botID]
	s.mu.Unlock()
	if runner != nil {
		if _, ok := s.tracker.Get(botID, runner.bot.Symbol); ok {
			stats.HasPosition = true
		}
		if runner.paper != nil {
			if balances, err := runner.paper.Balances(ctx); err == nil {
				stats.Balances = make(map[string]float64, len(balances))
				for asset, b := range balances {
					stats.Balances[asset] = b.Total
				}
			}
		}
	}
	return stats, nil
}
