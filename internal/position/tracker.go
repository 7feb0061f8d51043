// Package position tracks open positions per (bot, symbol) and implements
// the protective-exit check that runs before any strategy evaluation.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
)

// Tracker holds at most one open position per (bot, symbol). Same-direction
// fills average into the existing position; an opposite fill closes it and
// realizes P&L. Safe for concurrent use by independent bot loops.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]domain.Position)}
}

func key(botID, symbol string) string { return botID + "|" + symbol }

// Get returns the open position for (bot, symbol), if any.
func (t *Tracker) Get(botID, symbol string) (domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.positions[key(botID, symbol)]
	if !ok || !p.IsOpen {
		return domain.Position{}, false
	}
	return p, true
}

// OpenOrAverage records a fill in the position's direction. With no open
// position it opens one; with an existing same-side position it re-averages
// the entry price by volume and accumulates cost. Stop and take-profit,
// when non-nil, replace the stored levels. Opening against an existing
// opposite-side position is a contract violation and returns an error;
// callers close first.
func (t *Tracker) OpenOrAverage(botID, symbol string, side domain.PositionSide, price, amount float64, stop, takeProfit *float64) (domain.Position, error) {
	if price <= 0 || amount <= 0 {
		return domain.Position{}, fmt.Errorf("position: non-positive fill %f @ %f: %w", amount, price, domain.ErrInvalidOrder)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(botID, symbol)
	p, ok := t.positions[k]
	if !ok || !p.IsOpen {
		p = domain.Position{
			BotID:      botID,
			Symbol:     symbol,
			IsOpen:     true,
			Side:       side,
			EntryPrice: price,
			Amount:     amount,
			TotalCost:  price * amount,
			OpenedAt:   time.Now().UTC(),
			StopLoss:   stop,
			TakeProfit: takeProfit,
		}
		t.positions[k] = p
		return p, nil
	}

	if p.Side != side {
		return domain.Position{}, fmt.Errorf("position: bot %s already %s %s, cannot add %s", botID, p.Side, symbol, side)
	}

	p.TotalCost += price * amount
	p.Amount += amount
	p.EntryPrice = p.TotalCost / p.Amount
	if stop != nil {
		p.StopLoss = stop
	}
	if takeProfit != nil {
		p.TakeProfit = takeProfit
	}
	t.positions[k] = p
	return p, nil
}

// Close closes the open position at exitPrice and returns the closed
// position together with its realized P&L. Closing a missing position
// returns ErrNotFound.
func (t *Tracker) Close(botID, symbol string, exitPrice float64) (domain.Position, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(botID, symbol)
	p, ok := t.positions[k]
	if !ok || !p.IsOpen {
		return domain.Position{}, 0, fmt.Errorf("position: bot %s has no open %s position: %w", botID, symbol, domain.ErrNotFound)
	}

	pnl := p.UnrealizedPnL(exitPrice)
	delete(t.positions, k)

	closed := p
	closed.IsOpen = false
	return closed, pnl, nil
}

// Restore reinstates a previously tracked position, used by real-mode
// reconciliation and crash recovery.
func (t *Tracker) Restore(p domain.Position) {
	if !p.IsOpen {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[key(p.BotID, p.Symbol)] = p
}

// DropBot forgets all positions for a bot, used when its loop stops.
func (t *Tracker) DropBot(botID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for k, p := range t.positions {
		if p.BotID == botID {
			delete(t.positions, k)
		}
	}
}
