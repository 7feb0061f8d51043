package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
	"github.com/mkoval8/venuebot/internal/position"
)

// Grid lays a ladder of buy levels below an anchor price and averages into
// a position as price steps down through them, selling the whole position
// once price recovers a configured percentage above the averaged entry.
// Its ladder state survives restarts via the StateSerializer capability.
//
// Config keys: grid_step_pct (default 1.0), grid_levels (default 5),
// grid_profit_pct (default 1.5).
type Grid struct {
	mu    sync.Mutex
	state gridState
}

type gridState struct {
	Anchor       float64 `json:"anchor"`
	LevelsBought int     `json:"levels_bought"`
	// PendingRung marks a rung buy that was emitted but not yet confirmed
	// by a grown position. AmountAtSignal is the position size at emission
	// time; if the next evaluation sees no growth past it, the order never
	// filled and the rung is released.
	PendingRung    bool    `json:"pending_rung,omitempty"`
	AmountAtSignal float64 `json:"amount_at_signal,omitempty"`
}

var (
	_ Strategy        = (*Grid)(nil)
	_ StateSerializer = (*Grid)(nil)
	_ Averaging       = (*Grid)(nil)
)

func NewGrid() *Grid { return &Grid{} }

func (s *Grid) Name() string { return "grid" }

// AveragesIn marks the grid as an averaging strategy so the scheduler lets
// its buys stack onto an open position.
func (s *Grid) AveragesIn() bool { return true }

func (s *Grid) Analyze(ctx context.Context, candles []domain.Candle, config map[string]float64) (*domain.Signal, error) {
	stepPct := cfgValue(config, "grid_step_pct", 1.0)
	maxLevels := int(cfgValue(config, "grid_levels", 5))
	profitPct := cfgValue(config, "grid_profit_pct", 1.5)
	if stepPct <= 0 || maxLevels <= 0 || profitPct <= 0 {
		return nil, fmt.Errorf("strategy/grid: invalid config step=%.2f levels=%d profit=%.2f",
			stepPct, maxLevels, profitPct)
	}
	if len(candles) == 0 {
		return nil, nil
	}
	price := candles[len(candles)-1].Close
	if price <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hasPosition := config[position.CfgHasPosition] > 0
	amount := config[position.CfgPositionAmount]

	// Confirm or release the previously emitted rung before anything else:
	// the rung counts only once the position actually grew.
	if s.state.PendingRung {
		if amount <= s.state.AmountAtSignal {
			s.state.LevelsBought--
		}
		s.state.PendingRung = false
		s.state.AmountAtSignal = 0
	}

	// A closed position resets the ladder around the current price.
	if !hasPosition && s.state.LevelsBought > 0 {
		s.state = gridState{}
	}
	if s.state.Anchor == 0 {
		s.state.Anchor = price
	}

	// Take profit on the whole ladder once price recovers past the
	// averaged entry.
	if hasPosition {
		entry := config[position.CfgPositionEntry]
		if entry > 0 && price >= entry*(1+profitPct/100) {
			s.state = gridState{Anchor: price}
			return &domain.Signal{
				Action:     domain.SignalSell,
				Confidence: 0.9,
				Reason:     fmt.Sprintf("grid profit target: price %.8g above entry %.8g by %.1f%%", price, entry, profitPct),
				Price:      price,
				CreatedAt:  time.Now().UTC(),
			}, nil
		}
	}

	// Buy the next rung when price steps down through it.
	if s.state.LevelsBought < maxLevels {
		nextLevel := s.state.Anchor * (1 - stepPct*float64(s.state.LevelsBought+1)/100)
		if price <= nextLevel {
			s.state.LevelsBought++
			s.state.PendingRung = true
			s.state.AmountAtSignal = amount
			return &domain.Signal{
				Action:     domain.SignalBuy,
				Confidence: 0.8,
				Reason: fmt.Sprintf("grid level %d of %d: price %.8g at or below %.8g",
					s.state.LevelsBought, maxLevels, price, nextLevel),
				Price:     price,
				CreatedAt: time.Now().UTC(),
			}, nil
		}
	}
	return nil, nil
}

// SerializeState snapshots the ladder for crash recovery.
func (s *Grid) SerializeState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.state)
}

// RestoreState reinstates a previously serialized ladder.
func (s *Grid) RestoreState(data []byte) error {
	var st gridState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("strategy/grid: restore state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	return nil
}
