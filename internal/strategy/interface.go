// Package strategy defines the strategy contract and the built-in
// strategies the scheduler can run.
package strategy

import (
	"context"

	"github.com/mkoval8/venuebot/internal/domain"
)

// Strategy analyzes a candle window and produces a trading signal, or nil
// when it has nothing to say. Implementations must be deterministic
// functions of their inputs apart from state explicitly exposed through
// StateSerializer; the config map carries both user parameters and the
// position context injected by the scheduler.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, candles []domain.Candle, config map[string]float64) (*domain.Signal, error)
}

// StateSerializer is the optional capability of stateful strategies (grid,
// martingale) whose internal state must survive a restart. The scheduler
// checks for it with a type assertion and checkpoints the blob alongside
// bot state.
type StateSerializer interface {
	SerializeState() ([]byte, error)
	RestoreState(data []byte) error
}

// Averaging marks strategies designed to buy into an existing position.
// The scheduler drops buy signals while a position is open unless the
// strategy implements it and reports true.
type Averaging interface {
	AveragesIn() bool
}

// AllowsAveraging reports whether s may stack buys onto an open position.
func AllowsAveraging(s Strategy) bool {
	a, ok := s.(Averaging)
	return ok && a.AveragesIn()
}

// cfgValue reads a config key with a fallback.
func cfgValue(config map[string]float64, key string, def float64) float64 {
	if v, ok := config[key]; ok {
		return v
	}
	return def
}
