// Package scheduler runs one independent control loop per active bot:
// fetch data, apply protective exits and risk gates, evaluate the strategy,
// execute, persist, reschedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
	"github.com/mkoval8/venuebot/internal/notify"
	"github.com/mkoval8/venuebot/internal/position"
	"github.com/mkoval8/venuebot/internal/risk"
	"github.com/mkoval8/venuebot/internal/strategy"
	"github.com/mkoval8/venuebot/internal/venue"
)

// botLockTTL bounds how long a crashed process keeps its per-bot lock; a
// clean stop releases it immediately.
const botLockTTL = 24 * time.Hour

// Options tune the scheduler's loops. Zero values fall back to defaults.
type Options struct {
	PaperTickInterval time.Duration
	RealTickInterval  time.Duration
	// CheckpointEvery is the tick period of state checkpoints and
	// real-mode reconciliation.
	CheckpointEvery int
	Timeframe       string
	CandleWindow    int
	ATRWindow       int
	AuditRingSize   int
	// FetchOrderMaxAttempts and FetchOrderBaseDelay govern the fill
	// confirmation poll after a real-mode market order is acknowledged
	// but not yet filled.
	FetchOrderMaxAttempts int
	FetchOrderBaseDelay   time.Duration
	// PaperStartBalances seeds each paper bot's simulated ledger, keyed
	// by quote asset.
	PaperStartBalances map[string]map[string]float64 // venue -> asset -> amount
	// FeeRates is the per-venue taker fee applied by paper fills.
	FeeRates map[string]float64
}

func (o *Options) defaults() {
	if o.PaperTickInterval <= 0 {
		o.PaperTickInterval = 5 * time.Second
	}
	if o.RealTickInterval <= 0 {
		o.RealTickInterval = 30 * time.Second
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 10
	}
	if o.Timeframe == "" {
		o.Timeframe = "5m"
	}
	if o.CandleWindow <= 0 {
		o.CandleWindow = 100
	}
	if o.ATRWindow <= 0 {
		o.ATRWindow = 14
	}
	if o.AuditRingSize <= 0 {
		o.AuditRingSize = 1000
	}
	if o.FetchOrderMaxAttempts <= 0 {
		o.FetchOrderMaxAttempts = 5
	}
	if o.FetchOrderBaseDelay <= 0 {
		o.FetchOrderBaseDelay = 500 * time.Millisecond
	}
}

// Notifier is the slice of the notify fan-out the scheduler uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Stores groups the persistence dependencies.
type Stores struct {
	Bots   domain.BotStore
	Trades domain.TradeStore
	Audit  domain.AuditStore
	State  domain.StrategyStateStore
}

// Scheduler owns the run state of every active bot. Starting a bot spawns
// its self-chaining tick loop; stopping cancels the loop, checkpoints state,
// and frees the bot's in-memory structures.
type Scheduler struct {
	opts       Options
	stores     Stores
	gateways   map[string]*venue.Gateway
	strategies *strategy.Registry
	risk       *risk.Engine
	tracker    *position.Tracker
	locks      domain.LockManager // may be nil
	notifier   Notifier           // may be nil
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]*botRunner
	wg      sync.WaitGroup
}

// New creates a scheduler. gateways maps venue names to their resilient
// gateways; locks and notifier are optional.
func New(opts Options, stores Stores, gateways map[string]*venue.Gateway, strategies *strategy.Registry, riskEngine *risk.Engine, tracker *position.Tracker, locks domain.LockManager, notifier Notifier, logger *slog.Logger) *Scheduler {
	opts.defaults()
	return &Scheduler{
		opts:       opts,
		stores:     stores,
		gateways:   gateways,
		strategies: strategies,
		risk:       riskEngine,
		tracker:    tracker,
		locks:      locks,
		notifier:   notifier,
		logger:     logger.With("component", "scheduler"),
		running:    make(map[string]*botRunner),
	}
}

// StartBot validates the bot's venue and strategy, restores any checkpointed
// state, marks the bot running, and launches its tick loop. Contract errors
// (unknown venue, unknown strategy, already running) fail fast before any
// run state is created.
func (s *Scheduler) StartBot(ctx context.Context, bot domain.Bot) error {
	gw, ok := s.gateways[bot.Venue]
	if !ok {
		return fmt.Errorf("scheduler: start bot %s: venue %q: %w", bot.ID, bot.Venue, domain.ErrUnknownVenue)
	}

	strat, err := s.strategies.New(bot.Strategy)
	if err != nil {
		return fmt.Errorf("scheduler: start bot %s: %w", bot.ID, err)
	}

	s.mu.Lock()
	if _, exists := s.running[bot.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: bot %s: %w", bot.ID, domain.ErrBotAlreadyRunning)
	}
	// Reserve the slot before the slow startup work so a concurrent
	// StartBot for the same id fails fast.
	s.running[bot.ID] = nil
	s.mu.Unlock()

	runner, err := s.buildRunner(ctx, bot, gw, strat)
	if err != nil {
		s.dropRunState(bot.ID)
		return err
	}

	if err := s.stores.Bots.UpdateStatus(ctx, bot.ID, domain.BotStatusRunning); err != nil {
		runner.releaseLock()
		s.dropRunState(bot.ID)
		return fmt.Errorf("scheduler: start bot %s: persist status: %w", bot.ID, err)
	}

	s.mu.Lock()
	s.running[bot.ID] = runner
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runner.run()
	}()

	s.logger.Info("bot started",
		"bot_id", bot.ID,
		"symbol", bot.Symbol,
		"venue", bot.Venue,
		"strategy", bot.Strategy,
		"mode", bot.Mode)
	s.notify(ctx, notify.EventBotStatus, "Bot started",
		fmt.Sprintf("bot %s running %s on %s (%s, %s)", bot.ID, bot.Strategy, bot.Venue, bot.Symbol, bot.Mode))
	return nil
}

// buildRunner assembles the per-bot execution state: paper ledger or real
// gateway, restored strategy/paper checkpoints, distributed lock, audit
// ring.
func (s *Scheduler) buildRunner(ctx context.Context, bot domain.Bot, gw *venue.Gateway, strat strategy.Strategy) (*botRunner, error) {
	var unlock func()
	if s.locks != nil {
		var err error
		unlock, err = s.locks.Acquire(ctx, "bot:"+bot.ID, botLockTTL)
		if err != nil {
			return nil, fmt.Errorf("scheduler: start bot %s: acquire lock: %w", bot.ID, err)
		}
	}

	interval := s.opts.RealTickInterval
	exec := domain.Venue(gw)
	var paper *venue.Paper
	if bot.Mode == domain.ModePaper {
		interval = s.opts.PaperTickInterval
		paper = venue.NewPaper(bot.Venue, s.opts.FeeRates[bot.Venue], gw, s.opts.PaperStartBalances[bot.Venue])
		exec = paper

		if snap, err := s.stores.State.Load(ctx, paperStateKey(bot.ID)); err == nil {
			if err := paper.Restore(snap); err != nil {
				s.logger.Warn("paper checkpoint corrupt, starting fresh", "bot_id", bot.ID, "error", err)
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("paper checkpoint load failed", "bot_id", bot.ID, "error", err)
		}
	}

	if ser, ok := strat.(strategy.StateSerializer); ok {
		if blob, err := s.stores.State.Load(ctx, bot.ID); err == nil {
			if err := ser.RestoreState(blob); err != nil {
				s.logger.Warn("strategy state corrupt, starting fresh", "bot_id", bot.ID, "error", err)
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("strategy state load failed", "bot_id", bot.ID, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &botRunner{
		sched:    s,
		bot:      bot,
		strat:    strat,
		gateway:  gw,
		exec:     exec,
		paper:    paper,
		interval: interval,
		ring:     newAuditRing(s.opts.AuditRingSize),
		logger: s.logger.With("bot_id", bot.ID,
			"symbol", bot.Symbol, "venue", bot.Venue, "mode", string(bot.Mode)),
		ctx:    ctx,
		cancel: cancel,
		unlock: unlock,
	}, nil
}

// StopBot cancels the bot's loop, waits for the in-flight tick to finish,
// writes a final checkpoint, and releases its run state.
func (s *Scheduler) StopBot(ctx context.Context, botID string) error {
	s.mu.Lock()
	runner, ok := s.running[botID]
	s.mu.Unlock()
	if !ok || runner == nil {
		return fmt.Errorf("scheduler: bot %s: %w", botID, domain.ErrBotNotRunning)
	}

	runner.stop()
	<-runner.doneCh()

	if err := s.stores.Bots.UpdateStatus(ctx, botID, domain.BotStatusStopped); err != nil {
		return fmt.Errorf("scheduler: stop bot %s: persist status: %w", botID, err)
	}
	s.logger.Info("bot stopped", "bot_id", botID)
	s.notify(ctx, notify.EventBotStatus, "Bot stopped", "bot "+botID+" stopped")
	return nil
}

// dropRunState frees the per-bot in-memory structures after a loop exits.
func (s *Scheduler) dropRunState(botID string) {
	s.mu.Lock()
	delete(s.running, botID)
	s.mu.Unlock()

	s.tracker.DropBot(botID)
	s.risk.ResetBot(botID)
}

// GetActiveBotCount returns the number of bots with live run state.
func (s *Scheduler) GetActiveBotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// GetPosition returns the tracked open position for (bot, symbol).
func (s *Scheduler) GetPosition(botID, symbol string) (domain.Position, bool) {
	return s.tracker.Get(botID, symbol)
}

// AuditLog returns the retained in-memory tick records for a running bot,
// oldest first.
func (s *Scheduler) AuditLog(botID string) ([]TickRecord, error) {
	s.mu.Lock()
	runner, ok := s.running[botID]
	s.mu.Unlock()
	if !ok || runner == nil {
		return nil, fmt.Errorf("scheduler: bot %s: %w", botID, domain.ErrBotNotRunning)
	}
	return runner.ring.list(), nil
}

// Shutdown stops every active bot and waits for all loops to finish their
// final checkpoints.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	runners := make([]*botRunner, 0, len(s.running))
	for _, r := range s.running {
		if r != nil {
			runners = append(runners, r)
		}
	}
	s.mu.Unlock()

	for _, r := range runners {
		r.stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler shut down", "bots", len(runners))
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out", "bots", len(runners))
	}
}

func paperStateKey(botID string) string { return "paper:" + botID }

func (s *Scheduler) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.Warn("notification failed", "event", event, "error", err)
	}
}
