// Package app provides the top-level application lifecycle management for
// venuebot. It wires together all dependencies (stores, cache, venue
// gateways, streams, blob storage, and notifications), resumes previously
// running bots, and blocks until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkoval8/venuebot/internal/config"
	"github.com/mkoval8/venuebot/internal/domain"
	"github.com/mkoval8/venuebot/internal/position"
	"github.com/mkoval8/venuebot/internal/risk"
	"github.com/mkoval8/venuebot/internal/scheduler"
	"github.com/mkoval8/venuebot/internal/strategy"
)

// shutdownGrace bounds how long Run waits for bot loops to write their final
// checkpoints after the context is cancelled.
const shutdownGrace = 30 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// background loops, resumes bots that were running before the last shutdown,
// and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	sched := a.buildScheduler(deps)

	g, gctx := errgroup.WithContext(ctx)
	for name, gw := range deps.Gateways {
		gw := gw
		a.logger.Info("venue gateway online", slog.String("venue", name))
		g.Go(func() error {
			gw.Run(gctx)
			return nil
		})
	}
	for name, stream := range deps.Streams {
		stream := stream
		a.logger.Info("ticker stream online", slog.String("venue", name))
		g.Go(func() error {
			return stream.Run(gctx)
		})
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			archiveLoop(gctx, deps.Archiver, a.cfg.Archive, a.logger)
			return nil
		})
	}

	if err := a.resumeBots(gctx, deps, sched); err != nil {
		a.logger.Warn("bot resume incomplete", slog.Any("error", err))
	}

	<-gctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	sched.Shutdown(stopCtx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: background loop: %w", err)
	}
	return nil
}

// buildScheduler assembles the per-bot control plane from wired dependencies.
func (a *App) buildScheduler(deps *Dependencies) *scheduler.Scheduler {
	paperBalances := make(map[string]map[string]float64, len(a.cfg.Venues))
	feeRates := make(map[string]float64, len(a.cfg.Venues))
	for name, v := range a.cfg.Venues {
		feeRates[name] = v.FeeRate
		if v.PaperStartBalance > 0 {
			paperBalances[name] = map[string]float64{"USDT": v.PaperStartBalance}
		}
	}

	sc := a.cfg.Scheduler
	opts := scheduler.Options{
		PaperTickInterval:     time.Duration(sc.PaperTickIntervalMs) * time.Millisecond,
		RealTickInterval:      time.Duration(sc.RealTickIntervalMs) * time.Millisecond,
		CheckpointEvery:       sc.CheckpointEveryTicks,
		Timeframe:             sc.Timeframe,
		CandleWindow:          sc.CandleWindow,
		ATRWindow:             sc.ATRWindow,
		AuditRingSize:         sc.AuditRingSize,
		FetchOrderMaxAttempts: sc.FetchOrderMaxAttempts,
		FetchOrderBaseDelay:   time.Duration(sc.FetchOrderBaseDelayMs) * time.Millisecond,
		PaperStartBalances:    paperBalances,
		FeeRates:              feeRates,
	}

	stores := scheduler.Stores{
		Bots:   deps.BotStore,
		Trades: deps.TradeStore,
		Audit:  deps.AuditStore,
		State:  deps.StateStore,
	}

	return scheduler.New(opts, stores,
		deps.Gateways,
		strategy.DefaultRegistry(),
		risk.NewEngine(deps.TradeStore, a.logger),
		position.NewTracker(),
		deps.LockManager,
		deps.Notifier,
		a.logger,
	)
}

// resumeBots restarts every bot the store still records as running, so a
// process restart picks up where the previous one left off. Each bot's
// symbol is subscribed on its venue's stream so tick loops read pushed
// prices.
func (a *App) resumeBots(ctx context.Context, deps *Dependencies, sched *scheduler.Scheduler) error {
	bots, err := deps.BotStore.ListByStatus(ctx, domain.BotStatusRunning)
	if err != nil {
		return fmt.Errorf("list running bots: %w", err)
	}

	var failed int
	for _, bot := range bots {
		applyRiskDefaults(&bot.Risk, a.cfg.Risk)
		if err := sched.StartBot(ctx, bot); err != nil {
			failed++
			a.logger.Error("bot resume failed",
				slog.String("bot_id", bot.ID), slog.Any("error", err))
			continue
		}
		if stream, ok := deps.Streams[bot.Venue]; ok {
			if err := stream.Subscribe(bot.Symbol); err != nil {
				a.logger.Warn("stream subscribe failed",
					slog.String("bot_id", bot.ID), slog.Any("error", err))
			}
		}
	}

	a.logger.Info("bot resume complete",
		slog.Int("resumed", len(bots)-failed), slog.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d bots failed to resume", failed, len(bots))
	}
	return nil
}

// applyRiskDefaults fills zero-valued per-bot risk tunables from the
// configured defaults.
func applyRiskDefaults(r *domain.RiskConfig, d config.RiskDefaults) {
	if r.Capital <= 0 {
		r.Capital = d.Capital
	}
	if r.MaxRiskPerTradePct <= 0 {
		r.MaxRiskPerTradePct = d.MaxRiskPerTradePct
	}
	if r.MaxDailyLossPct <= 0 {
		r.MaxDailyLossPct = d.MaxDailyLossPct
	}
	if r.MaxWeeklyLossPct <= 0 {
		r.MaxWeeklyLossPct = d.MaxWeeklyLossPct
	}
	if r.MaxPositionSizePct <= 0 {
		r.MaxPositionSizePct = d.MaxPositionSizePct
	}
	if r.DefaultStopLossPct <= 0 {
		r.DefaultStopLossPct = d.DefaultStopLossPct
	}
	if r.ATRMultiplierSL <= 0 {
		r.ATRMultiplierSL = d.ATRMultiplierSL
	}
	if r.ATRMultiplierTP <= 0 {
		r.ATRMultiplierTP = d.ATRMultiplierTP
	}
	if r.TargetVolatilityPct <= 0 {
		r.TargetVolatilityPct = d.TargetVolatilityPct
	}
	if r.MaxConsecutiveLosses <= 0 {
		r.MaxConsecutiveLosses = d.MaxConsecutiveLosses
	}
	if r.CircuitBreakerCooldown <= 0 {
		r.CircuitBreakerCooldown = time.Duration(d.CircuitBreakerCooldownMs) * time.Millisecond
	}
	if r.MaxDrawdownPct <= 0 {
		r.MaxDrawdownPct = d.MaxDrawdownPct
	}
	if r.MaxDailyTrades <= 0 {
		r.MaxDailyTrades = d.MaxDailyTrades
	}
	if r.MinConfidence <= 0 {
		r.MinConfidence = d.MinConfidence
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
