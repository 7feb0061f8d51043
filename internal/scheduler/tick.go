package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkoval8/venuebot/internal/domain"
	"github.com/mkoval8/venuebot/internal/notify"
	"github.com/mkoval8/venuebot/internal/position"
	"github.com/mkoval8/venuebot/internal/risk"
	"github.com/mkoval8/venuebot/internal/strategy"
	"github.com/mkoval8/venuebot/internal/venue"
)

// tick executes one full control cycle, safety checks before opportunity.
// It returns true only on the emergency-stop path, which is the one way a
// tick may terminate the loop. Every other failure ends the tick and the
// loop carries on.
func (r *botRunner) tick(ctx context.Context) (terminate bool) {
	if r.stopped.Load() {
		return false
	}

	// Periodic checkpoint and, in real mode, reconciliation against the
	// venue's view.
	if r.tickCount%r.sched.opts.CheckpointEvery == 0 {
		r.checkpoint(ctx)
		if r.bot.Mode == domain.ModeReal {
			r.reconcile(ctx)
		}
	}

	candles, err := r.fetchCandles(ctx)
	if err != nil {
		r.logger.Warn("candle fetch failed, skipping tick", "error", err)
		r.audit("tick_skipped", map[string]any{"reason": "candle fetch failed", "error": err.Error()})
		return false
	}
	if len(candles) == 0 {
		return false
	}

	price := r.currentPrice(ctx, candles)
	atr := risk.ATR(candles, r.sched.opts.ATRWindow)

	// Protective exits run before anything else. A triggered stop or
	// target closes the position and ends the tick; no strategy call
	// happens.
	if pos, ok := r.sched.tracker.Get(r.bot.ID, r.bot.Symbol); ok {
		if exit := position.CheckStopLossTakeProfit(pos, price); exit != nil {
			r.logger.Info("protective exit triggered", "trigger", exit.Trigger, "reason", exit.Reason)
			r.closePosition(ctx, price, exit.Reason)
			return false
		}
	}

	if blocked, reason := r.sched.risk.CheckCircuitBreaker(r.bot.ID, r.bot.Risk); blocked {
		r.logger.Warn("tick blocked", "reason", reason)
		r.recordTick(TickRecord{Timestamp: time.Now().UTC(), Event: "blocked", Reason: reason})
		return false
	}

	var unrealized float64
	pos, hasPos := r.sched.tracker.Get(r.bot.ID, r.bot.Symbol)
	if hasPos {
		unrealized = pos.UnrealizedPnL(price)
	}
	verdict, err := r.sched.risk.CheckLimits(ctx, r.bot.ID, r.bot.Risk, unrealized)
	if err != nil {
		r.logger.Warn("risk check failed, skipping tick", "error", err)
		r.audit("tick_skipped", map[string]any{"reason": "risk check failed", "error": err.Error()})
		return false
	}
	if verdict.EmergencyStop {
		return r.emergencyStop(ctx, price, verdict)
	}
	if !verdict.Allowed {
		r.recordTick(TickRecord{Timestamp: time.Now().UTC(), Event: "blocked", Reason: verdict.Reason})
		return false
	}

	cfg := position.EnrichConfig(r.bot.Config, pos, hasPos, price)
	signal, err := r.strat.Analyze(ctx, candles, cfg)
	if err != nil {
		r.logger.Warn("strategy analyze failed, skipping tick", "error", err)
		r.audit("tick_skipped", map[string]any{"reason": "strategy failed", "error": err.Error()})
		return false
	}

	if reason, ok := r.gateSignal(signal, hasPos); !ok {
		if reason != "" {
			r.recordTick(TickRecord{Timestamp: time.Now().UTC(), Event: "signal_dropped", Reason: reason, Signal: signal})
		}
		return false
	}

	r.execute(ctx, signal, price, atr, candles)
	return false
}

// gateSignal applies the signal filters: hold is ignored, low confidence is
// dropped, a sell needs an open position, and a buy onto an open position
// is allowed only for averaging strategies.
func (r *botRunner) gateSignal(signal *domain.Signal, hasPosition bool) (reason string, ok bool) {
	if signal == nil || signal.Action == domain.SignalHold {
		return "", false
	}
	if signal.Confidence < r.bot.Risk.MinConfidence {
		return fmt.Sprintf("confidence %.2f below minimum %.2f", signal.Confidence, r.bot.Risk.MinConfidence), false
	}
	if signal.Action == domain.SignalSell && !hasPosition {
		return "sell signal with no open position", false
	}
	if signal.Action == domain.SignalBuy && hasPosition && !strategy.AllowsAveraging(r.strat) {
		return "buy signal with open position and non-averaging strategy", false
	}
	return "", true
}

// execute sizes and places the order for a gated signal, then updates the
// tracked position, ledger, and audit trail.
func (r *botRunner) execute(ctx context.Context, signal *domain.Signal, price, atr float64, candles []domain.Candle) {
	switch signal.Action {
	case domain.SignalBuy:
		r.executeBuy(ctx, signal, price, atr, candles)
	case domain.SignalSell:
		r.closePosition(ctx, price, signal.Reason)
	}
}

func (r *botRunner) executeBuy(ctx context.Context, signal *domain.Signal, price, atr float64, candles []domain.Candle) {
	sizing := risk.ATRSize(r.bot.Risk, price, atr, domain.PositionLong)
	if r.bot.Risk.TargetVolatilityPct > 0 {
		vol := risk.RealizedVolatilityPct(candles)
		sizing.Size = risk.VolatilityScaledSize(sizing.Size, r.bot.Risk.TargetVolatilityPct, vol)
	}
	if sizing.Size <= 0 {
		r.logger.Warn("sizing produced zero amount, dropping buy", "price", price, "atr", atr)
		return
	}

	stop := &sizing.StopLoss
	if signal.StopLoss != nil {
		stop = signal.StopLoss
	}
	takeProfit := ladderTarget(sizing.TakeProfits)
	if signal.TakeProfit != nil {
		takeProfit = signal.TakeProfit
	}

	order, err := r.exec.CreateOrder(ctx, domain.OrderRequest{
		Symbol:         r.bot.Symbol,
		Side:           domain.OrderSideBuy,
		Type:           domain.OrderTypeMarket,
		Amount:         sizing.Size,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		r.logger.Warn("buy order failed", "amount", sizing.Size, "error", err)
		r.audit("order_failed", map[string]any{"side": "buy", "amount": sizing.Size, "error": err.Error()})
		return
	}
	order = r.awaitFill(ctx, order)
	if order.Filled <= 0 {
		r.logger.Warn("buy order not filled, skipping position update", "order_id", order.ID, "status", order.Status)
		r.audit("order_unfilled", map[string]any{"order_id": order.ID, "status": string(order.Status)})
		return
	}

	pos, err := r.sched.tracker.OpenOrAverage(r.bot.ID, r.bot.Symbol, domain.PositionLong, order.Price, order.Filled, stop, takeProfit)
	if err != nil {
		r.logger.Error("position update failed after fill", "order_id", order.ID, "error", err)
		return
	}

	trade := r.persistTrade(ctx, order, nil, signal.Reason)
	r.logger.Info("buy executed",
		"order_id", order.ID,
		"price", order.Price,
		"amount", order.Filled,
		"entry", pos.EntryPrice)
	r.recordTickWithState(ctx, TickRecord{
		Timestamp: time.Now().UTC(),
		Event:     "trade",
		Signal:    signal,
		Trade:     &trade,
		Position:  &pos,
	})
	r.audit("trade_executed", map[string]any{
		"side":   "buy",
		"price":  order.Price,
		"amount": order.Filled,
		"fee":    order.Fee,
		"reason": signal.Reason,
	})
	r.sched.notify(ctx, notify.EventTrade, "Trade executed",
		fmt.Sprintf("bot %s bought %.8g %s at %.8g", r.bot.ID, order.Filled, r.bot.Symbol, order.Price))
}

// awaitFill polls an acknowledged-but-open order until the venue reports a
// terminal status, backing off between polls. Paper fills are immediate, so
// the poll only runs in real mode. Returns the freshest view of the order;
// on poll failure the acknowledged view is returned unchanged.
func (r *botRunner) awaitFill(ctx context.Context, order domain.Order) domain.Order {
	if order.Status != domain.OrderStatusOpen {
		return order
	}

	opts := r.sched.opts
	delay := opts.FetchOrderBaseDelay
	for attempt := 1; attempt <= opts.FetchOrderMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return order
		case <-time.After(delay):
		}
		delay *= 2

		fresh, err := r.exec.FetchOrder(ctx, order.Symbol, order.ID)
		if err != nil {
			r.logger.Warn("fill confirmation poll failed", "order_id", order.ID, "attempt", attempt, "error", err)
			continue
		}
		order = fresh
		if order.Status != domain.OrderStatusOpen {
			return order
		}
	}
	r.logger.Warn("order still open after confirmation polls", "order_id", order.ID)
	return order
}

// closePosition sells the whole tracked position at market, realizes P&L,
// and feeds the result into the loss breaker.
func (r *botRunner) closePosition(ctx context.Context, price float64, reason string) {
	pos, ok := r.sched.tracker.Get(r.bot.ID, r.bot.Symbol)
	if !ok {
		return
	}

	side := domain.OrderSideSell
	if pos.Side == domain.PositionShort {
		side = domain.OrderSideBuy
	}
	order, err := r.exec.CreateOrder(ctx, domain.OrderRequest{
		Symbol:         r.bot.Symbol,
		Side:           side,
		Type:           domain.OrderTypeMarket,
		Amount:         pos.Amount,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		r.logger.Warn("close order failed", "amount", pos.Amount, "error", err)
		r.audit("order_failed", map[string]any{"side": string(side), "amount": pos.Amount, "error": err.Error()})
		return
	}
	order = r.awaitFill(ctx, order)
	if order.Filled <= 0 || order.Price <= 0 {
		// The venue may still hold the asset. Keep the tracked position;
		// reconciliation picks up the drift.
		r.logger.Warn("close order not filled, keeping position",
			"order_id", order.ID, "status", order.Status)
		r.audit("order_unfilled", map[string]any{"order_id": order.ID, "status": string(order.Status)})
		return
	}

	closed, pnl, err := r.sched.tracker.Close(r.bot.ID, r.bot.Symbol, order.Price)
	if err != nil {
		r.logger.Error("position close bookkeeping failed", "order_id", order.ID, "error", err)
		return
	}
	pnl -= order.Fee

	r.sched.risk.RecordTradeResult(r.bot.ID, pnl)
	trade := r.persistTrade(ctx, order, &pnl, reason)

	r.logger.Info("position closed",
		"order_id", order.ID,
		"exit", order.Price,
		"entry", closed.EntryPrice,
		"pnl", pnl,
		"reason", reason)
	r.recordTickWithState(ctx, TickRecord{
		Timestamp: time.Now().UTC(),
		Event:     "trade",
		Reason:    reason,
		Trade:     &trade,
		Position:  &closed,
	})
	r.audit("position_closed", map[string]any{
		"exit":   order.Price,
		"entry":  closed.EntryPrice,
		"amount": closed.Amount,
		"pnl":    pnl,
		"reason": reason,
	})
	r.sched.notify(ctx, notify.EventTrade, "Position closed",
		fmt.Sprintf("bot %s closed %s at %.8g, P&L %+.2f (%s)", r.bot.ID, r.bot.Symbol, order.Price, pnl, reason))
}

// emergencyStop is the drawdown kill-switch path: force-liquidate, persist
// the ERROR status, notify, and terminate the loop.
func (r *botRunner) emergencyStop(ctx context.Context, price float64, verdict risk.Verdict) bool {
	r.logger.Error("emergency stop",
		"reason", verdict.Reason,
		"peak_equity", verdict.PeakEquity,
		"current_equity", verdict.CurrentEquity)

	r.closePosition(ctx, price, "emergency stop: "+verdict.Reason)

	if err := r.sched.stores.Bots.UpdateStatus(ctx, r.bot.ID, domain.BotStatusError); err != nil {
		r.logger.Error("persist ERROR status failed", "error", err)
	}
	r.audit("emergency_stop", map[string]any{
		"reason":         verdict.Reason,
		"peak_equity":    verdict.PeakEquity,
		"current_equity": verdict.CurrentEquity,
		"drawdown_pct":   verdict.DrawdownPct,
	})
	r.sched.notify(ctx, notify.EventEmergency, "Emergency stop",
		fmt.Sprintf("bot %s halted: %s", r.bot.ID, verdict.Reason))

	r.stopped.Store(true)
	return true
}

// fetchCandles pulls the strategy's candle window. Paper mode prefers the
// public feed and falls back to the authenticated one; real mode always
// uses the authenticated feed.
func (r *botRunner) fetchCandles(ctx context.Context) ([]domain.Candle, error) {
	opts := r.sched.opts
	if r.bot.Mode == domain.ModePaper {
		candles, err := r.gateway.PublicCandles(ctx, r.bot.Symbol, opts.Timeframe, opts.CandleWindow)
		if err == nil {
			return candles, nil
		}
		r.logger.Debug("public candle fetch failed, falling back", "error", err)
	}
	return r.gateway.Candles(ctx, r.bot.Symbol, opts.Timeframe, opts.CandleWindow)
}

// currentPrice prefers a live ticker (cheap, cache-primed by the stream)
// and falls back to the last close.
func (r *botRunner) currentPrice(ctx context.Context, candles []domain.Candle) float64 {
	if t, err := r.exec.Ticker(ctx, r.bot.Symbol); err == nil && t.Last > 0 {
		return t.Last
	}
	return candles[len(candles)-1].Close
}

// reconcile compares the tracked position against the venue's balances and
// flags drift. Real mode only.
func (r *botRunner) reconcile(ctx context.Context) {
	pos, ok := r.sched.tracker.Get(r.bot.ID, r.bot.Symbol)
	if !ok {
		return
	}

	balances, err := r.exec.Balances(ctx)
	if err != nil {
		r.logger.Warn("reconcile: balance fetch failed", "error", err)
		return
	}
	base, _, err := venue.SplitSymbol(r.bot.Symbol)
	if err != nil {
		return
	}

	held := balances[base].Total
	if held < pos.Amount {
		r.logger.Warn("reconcile: venue holds less than tracked position",
			"tracked", pos.Amount, "held", held)
		r.audit("reconcile_drift", map[string]any{
			"tracked": pos.Amount,
			"held":    held,
			"asset":   base,
		})
	}
}

// persistTrade writes the trade record; a failed write is logged but does
// not undo the executed order.
func (r *botRunner) persistTrade(ctx context.Context, order domain.Order, pnl *float64, reason string) domain.Trade {
	trade := domain.Trade{
		ID:         uuid.NewString(),
		BotID:      r.bot.ID,
		Symbol:     r.bot.Symbol,
		Venue:      r.bot.Venue,
		Mode:       r.bot.Mode,
		Side:       order.Side,
		Price:      order.Price,
		Amount:     order.Filled,
		Fee:        order.Fee,
		PnL:        pnl,
		Reason:     reason,
		ExecutedAt: time.Now().UTC(),
	}
	if err := r.sched.stores.Trades.Insert(ctx, trade); err != nil {
		r.logger.Error("trade persist failed", "trade_id", trade.ID, "error", err)
	}
	return trade
}

// recordTick adds an entry to the in-memory audit ring.
func (r *botRunner) recordTick(rec TickRecord) {
	r.ring.add(rec)
}

// recordTickWithState attaches the current simulated balances (paper mode)
// before recording.
func (r *botRunner) recordTickWithState(ctx context.Context, rec TickRecord) {
	if r.paper != nil {
		if balances, err := r.paper.Balances(ctx); err == nil {
			rec.Balances = make(map[string]float64, len(balances))
			for asset, b := range balances {
				rec.Balances[asset] = b.Total
			}
		}
	}
	r.ring.add(rec)
}

// ladderTarget picks the middle rung of a take-profit ladder as the
// position's single protective target.
func ladderTarget(ladder []risk.TakeProfitLevel) *float64 {
	if len(ladder) == 0 {
		return nil
	}
	price := ladder[len(ladder)/2].Price
	return &price
}
