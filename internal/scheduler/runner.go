package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
	"github.com/mkoval8/venuebot/internal/strategy"
	"github.com/mkoval8/venuebot/internal/venue"
)

// botRunner is the live run state of one bot: its loop, its execution
// venue, and its in-memory audit ring. The loop is self-chaining — the next
// tick is scheduled only after the current one fully completes — so two
// ticks for the same bot can never overlap.
type botRunner struct {
	sched    *Scheduler
	bot      domain.Bot
	strat    strategy.Strategy
	gateway  *venue.Gateway
	exec     domain.Venue // gateway in real mode, paper ledger in paper mode
	paper    *venue.Paper // non-nil in paper mode
	interval time.Duration
	ring     *auditRing
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	stopped   atomic.Bool
	tickCount int

	doneOnce sync.Once
	done     chan struct{}

	unlockOnce sync.Once
	unlock     func()
}

func (r *botRunner) doneCh() chan struct{} {
	r.doneOnce.Do(func() { r.done = make(chan struct{}) })
	return r.done
}

// stop marks the run state stopped and cancels the pending sleep. The loop
// performs its final checkpoint before exiting.
func (r *botRunner) stop() {
	r.stopped.Store(true)
	r.cancel()
}

func (r *botRunner) releaseLock() {
	if r.unlock == nil {
		return
	}
	r.unlockOnce.Do(r.unlock)
}

// run is the bot's loop: tick, then sleep, then tick again. It exits when
// the bot is stopped or a tick escalates an emergency stop. On exit it
// writes a final checkpoint and frees the bot's run state.
func (r *botRunner) run() {
	done := r.doneCh()
	defer close(done)
	defer r.releaseLock()
	defer r.sched.dropRunState(r.bot.ID)
	defer r.finalCheckpoint()

	for {
		if r.stopped.Load() {
			return
		}

		r.tickCount++
		if terminate := r.safeTick(); terminate {
			return
		}

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(r.interval):
		}
	}
}

// safeTick runs one tick and converts any panic into a logged, audited
// no-op. A tick can end the loop only by returning terminate=true (the
// emergency-stop path); no failure tears the loop down.
func (r *botRunner) safeTick() (terminate bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tick panicked", "panic", rec)
			r.audit("tick_panic", map[string]any{"panic": rec})
			terminate = false
		}
	}()
	return r.tick(r.ctx)
}

// finalCheckpoint persists paper-ledger and strategy state on loop exit so
// a restart resumes where the bot left off.
func (r *botRunner) finalCheckpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.checkpoint(ctx)
}

// checkpoint persists the simulated ledger and any serializable strategy
// state. Failures are logged, never fatal.
func (r *botRunner) checkpoint(ctx context.Context) {
	if r.paper != nil {
		if snap, err := r.paper.Snapshot(); err != nil {
			r.logger.Warn("paper snapshot failed", "error", err)
		} else if err := r.sched.stores.State.Save(ctx, paperStateKey(r.bot.ID), snap); err != nil {
			r.logger.Warn("paper checkpoint write failed", "error", err)
		}
	}

	if ser, ok := r.strat.(strategy.StateSerializer); ok {
		if blob, err := ser.SerializeState(); err != nil {
			r.logger.Warn("strategy state serialize failed", "error", err)
		} else if err := r.sched.stores.State.Save(ctx, r.bot.ID, blob); err != nil {
			r.logger.Warn("strategy state write failed", "error", err)
		}
	}
}

// audit writes a durable audit entry, best effort: a failed write is logged
// and swallowed.
func (r *botRunner) audit(event string, detail map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.sched.stores.Audit.Log(ctx, r.bot.ID, event, detail); err != nil {
		r.logger.Warn("audit write failed", "event", event, "error", err)
	}
}
