package risk

import (
	"fmt"
	"time"
)

// lossBreaker blocks trading after a run of consecutive losing trades.
// The cooldown is measured from the last loss; once it elapses the counter
// resets and trading resumes.
type lossBreaker struct {
	losses   int
	lastLoss time.Time
}

// record counts one trade result. A losing trade extends the run; any
// non-negative result clears it.
func (b *lossBreaker) record(pnl float64, now time.Time) {
	if pnl < 0 {
		b.losses++
		b.lastLoss = now
		return
	}
	b.losses = 0
}

// tripped reports whether the breaker currently blocks trading given the
// configured limits. maxLosses <= 0 disables the breaker.
func (b *lossBreaker) tripped(maxLosses int, cooldown time.Duration, now time.Time) (bool, string) {
	if maxLosses <= 0 || b.losses < maxLosses {
		return false, ""
	}

	elapsed := now.Sub(b.lastLoss)
	if elapsed >= cooldown {
		b.losses = 0
		return false, ""
	}

	remaining := cooldown - elapsed
	return true, fmt.Sprintf("circuit breaker tripped: %d consecutive losses, %s cooldown remaining",
		b.losses, remaining.Round(time.Second))
}
