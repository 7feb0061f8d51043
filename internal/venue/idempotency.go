package venue

import (
	"context"
	"sync"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
)

// inflightTTL is how long a submission key stays reserved. After expiry the
// same key may be reused for a fresh order.
const inflightTTL = 5 * time.Minute

type inflightEntry struct {
	orderID   string
	createdAt time.Time
}

// inflightRegistry reserves idempotency keys for order submissions. A second
// submission under a live key is rejected before it reaches the venue, with
// the first order's id attached so the caller can reconcile.
type inflightRegistry struct {
	mu      sync.Mutex
	entries map[string]inflightEntry
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{entries: make(map[string]inflightEntry)}
}

// begin reserves key. If the key is already reserved and not expired, it
// returns a DuplicateOrderError carrying the prior order id (empty when the
// first submission has not completed yet).
func (r *inflightRegistry) begin(key string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok && now.Sub(e.createdAt) < inflightTTL {
		return &domain.DuplicateOrderError{
			IdempotencyKey: key,
			PriorOrderID:   e.orderID,
		}
	}
	r.entries[key] = inflightEntry{createdAt: now}
	return nil
}

// complete records the venue-assigned order id for a reserved key so later
// duplicates can reference it. The reservation keeps its original expiry.
func (r *inflightRegistry) complete(key, orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.orderID = orderID
		r.entries[key] = e
	}
}

// release frees a key early, used when the submission failed before the
// venue accepted it so the caller may retry with the same key.
func (r *inflightRegistry) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

func (r *inflightRegistry) sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for k, e := range r.entries {
		if now.Sub(e.createdAt) >= inflightTTL {
			delete(r.entries, k)
			removed++
		}
	}
	return removed
}

// runSweeper expires stale reservations until ctx is cancelled.
func (r *inflightRegistry) runSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}
