package scheduler

import (
	"sync"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
)

// TickRecord is one audit ring entry: what the bot saw and did on one tick.
type TickRecord struct {
	Timestamp time.Time          `json:"timestamp"`
	Event     string             `json:"event"`
	Reason    string             `json:"reason,omitempty"`
	Signal    *domain.Signal     `json:"signal,omitempty"`
	Trade     *domain.Trade      `json:"trade,omitempty"`
	Position  *domain.Position   `json:"position,omitempty"`
	Balances  map[string]float64 `json:"balances,omitempty"`
}

// auditRing is a fixed-capacity ring of the most recent tick records for
// one bot. Old entries are overwritten once the ring is full.
type auditRing struct {
	mu      sync.Mutex
	entries []TickRecord
	next    int
	full    bool
}

func newAuditRing(size int) *auditRing {
	if size <= 0 {
		size = 1000
	}
	return &auditRing{entries: make([]TickRecord, size)}
}

func (r *auditRing) add(rec TickRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = rec
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// list returns the retained records, oldest first.
func (r *auditRing) list() []TickRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]TickRecord(nil), r.entries[:r.next]...)
	}
	out := make([]TickRecord, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
