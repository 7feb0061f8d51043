package venue

import (
	"sync"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
)

// breakerState is the lifecycle state of a single circuit breaker.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	// breakerFailureThreshold is the number of consecutive failures that
	// trips a closed breaker open.
	breakerFailureThreshold = 5

	// breakerCooldown is how long an open breaker rejects calls before
	// allowing a single half-open probe.
	breakerCooldown = 60 * time.Second
)

// breaker tracks consecutive failures for one operation against one venue.
// While open it rejects calls outright; after the cooldown it lets exactly
// one probe through and closes again only if that probe succeeds.
type breaker struct {
	op    string
	venue string

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

// allow reports whether a call may proceed. When the breaker is open and
// the cooldown has not elapsed it returns a BreakerOpenError carrying the
// remaining wait.
func (b *breaker) allow(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		remaining := breakerCooldown - now.Sub(b.openedAt)
		if remaining > 0 {
			return &domain.BreakerOpenError{
				Operation: b.op,
				Venue:     b.venue,
				Remaining: remaining,
			}
		}
		// Cooldown elapsed: transition to half-open and admit this call
		// as the probe.
		b.state = breakerHalfOpen
		b.probing = true
		return nil
	case breakerHalfOpen:
		if b.probing {
			return &domain.BreakerOpenError{
				Operation: b.op,
				Venue:     b.venue,
				Remaining: 0,
			}
		}
		b.probing = true
		return nil
	}
	return nil
}

// recordSuccess resets the breaker to closed.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
	b.probing = false
}

// recordFailure counts one failure. A closed breaker opens once the
// threshold is reached; a failed half-open probe re-opens immediately and
// restarts the cooldown.
func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= breakerFailureThreshold {
			b.state = breakerOpen
			b.openedAt = now
		}
	case breakerHalfOpen:
		b.state = breakerOpen
		b.openedAt = now
		b.failures = breakerFailureThreshold
		b.probing = false
	case breakerOpen:
		// Already open. Nothing to count.
	}
}

// currentState returns the state for logging and stats.
func (b *breaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakerSet holds one breaker per operation kind for a single venue, so a
// failing order endpoint does not block market-data reads.
type breakerSet struct {
	venue string

	mu       sync.Mutex
	breakers map[string]*breaker
}

func newBreakerSet(venue string) *breakerSet {
	return &breakerSet{
		venue:    venue,
		breakers: make(map[string]*breaker),
	}
}

func (s *breakerSet) get(op string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[op]
	if !ok {
		b = &breaker{op: op, venue: s.venue}
		s.breakers[op] = b
	}
	return b
}
