package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBotAlreadyRunning = errors.New("bot already running")
	ErrBotNotRunning     = errors.New("bot not running")
	ErrUnknownVenue      = errors.New("unknown venue")
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrLockHeld          = errors.New("lock already held")
)

// BreakerOpenError is returned when a venue circuit breaker is open and the
// cooldown has not yet elapsed. No network call was attempted.
type BreakerOpenError struct {
	Operation string
	Venue     string
	Remaining time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s:%s, %.0f s remaining",
		e.Operation, e.Venue, e.Remaining.Seconds())
}

// DuplicateOrderError is returned when an idempotency key is reused while the
// prior submission is still in flight.
type DuplicateOrderError struct {
	IdempotencyKey string
	PriorOrderID   string
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("duplicate order submission for key %s (prior order %s)",
		e.IdempotencyKey, e.PriorOrderID)
}

// TransientVenueError wraps a network/timeout/5xx failure from a venue.
// Callers should treat it as "try again next tick", never as fatal.
type TransientVenueError struct {
	Venue string
	Op    string
	Err   error
}

func (e *TransientVenueError) Error() string {
	return fmt.Sprintf("transient venue error on %s:%s: %v", e.Venue, e.Op, e.Err)
}

func (e *TransientVenueError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient venue failure (including
// rate limiting), i.e. one the scheduler should absorb and retry next tick.
func IsTransient(err error) bool {
	var te *TransientVenueError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrRateLimited)
}
