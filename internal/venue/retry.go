package venue

import (
	"context"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
)

const (
	// retryAttempts is the total number of attempts per wrapped call,
	// including the first.
	retryAttempts = 3

	// retryBaseDelay seeds the exponential backoff between attempts.
	retryBaseDelay = 500 * time.Millisecond
)

// withRetry runs fn up to retryAttempts times, backing off
// base * 2^(attempt-1) between attempts. Only transient venue errors are
// retried; permanent errors (rejections, auth, not-found) surface at once.
// The caller records a single breaker outcome for the whole sequence.
func withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !domain.IsTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
