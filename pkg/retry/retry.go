// Package retry provides a cancellable fixed-interval retry loop shared by
// receipt resolution and sell submission.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes a bounded retry loop: up to Attempts calls with a fixed
// Interval sleep between them.
type Policy struct {
	Attempts int
	Interval time.Duration

	// Wake, when non-nil, cuts the current sleep short and triggers the next
	// attempt immediately.
	Wake <-chan struct{}
}

// Do runs fn until it returns nil, the attempts are exhausted, or ctx is
// cancelled. The attempt index passed to fn starts at 1. After exhaustion the
// last error is returned wrapped with the attempt count.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == p.Attempts {
			break
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-p.Wake:
			timer.Stop()
		case <-timer.C:
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", p.Attempts, lastErr)
}
