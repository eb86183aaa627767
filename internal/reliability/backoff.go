package reliability

import (
	"context"
	"time"
)

// ExponentialBackoff returns base doubled attempt times, capped at cap.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Backoff tracks consecutive failures of a retried operation.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	attempt int
}

// Next returns the delay before the next retry and counts the failure.
func (b *Backoff) Next() time.Duration {
	d := ExponentialBackoff(b.attempt, b.Base, b.Cap)
	b.attempt++
	return d
}

// Reset forgets earlier failures after a success.
func (b *Backoff) Reset() { b.attempt = 0 }

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
