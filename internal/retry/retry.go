// Package retry provides the bounded retry with exponential backoff used by
// settlement tracking and relay submission.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/jm31-art/ultraflashbot/internal/apperror"
)

// Policy bounds a retry loop. Attempt delays grow geometrically from Initial
// by Multiplier up to Max; Jitter adds up to that fraction on top, so delays
// never shrink below the deterministic schedule.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultPolicy returns 3 attempts starting at 1s, doubling, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Backoff returns the base delay before the given 1-based retry attempt,
// without jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial)
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2
	}
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	return time.Duration(d)
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.Backoff(attempt)
	if p.Jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*p.Jitter*float64(base))
}

// Do runs fn up to p.MaxAttempts times, sleeping between attempts. It stops
// early on context cancellation or when the error is classified as
// non-retryable. The last error is returned.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !apperror.IsRetryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		if err := Sleep(ctx, p.delay(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
