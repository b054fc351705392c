package storage

import (
	"context"
	"time"
)

// Backoff describes a bounded exponential backoff schedule, used here
// for TransientBackend retries. pkg/agentclient does not use it; it has
// its own jittered backoff for outbound HTTP retries.
type Backoff struct {
	Initial    time.Duration
	Factor     float64
	Max        time.Duration
	MaxAttempts int
}

// DefaultStoreBackoff matches the bounded exponential backoff this
// package applies to TransientBackend failures: 50ms initial, factor 2,
// capped at 2s, at most 5 attempts.
var DefaultStoreBackoff = Backoff{
	Initial:     50 * time.Millisecond,
	Factor:      2,
	Max:         2 * time.Second,
	MaxAttempts: 5,
}

// Delay returns the backoff delay before attempt n (0-indexed).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	for i := 0; i < n; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d > b.Max {
			return b.Max
		}
	}
	return d
}

// Retry invokes fn up to b.MaxAttempts times, retrying only while fn
// returns an error for which shouldRetry reports true, sleeping
// b.Delay(attempt) between attempts or returning early if ctx is done.
func Retry(ctx context.Context, b Backoff, shouldRetry func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		if attempt == b.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay(attempt)):
		}
	}
	return err
}
