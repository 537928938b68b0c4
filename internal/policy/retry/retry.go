// Package retry implements the bounded, jittered backoff policy shared by
// page fetches and warehouse uploads.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Policy retries an operation up to maxRetries additional attempts with
// exponential backoff. The retryable predicate decides which errors are
// worth another attempt; context cancellation never is.
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	retryable  func(error) bool
}

// New builds a Policy. A nil predicate retries every error.
func New(maxRetries int, baseDelay, maxDelay time.Duration, retryable func(error) bool) *Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = 5 * time.Second
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	return &Policy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		retryable:  retryable,
	}
}

// Do runs op until it succeeds, the error is not retryable, or the attempt
// budget is spent. Exactly maxRetries+1 attempts happen in the worst case.
func (p *Policy) Do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.maxRetries || !p.retryable(lastErr) {
			break
		}
		if err := p.wait(ctx, p.Backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// Backoff returns the wait before the attempt after `attempt`: half the
// capped exponential delay plus a uniform jitter of the other half, so the
// expected delay doubles per attempt without synchronizing concurrent
// categories.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
