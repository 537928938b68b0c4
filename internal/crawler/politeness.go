package crawler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Pauser draws a politeness delay uniformly from [min, max] between page
// requests. Each draw is independent, so concurrent categories can share
// one Pauser without locking.
type Pauser struct {
	min time.Duration
	max time.Duration
}

// NewPauser builds a Pauser; a reversed range is swapped rather than
// rejected so a sloppy config cannot disable politeness.
func NewPauser(min, max time.Duration) *Pauser {
	if min < 0 {
		min = 0
	}
	if max < min {
		min, max = max, min
	}
	return &Pauser{min: min, max: max}
}

// Pause blocks the calling category task for one delay draw. It returns
// immediately with the context error when the run is cancelled.
func (p *Pauser) Pause(ctx context.Context) error {
	delay := p.Delay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("politeness pause: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Delay returns one uniform draw from [min, max].
func (p *Pauser) Delay() time.Duration {
	span := p.max - p.min
	if span <= 0 {
		return p.min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return p.min + span/2
	}
	return p.min + time.Duration(n.Int64())
}
