// Package navigator abstracts the browsing capability the crawler consumes:
// opening a category, selecting a store, and walking pagination until the
// source runs out of product cards.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
)

// ErrExhausted signals that pagination has no further results to surface.
var ErrExhausted = errors.New("pagination exhausted")

// TransientError wraps a retryable infrastructure failure such as a
// timeout or connection reset.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StructuralError wraps source-format drift: an expected affordance is
// missing from the page. Never retried.
type StructuralError struct {
	Op  string
	Err error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: structural: %v", e.Op, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried. Network timeouts are
// classified transient even when unwrapped; cancellation never is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsStructural reports whether err is source-format drift.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// Session walks one category in one isolated browsing context. Sessions are
// never shared across concurrent categories.
type Session interface {
	// SelectStore resolves the menu to the hinted store location. A missing
	// selection affordance is a StructuralError.
	SelectStore(ctx context.Context, storeHint string) error
	// NextFragmentBatch returns the next batch of product-card fragments,
	// ErrExhausted once the pagination affordance is gone, a TransientError
	// on retryable failure, or a StructuralError on drift.
	NextFragmentBatch(ctx context.Context) ([]catalog.RawFragment, error)
	// Close releases the session's browsing context.
	Close() error
}

// Navigator opens category sessions against a shared browsing engine.
type Navigator interface {
	OpenCategory(ctx context.Context, categoryURL string) (Session, error)
}
