package sync

import (
	"errors"
	"time"

	"github.com/marcus/wander/internal/syncclient"
)

// Backoff computes retry delays: exponential from Base, capped at Cap.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff matches the record push/pull and upload retry policy.
var DefaultBackoff = Backoff{Base: 2 * time.Second, Cap: 5 * time.Minute}

// Next returns the delay before attempt number attempt (1-based: the delay
// after the first failure is Base).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// isValidation reports a record-level, non-retryable rejection. The record is
// parked as failed and surfaced to the user for correction.
func isValidation(err error) bool {
	return errors.Is(err, syncclient.ErrValidation)
}

// isNotFound reports the remote knows nothing about the id. For deletes this
// is success.
func isNotFound(err error) bool {
	return errors.Is(err, syncclient.ErrNotFound)
}
