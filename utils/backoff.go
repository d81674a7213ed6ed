package utils

import (
	"context"
	"time"
)

// Backoff retries fn with exponentially growing pauses until fn succeeds,
// the deadline passes, or the context is cancelled. It returns timeoutErr
// once the deadline is exceeded so callers surface a typed condition instead
// of a generic failure.
type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Deadline time.Duration
}

// DefaultBackoff matches the pacing used for lock acquisition: fast first
// probes, capped growth.
func DefaultBackoff(deadline time.Duration) Backoff {
	return Backoff{
		Initial:  20 * time.Millisecond,
		Max:      500 * time.Millisecond,
		Deadline: deadline,
	}
}

// Retry runs fn until it reports done, the hard deadline passes, or ctx is
// cancelled. fn returning an error aborts immediately.
func (b Backoff) Retry(ctx context.Context, timeoutErr error, fn func() (done bool, err error)) error {
	deadline := time.Now().Add(b.Deadline)
	pause := b.Initial
	if pause <= 0 {
		pause = 20 * time.Millisecond
	}

	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if time.Now().Add(pause).After(deadline) {
			return timeoutErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}

		pause *= 2
		if b.Max > 0 && pause > b.Max {
			pause = b.Max
		}
	}
}
