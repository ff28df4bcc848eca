// Package retry implements a small bounded-retry helper used to bind
// the stream and datagram listening sockets at node startup: a fixed
// number of attempts at a fixed interval.
package retry

import "time"

// NewBackoff creates a new BackoffStrategy. A factor of 0 keeps the
// delay constant across attempts (base, base, base, ...); a non-zero
// factor grows the delay exponentially up to backoffCap, for callers
// that want that shape instead.
func NewBackoff(base time.Duration, factor float32, backoffCap time.Duration) *BackoffStrategy {
	return &BackoffStrategy{
		initialDuration: base,
		factor:          factor,
		durationCap:     backoffCap,
	}
}

// BackoffStrategy tracks the delay to apply before the next retry.
type BackoffStrategy struct {
	initialDuration time.Duration
	factor          float32
	durationCap     time.Duration

	duration time.Duration
}

// Backoff advances the strategy to its next delay.
func (s *BackoffStrategy) Backoff() {
	s.duration = s.initialDuration + time.Duration(float32(s.duration)*s.factor)
	if s.duration > s.durationCap {
		s.duration = s.durationCap
	}
}

// After returns a channel that notifies when it is ok to proceed.
func (s *BackoffStrategy) After() <-chan time.Time {
	return time.After(s.duration)
}

// Retry calls op up to attempts times, sleeping per the backoff
// strategy between failed attempts. It returns the first nil error, or
// the last non-nil error once attempts are exhausted.
func Retry(attempts int, strategy *BackoffStrategy, op func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i < attempts-1 {
			strategy.Backoff()
			<-strategy.After()
		}
	}
	return err
}
