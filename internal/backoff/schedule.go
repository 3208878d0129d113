// Package backoff computes the delay before the next shipping attempt
// after consecutive failures.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// MinimumBackoffPeriod is the smallest basis used once backoff kicks in.
	MinimumBackoffPeriod = 5 * time.Second
	// MaximumBackoffInterval caps every interval returned by a Schedule.
	MaximumBackoffInterval = 10 * time.Minute
)

// ErrNegativePeriod is returned for a negative base period.
var ErrNegativePeriod = errors.New("connection retry period must not be negative")

// Schedule tracks failures since the last successful connection.
// It is not safe for concurrent use; the flush loop owns it.
type Schedule struct {
	period   time.Duration
	failures int
}

// NewSchedule creates a schedule with the given base period.
func NewSchedule(period time.Duration) (*Schedule, error) {
	if period < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativePeriod, period)
	}
	return &Schedule{period: period}, nil
}

// NextInterval returns the delay before the next attempt. A single failure
// does not back off; from the second one on the delay doubles from
// max(period, MinimumBackoffPeriod), capped at MaximumBackoffInterval and
// never below the base period.
func (s *Schedule) NextInterval() time.Duration {
	if s.failures <= 1 {
		return s.period
	}

	basis := max(s.period, MinimumBackoffPeriod)
	backedOff := saturatingShift(basis, s.failures-1)
	return max(s.period, min(MaximumBackoffInterval, backedOff))
}

// MarkSuccess resets the failure streak.
func (s *Schedule) MarkSuccess() {
	s.failures = 0
}

// MarkFailure extends the failure streak.
func (s *Schedule) MarkFailure() {
	if s.failures < math.MaxInt {
		s.failures++
	}
}

// Failures returns the number of consecutive failures.
func (s *Schedule) Failures() int {
	return s.failures
}

// Period returns the base period.
func (s *Schedule) Period() time.Duration {
	return s.period
}

// saturatingShift returns d * 2^shift, or math.MaxInt64 on overflow.
func saturatingShift(d time.Duration, shift int) time.Duration {
	if d <= 0 {
		return 0
	}
	if shift >= 63 {
		return math.MaxInt64
	}
	factor := time.Duration(1) << uint(shift)
	if d > math.MaxInt64/factor {
		return math.MaxInt64
	}
	return d * factor
}
