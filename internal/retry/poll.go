// Package retry implements a timed poll loop with a deadline and an attempt
// cap. "Not yet" is an expected outcome, reported as TimedOut rather than an
// error.
package retry

import (
	"context"
	"time"
)

type Outcome int

const (
	Aborted Outcome = iota
	Ready
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	default:
		return "aborted"
	}
}

// Policy bounds a poll. A zero Budget or MaxAttempts leaves that bound off;
// at least one of them should be set.
type Policy struct {
	Interval    time.Duration
	Budget      time.Duration
	MaxAttempts int
}

// Check reports whether the awaited condition holds. A non-nil error aborts
// the poll immediately.
type Check func(ctx context.Context, attempt int) (bool, error)

// Result carries the outcome plus how many checks ran and how long it took.
type Result struct {
	Outcome  Outcome
	Attempts int
	Elapsed  time.Duration
}

// Until runs check, sleeping Interval between calls, until it succeeds, the
// attempts or budget are exhausted, check fails, or ctx is done.
func Until(ctx context.Context, p Policy, check Check) (Result, error) {
	start := time.Now()
	result := Result{}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		done, err := check(ctx, attempt)
		result.Elapsed = time.Since(start)
		if err != nil {
			result.Outcome = Aborted
			return result, err
		}
		if done {
			result.Outcome = Ready
			return result, nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			result.Outcome = TimedOut
			return result, nil
		}
		if p.Budget > 0 && result.Elapsed+p.Interval > p.Budget {
			result.Outcome = TimedOut
			return result, nil
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Outcome = Aborted
			result.Elapsed = time.Since(start)
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}
