// Package retry provides the backoff policy applied between task attempts.
// It is a pure calculator: the scheduler decides when to call it and realizes
// the resulting delay with its own timer, so no goroutine ever sleeps here.
package retry

import (
	"math/rand/v2"
	"time"
)

// Spec describes a retry policy. It is immutable configuration, shared
// read-only across tasks and safe for concurrent use.
type Spec struct {
	// MaxAttempts is the total number of attempts allowed, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// Multiplier grows the delay exponentially per attempt. Must be >= 1.
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Jitter randomizes each delay into [delay/2, delay) to avoid
	// thundering herds of simultaneous retries.
	Jitter bool
}

// Delay returns the delay to wait after the given failed attempt (1-based)
// before the next attempt, and whether another attempt is allowed at all.
// Once attempt reaches MaxAttempts the second return is false and the
// delay is zero.
func (s Spec) Delay(attempt int) (time.Duration, bool) {
	return s.delay(attempt, rand.Float64)
}

// delay is the deterministic core of Delay with an injectable random source.
func (s Spec) delay(attempt int, rnd func() float64) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= s.MaxAttempts {
		return 0, false
	}

	d := float64(s.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= s.Multiplier
		if time.Duration(d) >= s.MaxDelay {
			d = float64(s.MaxDelay)
			break
		}
	}
	if time.Duration(d) > s.MaxDelay {
		d = float64(s.MaxDelay)
	}

	if s.Jitter {
		// Equal jitter: half the delay is kept, the other half randomized.
		// Expected delay stays monotonic across attempts.
		d = d/2 + d/2*rnd()
	}

	return time.Duration(d), true
}
