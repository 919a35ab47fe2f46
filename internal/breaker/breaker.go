// Package breaker implements a per-dependency circuit breaker with the
// classic three-state machine: Closed, Open, and HalfOpen.
//
// The failure window is a sliding window: failure timestamps are recorded
// and pruned as they age out, so "N failures within the window" is evaluated
// exactly rather than against coarse fixed buckets.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOpen is returned by callers that want a sentinel for a short-circuited
// request. The breaker itself only reports Allow() == false.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's position in the state machine.
type State int32

const (
	// StateClosed passes requests through and counts failures.
	StateClosed State = iota
	// StateOpen short-circuits all requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a limited trial budget to probe recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the thresholds shared by all breakers in a registry.
type Config struct {
	// FailureThreshold is the number of failures within Window that trips
	// the breaker from Closed to Open.
	FailureThreshold int

	// Window is the sliding window over which failures are counted.
	Window time.Duration

	// Cooldown is how long the breaker stays Open before admitting trials.
	Cooldown time.Duration

	// HalfOpenTrials is the number of trial requests admitted in HalfOpen.
	HalfOpenTrials int
}

// Breaker tracks the failure rate of a single named dependency.
//
// Allow reads the state atomically on the fast path; state transitions are
// serialized by the mutex so no two transitions race.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	state atomic.Int32

	mu         sync.Mutex
	failures   []time.Time // failure timestamps within the window (Closed)
	openedAt   time.Time
	trialsLeft int
}

// New creates a Breaker for the named dependency, starting Closed.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With("component", "breaker", "dependency", name),
		now:    time.Now,
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Allow reports whether a request may proceed. In the Open state it also
// performs the cooldown check, transitioning to HalfOpen when the cooldown
// has elapsed. In HalfOpen it consumes one unit of the trial budget.
func (b *Breaker) Allow() bool {
	// Fast path: a closed breaker admits everything without locking.
	if b.State() == StateClosed {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.State() {
	case StateClosed:
		// Transitioned under us while acquiring the lock.
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		b.trialsLeft = b.cfg.HalfOpenTrials
		fallthrough

	case StateHalfOpen:
		if b.trialsLeft > 0 {
			b.trialsLeft--
			return true
		}
		return false

	default:
		return false
	}
}

// RecordResult feeds the outcome of a permitted request back into the state
// machine. Callers invoke it exactly once per request that Allow admitted.
func (b *Breaker) RecordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.State() {
	case StateClosed:
		if success {
			return
		}
		now := b.now()
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.open(now)
		}

	case StateHalfOpen:
		if success {
			b.transition(StateClosed)
			b.failures = nil
			return
		}
		b.open(b.now())

	case StateOpen:
		// Late result from a request admitted before the breaker opened.
		// The cooldown is already running; nothing to do.
	}
}

// open moves to the Open state and restarts the cooldown. Caller holds the lock.
func (b *Breaker) open(now time.Time) {
	b.transition(StateOpen)
	b.openedAt = now
	b.failures = nil
	b.trialsLeft = 0
}

// prune drops failure timestamps that have aged out of the sliding window.
// Caller holds the lock.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = b.failures[i:]
	}
}

// transition updates the atomic state and logs the change. Caller holds the lock.
func (b *Breaker) transition(next State) {
	prev := b.State()
	if prev == next {
		return
	}
	b.state.Store(int32(next))
	b.logger.Info("circuit breaker state change",
		"from", prev.String(),
		"to", next.String())
}
