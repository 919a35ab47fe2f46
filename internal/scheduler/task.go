package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task.
type Status string

// Possible task status values. A task is terminal in StatusSucceeded,
// StatusFailed, or StatusDeadLettered.
const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusDeadLettered
}

// Priority orders tasks in the queue. Higher priorities are dequeued first;
// ties break by submission order.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// ParsePriority maps the wire representation to a Priority, defaulting
// to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// Handler executes a task's payload and returns an opaque result.
// Handlers observe ctx for the per-task timeout and cooperative cancellation.
type Handler func(ctx context.Context, t *Task) ([]byte, error)

// Task is a unit of background work. The exported fields are set by the
// submitter and immutable after Submit; the unexported state is owned by
// the scheduler and mutated only by the worker executing the task.
type Task struct {
	ID          uuid.UUID
	Category    string
	Payload     []byte
	Priority    Priority
	CacheKey    string
	MaxAttempts int
	SubmittedAt time.Time

	mu        sync.Mutex
	status    Status
	attempts  int
	errs      []error
	result    []byte
	canceled  bool
	cancelRun context.CancelFunc
}

// Snapshot is a point-in-time view of a task's mutable state.
type Snapshot struct {
	ID        uuid.UUID
	Category  string
	Status    Status
	Attempts  int
	LastError string
}

// Status returns the task's current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Attempts returns how many times the task has been attempted so far.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Errors returns a copy of the errors from every failed attempt.
func (t *Task) Errors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	errs := make([]error, len(t.errs))
	copy(errs, t.errs)
	return errs
}

// Result returns the handler (or fallback) result for a finished task.
func (t *Task) Result() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// snapshot captures the mutable state for status reporting.
func (t *Task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		ID:       t.ID,
		Category: t.Category,
		Status:   t.status,
		Attempts: t.attempts,
	}
	if n := len(t.errs); n > 0 {
		snap.LastError = t.errs[n-1].Error()
	}
	return snap
}

// Sentinel errors surfaced by the scheduler.
var (
	// ErrQueueFull is the backpressure signal: the bounded queue is
	// saturated and the caller should shed load or retry later.
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed is returned when submitting after shutdown began.
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrTaskNotFound is returned for status or cancel of an unknown task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAlreadyTerminal is returned when canceling a finished task.
	ErrAlreadyTerminal = errors.New("task already in terminal state")

	// ErrUnknownCategory is returned when no handler is registered for
	// the task's category.
	ErrUnknownCategory = errors.New("no handler registered for task category")

	// ErrDependencyUnavailable indicates the circuit breaker for the
	// task's dependency is open and the handler was never invoked.
	ErrDependencyUnavailable = errors.New("dependency unavailable: circuit breaker open")

	// ErrCanceled indicates the task was canceled by the caller.
	ErrCanceled = errors.New("task canceled")
)

// HandlerRegistry maps task categories to handler functions. It is built at
// startup and read-only afterwards, giving static dispatch at run time.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a category, replacing any previous binding.
func (r *HandlerRegistry) Register(category string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[category] = h
}

// Resolve returns the handler for a category.
func (r *HandlerRegistry) Resolve(category string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[category]
	return h, ok
}
