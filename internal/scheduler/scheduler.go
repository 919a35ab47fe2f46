// Package scheduler distributes tasks across a bounded worker pool with
// priority ordering, per-task timeouts, retry with backoff, and circuit
// breaking around handler invocation.
//
// Retries never block a worker: a failed task is parked in a timer-driven
// delay heap and re-enqueued when its backoff elapses, leaving the worker
// free to process other tasks.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tbickmore/relay-core/internal/breaker"
	"github.com/tbickmore/relay-core/internal/cache"
	"github.com/tbickmore/relay-core/internal/retry"
)

// Config holds the scheduler's pool and queue settings.
type Config struct {
	// WorkerCount is the fixed number of concurrent workers.
	WorkerCount int

	// QueueCapacity bounds the pending task queue; Submit fails fast with
	// ErrQueueFull beyond it.
	QueueCapacity int

	// TaskTimeout bounds each handler invocation. Exceeding it counts as
	// a failure for retry and circuit breaker purposes.
	TaskTimeout time.Duration
}

// FallbackFunc is invoked when a task cannot produce a result on its own:
// either its dependency's breaker is open, or its retries are exhausted.
// It returns a substitute result and whether one was produced.
type FallbackFunc func(ctx context.Context, t *Task, cause error) ([]byte, bool)

// Stats is a snapshot of scheduler counters for the health monitor.
type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Submitted     int64
	Succeeded     int64
	DeadLettered  int64
}

// Scheduler owns every task from submission to terminal state.
type Scheduler struct {
	cfg      Config
	queue    *PriorityQueue
	registry *HandlerRegistry
	breakers *breaker.Registry
	retry    retry.Spec
	results  *cache.Store
	fallback FallbackFunc
	logger   *slog.Logger

	mu    sync.Mutex
	tasks map[uuid.UUID]*Task

	delayCh chan delayedItem

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted    atomic.Int64
	succeeded    atomic.Int64
	deadLettered atomic.Int64
}

// New creates a Scheduler. The results cache may be nil, in which case
// successful results are not cached. The fallback hook is optional.
func New(
	cfg Config,
	registry *HandlerRegistry,
	breakers *breaker.Registry,
	retrySpec retry.Spec,
	results *cache.Store,
	logger *slog.Logger,
) *Scheduler {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		queue:    NewPriorityQueue(cfg.QueueCapacity),
		registry: registry,
		breakers: breakers,
		retry:    retrySpec,
		results:  results,
		logger:   logger.With("component", "scheduler"),
		tasks:    make(map[uuid.UUID]*Task),
		delayCh:  make(chan delayedItem, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetFallback wires the recovery manager's fallback path. Must be called
// before Start.
func (s *Scheduler) SetFallback(fn FallbackFunc) {
	s.fallback = fn
}

// Start launches the worker pool and the delay loop.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.wg.Add(1)
	go s.delayLoop()
	s.logger.Info("scheduler started",
		"worker_count", s.cfg.WorkerCount,
		"queue_capacity", s.cfg.QueueCapacity)
}

// Stop shuts the scheduler down and waits for workers to drain.
func (s *Scheduler) Stop() {
	s.cancel()
	s.queue.Close()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Submit enqueues a task without blocking. Returns ErrQueueFull when the
// queue is saturated and ErrUnknownCategory when no handler is registered.
func (s *Scheduler) Submit(t *Task) (uuid.UUID, error) {
	if _, ok := s.registry.Resolve(t.Category); !ok {
		return uuid.Nil, ErrUnknownCategory
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = s.retry.MaxAttempts
	}
	t.SubmittedAt = time.Now()
	t.status = StatusPending

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	if err := s.queue.Push(t); err != nil {
		s.mu.Lock()
		delete(s.tasks, t.ID)
		s.mu.Unlock()
		return uuid.Nil, err
	}

	s.submitted.Add(1)
	s.logger.Debug("task submitted",
		"task_id", t.ID,
		"category", t.Category,
		"priority", t.Priority.String(),
		"queue_depth", s.queue.Len())
	return t.ID, nil
}

// Status returns a snapshot of the task's state.
func (s *Scheduler) Status(id uuid.UUID) (Snapshot, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	return t.snapshot(), nil
}

// Cancel requests cancellation. A pending task is removed from the queue
// immediately; a running task's context is canceled so the handler can
// observe it cooperatively. Terminal tasks return ErrAlreadyTerminal.
func (s *Scheduler) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}

	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return ErrAlreadyTerminal
	}
	t.canceled = true
	cancelRun := t.cancelRun
	pending := t.status == StatusPending
	t.mu.Unlock()

	if pending && s.queue.Remove(id) {
		t.mu.Lock()
		t.status = StatusFailed
		t.errs = append(t.errs, ErrCanceled)
		t.mu.Unlock()
		s.logger.Info("canceled pending task", "task_id", id)
		return nil
	}

	// Running, or parked in the delay heap; the canceled flag finalizes it
	// at the next safe point.
	if cancelRun != nil {
		cancelRun()
	}
	s.logger.Info("requested cooperative cancel", "task_id", id)
	return nil
}

// Stats returns current scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		QueueDepth:    s.queue.Len(),
		QueueCapacity: s.queue.Cap(),
		Submitted:     s.submitted.Load(),
		Succeeded:     s.succeeded.Load(),
		DeadLettered:  s.deadLettered.Load(),
	}
}

// worker pulls tasks off the queue until shutdown.
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	s.logger.Debug("starting worker", "worker_id", id)

	for {
		t, ok := s.queue.Pop()
		if !ok {
			s.logger.Debug("stopping worker", "worker_id", id)
			return
		}
		s.runTask(t, id)
	}
}

// runTask executes a single attempt of a task.
func (s *Scheduler) runTask(t *Task, workerID int) {
	logger := s.logger.With(
		"task_id", t.ID,
		"category", t.Category,
		"worker_id", workerID,
	)

	t.mu.Lock()
	if t.canceled {
		t.status = StatusFailed
		t.errs = append(t.errs, ErrCanceled)
		t.mu.Unlock()
		logger.Info("dropping canceled task")
		return
	}
	t.mu.Unlock()

	b := s.breakers.Get(t.Category)
	if !b.Allow() {
		logger.Warn("circuit breaker open, routing to fallback")
		s.resolveWithFallback(t, ErrDependencyUnavailable, logger)
		return
	}

	handler, ok := s.registry.Resolve(t.Category)
	if !ok {
		s.resolveWithFallback(t, ErrUnknownCategory, logger)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.TaskTimeout)
	t.mu.Lock()
	t.attempts++
	attempt := t.attempts
	t.status = StatusRunning
	t.cancelRun = cancel
	t.mu.Unlock()

	logger.Info("processing task", "attempt", attempt)
	result, err := handler(ctx, t)
	if err == nil && ctx.Err() != nil {
		// The handler ignored the deadline; the timeout still counts.
		err = ctx.Err()
	}
	cancel()

	t.mu.Lock()
	t.cancelRun = nil
	canceled := t.canceled
	t.mu.Unlock()

	b.RecordResult(err == nil)

	if err == nil {
		t.mu.Lock()
		t.status = StatusSucceeded
		t.result = result
		t.mu.Unlock()
		s.succeeded.Add(1)

		if t.CacheKey != "" && s.results != nil {
			if cerr := s.results.Set(t.CacheKey, result, 0); cerr != nil {
				logger.Warn("failed to cache task result", "error", cerr)
			}
		}
		logger.Info("task completed", "attempt", attempt)
		return
	}

	t.mu.Lock()
	t.errs = append(t.errs, err)
	t.mu.Unlock()
	logger.Error("task attempt failed", "attempt", attempt, "error", err)

	if canceled {
		t.mu.Lock()
		t.status = StatusFailed
		t.mu.Unlock()
		logger.Info("canceled task finalized")
		return
	}

	// The policy's attempt budget is per task, so apply the task's own cap.
	spec := s.retry
	spec.MaxAttempts = t.MaxAttempts
	delay, retryable := spec.Delay(attempt)
	if retryable {
		t.mu.Lock()
		t.status = StatusPending
		t.mu.Unlock()
		logger.Info("retry scheduled", "attempt", attempt, "delay", delay)
		s.scheduleRetry(t, delay)
		return
	}

	s.deadLettered.Add(1)
	t.mu.Lock()
	t.status = StatusDeadLettered
	t.mu.Unlock()
	logger.Error("task dead-lettered", "attempts", attempt)
	s.applyFallback(t, err, logger)
}

// resolveWithFallback finalizes a task that never reached its handler
// (breaker open or unresolvable category). No retry applies.
func (s *Scheduler) resolveWithFallback(t *Task, cause error, logger *slog.Logger) {
	t.mu.Lock()
	t.errs = append(t.errs, cause)
	t.mu.Unlock()

	if s.fallback != nil {
		if value, ok := s.fallback(s.ctx, t, cause); ok {
			t.mu.Lock()
			t.status = StatusSucceeded
			t.result = value
			t.mu.Unlock()
			s.succeeded.Add(1)
			logger.Info("task resolved via fallback")
			return
		}
	}

	t.mu.Lock()
	t.status = StatusFailed
	t.mu.Unlock()
	logger.Error("task failed without fallback", "error", cause)
}

// applyFallback attaches a fallback result to an already dead-lettered task.
func (s *Scheduler) applyFallback(t *Task, cause error, logger *slog.Logger) {
	if s.fallback == nil {
		return
	}
	if value, ok := s.fallback(s.ctx, t, cause); ok {
		t.mu.Lock()
		t.result = value
		t.mu.Unlock()
		logger.Info("dead-lettered task recovered via fallback")
	}
}

// delayedItem parks a task until its backoff elapses.
type delayedItem struct {
	runAt time.Time
	seq   uint64
	task  *Task
}

// delayHeap is a min-heap ordered by runAt, then insertion sequence.
type delayHeap []delayedItem

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, j int) bool {
	if h[i].runAt.Equal(h[j].runAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].runAt.Before(h[j].runAt)
}
func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)   { *h = append(*h, x.(delayedItem)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// scheduleRetry hands the task to the delay loop.
func (s *Scheduler) scheduleRetry(t *Task, delay time.Duration) {
	select {
	case s.delayCh <- delayedItem{runAt: time.Now().Add(delay), task: t}:
	case <-s.ctx.Done():
	}
}

// delayLoop keeps parked tasks in a min-heap and holds exactly one timer,
// always armed for the heap head. When the timer fires, the due task goes
// back onto the main queue. No worker ever sleeps on a retry delay.
func (s *Scheduler) delayLoop() {
	defer s.wg.Done()

	var pending delayHeap
	heap.Init(&pending)
	var seq uint64

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		var fire <-chan time.Time
		if len(pending) > 0 {
			d := time.Until(pending[0].runAt)
			if d < 0 {
				d = 0
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
			fire = timer.C
		}

		select {
		case <-s.ctx.Done():
			return

		case item := <-s.delayCh:
			seq++
			item.seq = seq
			heap.Push(&pending, item)

		case <-fire:
			if len(pending) == 0 {
				continue
			}
			item := heap.Pop(&pending).(delayedItem)
			if err := s.queue.Push(item.task); err != nil {
				// Queue saturated by fresh submissions; try again shortly
				// rather than losing the retry.
				s.logger.Warn("failed to requeue delayed task",
					"task_id", item.task.ID,
					"error", err)
				item.runAt = time.Now().Add(100 * time.Millisecond)
				heap.Push(&pending, item)
			}
		}
	}
}
