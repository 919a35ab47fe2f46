package scheduler

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// queueItem wraps a task in the priority heap. seq preserves submission
// order among equal priorities.
type queueItem struct {
	task  *Task
	seq   uint64
	index int
}

// taskHeap orders by priority (high first), then submission sequence.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// PriorityQueue is a bounded, priority-aware task queue. Push never blocks:
// a saturated queue returns ErrQueueFull as the backpressure signal.
// Pop blocks until a task is available or the queue is closed.
type PriorityQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    taskHeap
	byID     map[uuid.UUID]*queueItem
	capacity int
	seq      uint64
	closed   bool
}

// NewPriorityQueue creates a queue holding at most capacity tasks.
func NewPriorityQueue(capacity int) *PriorityQueue {
	q := &PriorityQueue{
		byID:     make(map[uuid.UUID]*queueItem),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a task. Returns ErrQueueFull when at capacity and
// ErrQueueClosed after Close.
func (q *PriorityQueue) Push(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.items) >= q.capacity {
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.capacity)
	}

	q.seq++
	item := &queueItem{task: t, seq: q.seq}
	heap.Push(&q.items, item)
	q.byID[t.ID] = item
	q.cond.Signal()
	return nil
}

// Pop removes and returns the highest-priority task, blocking until one is
// available. The second return is false once the queue is closed and drained.
func (q *PriorityQueue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	item := heap.Pop(&q.items).(*queueItem)
	delete(q.byID, item.task.ID)
	return item.task, true
}

// Remove takes a pending task out of the queue by ID. Returns false if the
// task is not queued (it may already be running or finished).
func (q *PriorityQueue) Remove(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.byID, id)
	return true
}

// Len returns the number of queued tasks.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue's capacity.
func (q *PriorityQueue) Cap() int {
	return q.capacity
}

// Close marks the queue closed and wakes all blocked Pop calls. Queued
// tasks may still be drained.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}
