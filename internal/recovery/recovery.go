// Package recovery orchestrates fallback chains for tasks that failed
// permanently: a cached result if one exists, then a registered degraded
// handler, then propagation of the original failure with its full attempt
// history.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tbickmore/relay-core/internal/cache"
	"github.com/tbickmore/relay-core/internal/scheduler"
)

// Source identifies which stage of the fallback chain produced the outcome.
type Source string

const (
	// SourceCache means a previously cached value satisfied the request.
	SourceCache Source = "cache"
	// SourceDegraded means a registered degraded handler produced a
	// reduced-fidelity substitute.
	SourceDegraded Source = "degraded"
	// SourceNone means no fallback stage succeeded and the failure
	// propagates to the caller.
	SourceNone Source = "none"
)

// Outcome is the result of running the fallback chain.
type Outcome struct {
	Source Source
	Value  []byte
	// Err is non-nil only when Source is SourceNone; it wraps the original
	// failure together with every attempt error.
	Err error
}

// DegradedHandler produces a reduced-fidelity result for a task category
// when the primary handler cannot.
type DegradedHandler func(ctx context.Context, t *scheduler.Task) ([]byte, error)

// Manager walks the fallback chain for failed tasks. A cache outage is not
// fatal: the chain simply moves on to the next stage.
type Manager struct {
	store  *cache.Store
	logger *slog.Logger

	mu       sync.RWMutex
	degraded map[string]DegradedHandler
}

// NewManager creates a Manager backed by the given cache store. The store
// may be nil, in which case the cache stage is skipped.
func NewManager(store *cache.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		logger:   logger.With("component", "recovery"),
		degraded: make(map[string]DegradedHandler),
	}
}

// RegisterDegraded binds a degraded handler to a task category.
func (m *Manager) RegisterDegraded(category string, h DegradedHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded[category] = h
}

// HandleFailure runs the fallback chain for a failed task, short-circuiting
// on the first stage that produces a value. Every decision is logged with
// its chosen path.
func (m *Manager) HandleFailure(ctx context.Context, t *scheduler.Task, failure error) Outcome {
	logger := m.logger.With(
		"task_id", t.ID,
		"category", t.Category,
		"failure", failure,
	)

	// Stage 1: a cached value for the task's key.
	if m.store != nil && t.CacheKey != "" {
		if value, ok := m.store.Get(t.CacheKey); ok {
			logger.Info("fallback resolved", "path", SourceCache, "cache_key", t.CacheKey)
			return Outcome{Source: SourceCache, Value: value}
		}
	}

	// Stage 2: a degraded handler registered for the category.
	m.mu.RLock()
	h, ok := m.degraded[t.Category]
	m.mu.RUnlock()
	if ok {
		value, err := h(ctx, t)
		if err == nil {
			logger.Info("fallback resolved", "path", SourceDegraded)
			return Outcome{Source: SourceDegraded, Value: value}
		}
		logger.Warn("degraded handler failed", "error", err)
	}

	// Stage 3: propagate, tagged with the full attempt history so callers
	// see every attempt error and not just the last.
	history := multierror.Append(nil, t.Errors()...)
	if history.Len() == 0 && failure != nil {
		history = multierror.Append(history, failure)
	}
	err := fmt.Errorf("all fallbacks exhausted for task %s: %w", t.ID, history.ErrorOrNil())
	logger.Error("fallback exhausted", "path", SourceNone, "attempt_errors", history.Len())
	return Outcome{Source: SourceNone, Err: err}
}

// FallbackFunc adapts the manager to the scheduler's fallback hook.
func (m *Manager) FallbackFunc() scheduler.FallbackFunc {
	return func(ctx context.Context, t *scheduler.Task, cause error) ([]byte, bool) {
		outcome := m.HandleFailure(ctx, t, cause)
		if outcome.Err != nil {
			return nil, false
		}
		return outcome.Value, true
	}
}
