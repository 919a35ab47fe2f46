// Package health aggregates per-component status for the /health endpoint.
// The monitor is strictly read-only: it observes components through narrow
// stats interfaces and never mutates them.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tbickmore/relay-core/internal/breaker"
	"github.com/tbickmore/relay-core/internal/cache"
	"github.com/tbickmore/relay-core/internal/collab"
	"github.com/tbickmore/relay-core/internal/scheduler"
)

// Status grades a component or the system as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse returns the lower of two statuses.
func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ComponentReport is one component's contribution to the health report.
type ComponentReport struct {
	Name   string         `json:"name"`
	Status Status         `json:"status"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Report is the aggregated health snapshot.
type Report struct {
	Status     Status            `json:"status"`
	Components []ComponentReport `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// Stats sources observed by the monitor. Each is the minimal read-only
// surface of the corresponding component.
type (
	CacheSource interface {
		Stats() cache.Stats
	}
	BreakerSource interface {
		States() map[string]breaker.State
	}
	SchedulerSource interface {
		Stats() scheduler.Stats
	}
	CollabSource interface {
		Stats() collab.Stats
	}
)

// Monitor polls the system's components and grades them.
type Monitor struct {
	cacheSrc   CacheSource
	breakerSrc BreakerSource
	schedSrc   SchedulerSource
	collabSrc  CollabSource
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor over the given sources. Any source may be
// nil, in which case that component is simply omitted from reports.
func NewMonitor(
	cacheSrc CacheSource,
	breakerSrc BreakerSource,
	schedSrc SchedulerSource,
	collabSrc CollabSource,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		cacheSrc:   cacheSrc,
		breakerSrc: breakerSrc,
		schedSrc:   schedSrc,
		collabSrc:  collabSrc,
		logger:     logger.With("component", "health"),
	}
}

// CheckAll gathers and grades every component.
func (m *Monitor) CheckAll() Report {
	report := Report{
		Status:    StatusHealthy,
		CheckedAt: time.Now(),
	}

	if m.cacheSrc != nil {
		c := m.checkCache(m.cacheSrc.Stats())
		report.Components = append(report.Components, c)
		report.Status = worse(report.Status, c.Status)
	}
	if m.breakerSrc != nil {
		c := m.checkBreakers(m.breakerSrc.States())
		report.Components = append(report.Components, c)
		report.Status = worse(report.Status, c.Status)
	}
	if m.schedSrc != nil {
		c := m.checkScheduler(m.schedSrc.Stats())
		report.Components = append(report.Components, c)
		report.Status = worse(report.Status, c.Status)
	}
	if m.collabSrc != nil {
		c := m.checkCollab(m.collabSrc.Stats())
		report.Components = append(report.Components, c)
		report.Status = worse(report.Status, c.Status)
	}

	return report
}

// checkCache grades hit rate and capacity pressure.
func (m *Monitor) checkCache(s cache.Stats) ComponentReport {
	status := StatusHealthy

	lookups := s.Hits + s.Misses
	hitRate := 1.0
	if lookups > 0 {
		hitRate = float64(s.Hits) / float64(lookups)
	}
	// A low hit rate only matters once there is real traffic.
	if lookups >= 100 && hitRate < 0.25 {
		status = StatusDegraded
	}

	pressure := 0.0
	if s.CapacityBytes > 0 {
		pressure = float64(s.ResidentBytes) / float64(s.CapacityBytes)
	}
	if pressure > 0.95 {
		status = worse(status, StatusDegraded)
	}

	return ComponentReport{
		Name:   "cache",
		Status: status,
		Detail: map[string]any{
			"hit_rate":       hitRate,
			"entries":        s.Entries,
			"resident_bytes": s.ResidentBytes,
			"capacity_bytes": s.CapacityBytes,
			"evictions":      s.Evictions,
		},
	}
}

// checkBreakers grades the breaker registry: any open dependency degrades
// the component.
func (m *Monitor) checkBreakers(states map[string]breaker.State) ComponentReport {
	status := StatusHealthy
	open := make([]string, 0)
	for name, state := range states {
		if state == breaker.StateOpen {
			open = append(open, name)
		}
	}
	if len(open) > 0 {
		status = StatusDegraded
	}

	return ComponentReport{
		Name:   "breakers",
		Status: status,
		Detail: map[string]any{
			"dependencies": len(states),
			"open":         open,
		},
	}
}

// checkScheduler grades queue pressure and the dead-letter rate.
func (m *Monitor) checkScheduler(s scheduler.Stats) ComponentReport {
	status := StatusHealthy

	depthRatio := 0.0
	if s.QueueCapacity > 0 {
		depthRatio = float64(s.QueueDepth) / float64(s.QueueCapacity)
	}
	if depthRatio >= 1.0 {
		status = StatusUnhealthy
	} else if depthRatio > 0.8 {
		status = StatusDegraded
	}

	deadLetterRate := 0.0
	if s.Submitted > 0 {
		deadLetterRate = float64(s.DeadLettered) / float64(s.Submitted)
	}
	if s.Submitted >= 10 && deadLetterRate > 0.5 {
		status = worse(status, StatusUnhealthy)
	} else if s.Submitted >= 10 && deadLetterRate > 0.1 {
		status = worse(status, StatusDegraded)
	}

	return ComponentReport{
		Name:   "scheduler",
		Status: status,
		Detail: map[string]any{
			"queue_depth":      s.QueueDepth,
			"queue_capacity":   s.QueueCapacity,
			"submitted":        s.Submitted,
			"succeeded":        s.Succeeded,
			"dead_lettered":    s.DeadLettered,
			"dead_letter_rate": deadLetterRate,
		},
	}
}

// checkCollab reports session activity. Session counts alone never make the
// engine unhealthy; this is informational unless the engine is gone.
func (m *Monitor) checkCollab(s collab.Stats) ComponentReport {
	return ComponentReport{
		Name:   "collab",
		Status: StatusHealthy,
		Detail: map[string]any{
			"active_sessions": s.ActiveSessions,
			"participants":    s.Participants,
		},
	}
}

// Run performs periodic background checks, logging status transitions.
// It is optional; CheckAll can also be called on demand.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := StatusHealthy
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report := m.CheckAll()
				if report.Status != last {
					m.logger.Info("system health changed",
						"from", last,
						"to", report.Status)
					last = report.Status
				}
			}
		}
	}()
}

// Stop terminates the background check loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
