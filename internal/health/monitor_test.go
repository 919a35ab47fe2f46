package health

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbickmore/relay-core/internal/breaker"
	"github.com/tbickmore/relay-core/internal/cache"
	"github.com/tbickmore/relay-core/internal/collab"
	"github.com/tbickmore/relay-core/internal/scheduler"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// Stub sources returning canned stats.
type (
	stubCache   struct{ stats cache.Stats }
	stubBreaker struct{ states map[string]breaker.State }
	stubSched   struct{ stats scheduler.Stats }
	stubCollab  struct{ stats collab.Stats }
)

func (s stubCache) Stats() cache.Stats                  { return s.stats }
func (s stubBreaker) States() map[string]breaker.State  { return s.states }
func (s stubSched) Stats() scheduler.Stats              { return s.stats }
func (s stubCollab) Stats() collab.Stats                { return s.stats }

func TestAllHealthy(t *testing.T) {
	m := NewMonitor(
		stubCache{stats: cache.Stats{Hits: 90, Misses: 10, CapacityBytes: 1000, ResidentBytes: 100}},
		stubBreaker{states: map[string]breaker.State{"svc": breaker.StateClosed}},
		stubSched{stats: scheduler.Stats{QueueDepth: 1, QueueCapacity: 100, Submitted: 50, Succeeded: 49}},
		stubCollab{stats: collab.Stats{ActiveSessions: 3, Participants: 7}},
		setupTestLogger(),
	)

	report := m.CheckAll()
	assert.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Components, 4)
	for _, c := range report.Components {
		assert.Equal(t, StatusHealthy, c.Status, "component %s", c.Name)
	}
}

func TestOpenBreakerDegrades(t *testing.T) {
	m := NewMonitor(
		nil,
		stubBreaker{states: map[string]breaker.State{
			"svc-a": breaker.StateClosed,
			"svc-b": breaker.StateOpen,
		}},
		nil,
		nil,
		setupTestLogger(),
	)

	report := m.CheckAll()
	assert.Equal(t, StatusDegraded, report.Status)
	require.Len(t, report.Components, 1)
	assert.Equal(t, "breakers", report.Components[0].Name)
	assert.Equal(t, []string{"svc-b"}, report.Components[0].Detail["open"])
}

func TestSaturatedQueueUnhealthy(t *testing.T) {
	m := NewMonitor(
		nil, nil,
		stubSched{stats: scheduler.Stats{QueueDepth: 100, QueueCapacity: 100, Submitted: 100}},
		nil,
		setupTestLogger(),
	)

	report := m.CheckAll()
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestHighDeadLetterRateDegrades(t *testing.T) {
	m := NewMonitor(
		nil, nil,
		stubSched{stats: scheduler.Stats{QueueDepth: 0, QueueCapacity: 100, Submitted: 100, DeadLettered: 20}},
		nil,
		setupTestLogger(),
	)

	report := m.CheckAll()
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestLowHitRateDegradesOnlyUnderTraffic(t *testing.T) {
	// Ten lookups at 0% hit rate: too little traffic to judge.
	m := NewMonitor(
		stubCache{stats: cache.Stats{Hits: 0, Misses: 10, CapacityBytes: 1000}},
		nil, nil, nil,
		setupTestLogger(),
	)
	assert.Equal(t, StatusHealthy, m.CheckAll().Status)

	// Two hundred lookups at 10% hit rate: degraded.
	m = NewMonitor(
		stubCache{stats: cache.Stats{Hits: 20, Misses: 180, CapacityBytes: 1000}},
		nil, nil, nil,
		setupTestLogger(),
	)
	assert.Equal(t, StatusDegraded, m.CheckAll().Status)
}

func TestCapacityPressureDegrades(t *testing.T) {
	m := NewMonitor(
		stubCache{stats: cache.Stats{Hits: 1, CapacityBytes: 1000, ResidentBytes: 990}},
		nil, nil, nil,
		setupTestLogger(),
	)
	assert.Equal(t, StatusDegraded, m.CheckAll().Status)
}

func TestNilSourcesOmitted(t *testing.T) {
	m := NewMonitor(nil, nil, nil, nil, setupTestLogger())
	report := m.CheckAll()
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Components)
}

func TestWorstStatusWins(t *testing.T) {
	m := NewMonitor(
		stubCache{stats: cache.Stats{Hits: 100, CapacityBytes: 1000}},
		stubBreaker{states: map[string]breaker.State{"svc": breaker.StateOpen}},
		stubSched{stats: scheduler.Stats{QueueDepth: 100, QueueCapacity: 100}},
		nil,
		setupTestLogger(),
	)
	assert.Equal(t, StatusUnhealthy, m.CheckAll().Status)
}
