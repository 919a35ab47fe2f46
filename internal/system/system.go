// Package system is the composition root: it constructs every component
// from configuration, wires them together by explicit reference, and owns
// their lifecycle. No component is ever reached through ambient globals.
package system

import (
	"context"
	"log/slog"

	"github.com/tbickmore/relay-core/internal/breaker"
	"github.com/tbickmore/relay-core/internal/cache"
	"github.com/tbickmore/relay-core/internal/collab"
	"github.com/tbickmore/relay-core/internal/config"
	"github.com/tbickmore/relay-core/internal/health"
	"github.com/tbickmore/relay-core/internal/recovery"
	"github.com/tbickmore/relay-core/internal/retry"
	"github.com/tbickmore/relay-core/internal/scheduler"
)

// System bundles the resilience core's components behind a single entry
// surface for external callers.
type System struct {
	Cache     *cache.Store
	Breakers  *breaker.Registry
	Registry  *scheduler.HandlerRegistry
	Scheduler *scheduler.Scheduler
	Recovery  *recovery.Manager
	Collab    *collab.Engine
	Health    *health.Monitor

	logger *slog.Logger
}

// New constructs and wires all components from configuration.
func New(cfg *config.Config, logger *slog.Logger) *System {
	store := cache.New(cache.Config{
		CapacityBytes: cfg.Cache.CapacityBytes,
		ShardCount:    cfg.Cache.ShardCount,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}, logger)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
		HalfOpenTrials:   cfg.Breaker.HalfOpenTrials,
	}, logger)

	retrySpec := retry.Spec{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}

	registry := scheduler.NewHandlerRegistry()

	sched := scheduler.New(scheduler.Config{
		WorkerCount:   cfg.Scheduler.WorkerCount,
		QueueCapacity: cfg.Scheduler.QueueCapacity,
		TaskTimeout:   cfg.Scheduler.TaskTimeout,
	}, registry, breakers, retrySpec, store, logger)

	rec := recovery.NewManager(store, logger)
	sched.SetFallback(rec.FallbackFunc())

	engine := collab.NewEngine(collab.Config{
		HeartbeatTimeout:   cfg.Collab.HeartbeatTimeout,
		SessionIdleTimeout: cfg.Collab.SessionIdleTimeout,
		BroadcastBuffer:    cfg.Collab.BroadcastBuffer,
	}, logger)

	monitor := health.NewMonitor(store, breakers, sched, engine, logger)

	return &System{
		Cache:     store,
		Breakers:  breakers,
		Registry:  registry,
		Scheduler: sched,
		Recovery:  rec,
		Collab:    engine,
		Health:    monitor,
		logger:    logger.With("component", "system"),
	}
}

// RegisterHandler binds a primary handler to a task category.
func (s *System) RegisterHandler(category string, h scheduler.Handler) {
	s.Registry.Register(category, h)
}

// RegisterDegraded binds a degraded fallback handler to a task category.
func (s *System) RegisterDegraded(category string, h recovery.DegradedHandler) {
	s.Recovery.RegisterDegraded(category, h)
}

// Start brings up the background machinery: cache sweep, worker pool, and
// collaboration presence sweep.
func (s *System) Start(ctx context.Context) {
	s.Cache.Start(ctx)
	s.Scheduler.Start()
	s.Collab.Start(ctx)
	s.logger.Info("unified system started")
}

// Stop shuts components down in reverse dependency order.
func (s *System) Stop() {
	s.Collab.Stop()
	s.Scheduler.Stop()
	s.Cache.Stop()
	s.logger.Info("unified system stopped")
}
