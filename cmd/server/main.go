// Command server runs the resilience core as an HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tbickmore/relay-core/internal/api"
	"github.com/tbickmore/relay-core/internal/config"
	"github.com/tbickmore/relay-core/internal/platform/logger"
	"github.com/tbickmore/relay-core/internal/scheduler"
	"github.com/tbickmore/relay-core/internal/system"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys := system.New(cfg, log)
	registerBuiltinHandlers(sys, log)

	sys.Start(ctx)
	defer sys.Stop()

	sys.Health.Run(ctx, 15*time.Second)
	defer sys.Health.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(sys, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	log.Info("server stopped cleanly")
	return nil
}

// registerBuiltinHandlers wires the default task categories. Embedders
// replace these with their own handlers; the echo category stays useful
// for smoke checks.
func registerBuiltinHandlers(sys *system.System, log *slog.Logger) {
	sys.RegisterHandler("echo", func(ctx context.Context, t *scheduler.Task) ([]byte, error) {
		return t.Payload, nil
	})
	sys.RegisterDegraded("echo", func(ctx context.Context, t *scheduler.Task) ([]byte, error) {
		return t.Payload, nil
	})
	log.Debug("builtin task handlers registered", "categories", []string{"echo"})
}
