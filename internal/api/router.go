// Package api exposes the system over HTTP: REST endpoints for tasks,
// cache, and health, and a websocket endpoint for real-time collaboration.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tbickmore/relay-core/internal/api/middleware"
	"github.com/tbickmore/relay-core/internal/system"
)

// NewRouter builds the HTTP router over the system's components.
func NewRouter(sys *system.System, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceID)

	tasks := NewTaskHandler(sys.Scheduler, logger)
	cacheH := NewCacheHandler(sys.Cache, logger)
	healthH := NewHealthHandler(sys.Health, logger)
	collabH := NewCollabHandler(sys.Collab, logger)

	r.Get("/health", healthH.Check)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", tasks.Submit)
		r.Get("/{id}", tasks.Status)
		r.Delete("/{id}", tasks.Cancel)
	})

	r.Route("/cache", func(r chi.Router) {
		r.Get("/{key}", cacheH.Get)
		r.Put("/{key}", cacheH.Put)
		r.Delete("/{key}", cacheH.Delete)
	})

	r.Route("/collab", func(r chi.Router) {
		r.Get("/{doc}/presence", collabH.Presence)
		r.Get("/{doc}/ws", collabH.Connect)
	})

	return r
}
