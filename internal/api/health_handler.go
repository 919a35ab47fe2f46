package api

import (
	"log/slog"
	"net/http"

	"github.com/tbickmore/relay-core/internal/api/shared"
	"github.com/tbickmore/relay-core/internal/health"
)

// HealthHandler exposes the aggregated health report.
type HealthHandler struct {
	monitor *health.Monitor
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler backed by the given monitor.
func NewHealthHandler(monitor *health.Monitor, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		monitor: monitor,
		logger:  logger.With("component", "health_handler"),
	}
}

// Check handles GET /health. Unhealthy reports carry a 503 so load
// balancers can act on the status code alone.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.CheckAll()

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	shared.RespondWithJSON(w, r, status, report)
}
