package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tbickmore/relay-core/internal/api/shared"
	"github.com/tbickmore/relay-core/internal/scheduler"
)

// TaskHandler exposes task submission, status, and cancellation.
type TaskHandler struct {
	scheduler *scheduler.Scheduler
	validator *validator.Validate
	logger    *slog.Logger
}

// NewTaskHandler creates a TaskHandler backed by the given scheduler.
func NewTaskHandler(sched *scheduler.Scheduler, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		scheduler: sched,
		validator: validator.New(),
		logger:    logger.With("component", "task_handler"),
	}
}

// Submit handles POST /tasks.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest,
			"Invalid request format", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest,
			"Invalid request parameters", err)
		return
	}

	task := &scheduler.Task{
		Category:    req.Category,
		Payload:     req.Payload,
		Priority:    scheduler.ParsePriority(req.Priority),
		CacheKey:    req.CacheKey,
		MaxAttempts: req.MaxAttempts,
	}

	id, err := h.scheduler.Submit(task)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: id.String(),
		Status: string(scheduler.StatusPending),
	})
}

// Status handles GET /tasks/{id}.
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	snap, err := h.scheduler.Status(id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TaskStatusResponse{
		TaskID:    snap.ID.String(),
		Category:  snap.Category,
		Status:    string(snap.Status),
		Attempts:  snap.Attempts,
		LastError: snap.LastError,
	})
}

// Cancel handles DELETE /tasks/{id}.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	if err := h.scheduler.Cancel(id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
