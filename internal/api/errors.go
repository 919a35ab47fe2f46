package api

import (
	"errors"
	"net/http"

	"github.com/tbickmore/relay-core/internal/cache"
	"github.com/tbickmore/relay-core/internal/collab"
	"github.com/tbickmore/relay-core/internal/scheduler"
)

// MapErrorToStatusCode translates component sentinel errors into HTTP
// status codes. Unknown errors map to 500.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrQueueFull),
		errors.Is(err, scheduler.ErrQueueClosed),
		errors.Is(err, scheduler.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, scheduler.ErrTaskNotFound),
		errors.Is(err, collab.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrUnknownCategory),
		errors.Is(err, collab.ErrOperationRejected),
		errors.Is(err, collab.ErrNotJoined):
		return http.StatusBadRequest
	case errors.Is(err, cache.ErrCapacityExceeded):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for the error. Sentinel
// errors carry no internal detail and pass through verbatim; anything else
// is replaced by a generic message.
func GetSafeErrorMessage(err error) string {
	for _, sentinel := range []error{
		scheduler.ErrQueueFull,
		scheduler.ErrQueueClosed,
		scheduler.ErrTaskNotFound,
		scheduler.ErrAlreadyTerminal,
		scheduler.ErrUnknownCategory,
		scheduler.ErrDependencyUnavailable,
		scheduler.ErrCanceled,
		cache.ErrCapacityExceeded,
		collab.ErrSessionNotFound,
		collab.ErrNotJoined,
		collab.ErrOperationRejected,
	} {
		if errors.Is(err, sentinel) {
			return err.Error()
		}
	}
	return "An unexpected error occurred"
}
