package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tbickmore/relay-core/internal/api/shared"
	"github.com/tbickmore/relay-core/internal/cache"
)

// CacheHandler exposes direct read/write access to the cache store.
type CacheHandler struct {
	store     *cache.Store
	validator *validator.Validate
	logger    *slog.Logger
}

// NewCacheHandler creates a CacheHandler backed by the given store.
func NewCacheHandler(store *cache.Store, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{
		store:     store,
		validator: validator.New(),
		logger:    logger.With("component", "cache_handler"),
	}
}

// Get handles GET /cache/{key}.
func (h *CacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok := h.store.Get(key)
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "Key not found")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, CacheGetResponse{
		Key:   key,
		Value: value,
	})
}

// Put handles PUT /cache/{key}. A ttl_seconds of 0 applies the default TTL;
// -1 stores the entry without expiry.
func (h *CacheHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req CachePutRequest
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

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.store.Set(key, req.Value, ttl); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /cache/{key}.
func (h *CacheHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.store.Invalidate(chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusNoContent)
}
