package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/service"
	"github.com/utafrali/stockalloc/pkg/httputil"
)

// LockHandler serves the lock session lifecycle.
type LockHandler struct {
	locks  *service.LockManager
	logger *slog.Logger
}

// NewLockHandler creates a new lock HTTP handler.
func NewLockHandler(locks *service.LockManager, logger *slog.Logger) *LockHandler {
	return &LockHandler{
		locks:  locks,
		logger: logger,
	}
}

// LockRequest is the JSON request body for holding batches.
type LockRequest struct {
	SessionKey string                    `json:"session_key" validate:"required,max=128"`
	Items      []domain.BatchLockRequest `json:"items" validate:"required,min=1,max=500,dive"`
}

// TransferRequest is the JSON request body for moving locks to a new key.
type TransferRequest struct {
	NewSessionKey string `json:"new_session_key" validate:"required,max=128"`
}

// Lock handles POST /api/v1/locks
func (h *LockHandler) Lock(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.locks.Lock(r.Context(), req.SessionKey, req.Items)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// Get handles GET /api/v1/locks/{sessionKey}
func (h *LockHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionKey, ok := httputil.ParseKey(w, "sessionKey", chi.URLParam(r, "sessionKey"))
	if !ok {
		return
	}

	locks, err := h.locks.Locks(r.Context(), sessionKey)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"session_key": sessionKey,
		"locks":       locks,
	}})
}

// Confirm handles POST /api/v1/locks/{sessionKey}/confirm
func (h *LockHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sessionKey, ok := httputil.ParseKey(w, "sessionKey", chi.URLParam(r, "sessionKey"))
	if !ok {
		return
	}

	result, err := h.locks.Confirm(r.Context(), sessionKey)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// Release handles POST /api/v1/locks/{sessionKey}/release
func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request) {
	sessionKey, ok := httputil.ParseKey(w, "sessionKey", chi.URLParam(r, "sessionKey"))
	if !ok {
		return
	}

	result, err := h.locks.Release(r.Context(), sessionKey)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// Transfer handles POST /api/v1/locks/{sessionKey}/transfer
func (h *LockHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	sessionKey, ok := httputil.ParseKey(w, "sessionKey", chi.URLParam(r, "sessionKey"))
	if !ok {
		return
	}

	var req TransferRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.locks.Transfer(r.Context(), sessionKey, req.NewSessionKey)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}
