package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/service"
	"github.com/utafrali/stockalloc/pkg/httputil"
)

// CheckoutHandler serves the draft-backed checkout paths.
type CheckoutHandler struct {
	checkout *service.CheckoutCoordinator
	logger   *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(checkout *service.CheckoutCoordinator, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		logger:   logger,
	}
}

// CheckoutRequest is the JSON request body of both checkout paths.
type CheckoutRequest struct {
	SessionKey  string             `json:"session_key" validate:"required,max=128"`
	Destination domain.Destination `json:"destination"`
	Items       []domain.CartItem  `json:"items" validate:"required,min=1,max=200,dive"`
}

// Hold handles POST /api/v1/checkouts/hold
func (h *CheckoutHandler) Hold(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.checkout.Hold(r.Context(), req.SessionKey, req.Items, req.Destination)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// Settle handles POST /api/v1/checkouts/settle
func (h *CheckoutHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.checkout.Settle(r.Context(), req.SessionKey, req.Items, req.Destination)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}
