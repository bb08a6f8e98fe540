package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/service"
	"github.com/utafrali/stockalloc/pkg/httputil"
)

// AllocationHandler serves FEFO planning and direct consumption.
type AllocationHandler struct {
	planner  *service.Planner
	recorder *service.ConsumptionRecorder
	logger   *slog.Logger
}

// NewAllocationHandler creates a new allocation HTTP handler.
func NewAllocationHandler(planner *service.Planner, recorder *service.ConsumptionRecorder, logger *slog.Logger) *AllocationHandler {
	return &AllocationHandler{
		planner:  planner,
		recorder: recorder,
		logger:   logger,
	}
}

// PlanRequest is the JSON request body for planning a cart.
type PlanRequest struct {
	Destination domain.Destination `json:"destination"`
	Items       []domain.CartItem  `json:"items" validate:"required,min=1,max=200,dive"`
}

// CommitRequest is the JSON request body for consuming batches without locks.
type CommitRequest struct {
	OrderItemID string                   `json:"order_item_id" validate:"required,max=64"`
	Allocations []domain.BatchAllocation `json:"allocations" validate:"required,min=1,dive"`
}

// Plan handles POST /api/v1/allocations/plan
func (h *AllocationHandler) Plan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	plan, err := h.planner.Plan(r.Context(), req.Items, req.Destination)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: plan})
}

// Commit handles POST /api/v1/consumptions
func (h *AllocationHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.recorder.Commit(r.Context(), req.OrderItemID, req.Allocations)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}
