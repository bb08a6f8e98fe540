package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/service"
	"github.com/utafrali/stockalloc/pkg/httputil"
	"github.com/utafrali/stockalloc/pkg/pagination"
)

// StockHandler serves batch assignment and the low-stock report.
type StockHandler struct {
	guard  *service.BatchLifecycleGuard
	report *service.StockReport
	logger *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(guard *service.BatchLifecycleGuard, report *service.StockReport, logger *slog.Logger) *StockHandler {
	return &StockHandler{
		guard:  guard,
		report: report,
		logger: logger,
	}
}

// StockDefinition describes a stock line to create when the id is unknown.
type StockDefinition struct {
	WarehouseID string `json:"warehouse_id" validate:"required,max=64"`
	domain.ItemRef
	LowStockThreshold int `json:"low_stock_threshold" validate:"gte=0"`
}

// AssignBatchesRequest is the JSON request body for replacing the batches of
// a stock line. Stock is only needed when the line does not exist yet.
type AssignBatchesRequest struct {
	Stock   *StockDefinition  `json:"stock,omitempty"`
	Batches []domain.NewBatch `json:"batches" validate:"max=500,dive"`
}

// AssignBatches handles PUT /api/v1/stocks/{stockId}/batches
func (h *StockHandler) AssignBatches(w http.ResponseWriter, r *http.Request) {
	stockID, ok := httputil.ParseKey(w, "stockId", chi.URLParam(r, "stockId"))
	if !ok {
		return
	}

	var req AssignBatchesRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	var (
		stock  *domain.Stock
		result *service.ReconcileResult
		err    error
		status = http.StatusOK
	)
	if req.Stock != nil {
		stock, result, err = h.guard.AssignStock(r.Context(), &domain.Stock{
			ID:                stockID,
			WarehouseID:       req.Stock.WarehouseID,
			Item:              req.Stock.ItemRef,
			LowStockThreshold: req.Stock.LowStockThreshold,
		}, req.Batches)
		status = http.StatusCreated
	} else {
		stock, result, err = h.guard.ReconcileStockAssignment(r.Context(), stockID, req.Batches)
	}
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, status, httputil.Response{Data: map[string]any{
		"stock":  stock,
		"result": result,
	}})
}

// ListLowStock handles GET /api/v1/stocks/low
func (h *StockHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	levels, total, err := h.report.LowStock(r.Context(), params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(levels, total, params))
}
