package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// ReconcileResult describes what a restructuring did to a stock line.
type ReconcileResult struct {
	StockID     string              `json:"stock_id"`
	Batches     []domain.StockBatch `json:"batches"`
	Deleted     []string            `json:"deleted"`
	Deactivated []string            `json:"deactivated"`
	Preserved   []string            `json:"preserved"`
}

// BatchLifecycleGuard replaces the batch set of a stock line while keeping
// every batch that an order or a held lock still points at.
type BatchLifecycleGuard struct {
	scope  repository.TransactionScope
	logger *slog.Logger
	now    func() time.Time
}

// NewBatchLifecycleGuard creates a new lifecycle guard.
func NewBatchLifecycleGuard(scope repository.TransactionScope, logger *slog.Logger) *BatchLifecycleGuard {
	return &BatchLifecycleGuard{scope: scope, logger: logger, now: time.Now}
}

// ReconcileStockAssignment swaps the batches of stockID for batches.
// Unreferenced existing batches are deleted. Referenced ones survive: active
// ones become inactive, others keep their status. The submitted batches are
// then upserted by batch number, which re-activates a preserved batch that is
// submitted again.
func (g *BatchLifecycleGuard) ReconcileStockAssignment(ctx context.Context, stockID string, batches []domain.NewBatch) (*domain.Stock, *ReconcileResult, error) {
	if stockID == "" {
		return nil, nil, apperrors.InvalidInput("stock_id is required")
	}
	if err := validateNewBatches(batches); err != nil {
		return nil, nil, err
	}

	var (
		stock  *domain.Stock
		result *ReconcileResult
	)
	err := g.scope.Execute(ctx, func(repos repository.Repositories) error {
		var err error
		stock, err = repos.Stocks.GetByIDForUpdate(ctx, stockID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NotFound("stock", stockID)
			}
			return fmt.Errorf("get stock: %w", err)
		}
		result, err = reconcile(ctx, repos, stockID, batches)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	g.logResult(ctx, result)
	return stock, result, nil
}

// AssignStock creates a stock line and gives it its first batches in one
// unit of work.
func (g *BatchLifecycleGuard) AssignStock(ctx context.Context, stock *domain.Stock, batches []domain.NewBatch) (*domain.Stock, *ReconcileResult, error) {
	if stock.WarehouseID == "" {
		return nil, nil, apperrors.InvalidInput("warehouse_id is required")
	}
	if err := stock.Item.Validate(); err != nil {
		return nil, nil, apperrors.InvalidInput(err.Error())
	}
	if stock.LowStockThreshold < 0 {
		return nil, nil, apperrors.InvalidInput("low_stock_threshold must be non-negative")
	}
	if err := validateNewBatches(batches); err != nil {
		return nil, nil, err
	}

	if stock.ID == "" {
		stock.ID = uuid.New().String()
	}
	stock.UpdatedAt = g.now().UTC()

	var result *ReconcileResult
	err := g.scope.Execute(ctx, func(repos repository.Repositories) error {
		if err := repos.Stocks.Create(ctx, stock); err != nil {
			return fmt.Errorf("create stock: %w", err)
		}
		var err error
		result, err = reconcile(ctx, repos, stock.ID, batches)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	g.logger.InfoContext(ctx, "stock line created",
		slog.String("stock_id", stock.ID),
		slog.String("warehouse_id", stock.WarehouseID),
		slog.String("item", stock.Item.String()),
	)
	g.logResult(ctx, result)
	return stock, result, nil
}

func reconcile(ctx context.Context, repos repository.Repositories, stockID string, batches []domain.NewBatch) (*ReconcileResult, error) {
	existing, err := repos.Batches.ListByStock(ctx, stockID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	ids := make([]string, len(existing))
	for i := range existing {
		ids[i] = existing[i].ID
	}
	// Row locks keep a concurrent Lock from pinning a batch between the
	// reference check and the delete.
	if _, err := repos.Batches.GetForUpdate(ctx, ids); err != nil {
		return nil, fmt.Errorf("lock batches: %w", err)
	}
	refs, err := repos.Batches.Referenced(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check batch references: %w", err)
	}

	result := &ReconcileResult{
		StockID:     stockID,
		Deleted:     []string{},
		Deactivated: []string{},
		Preserved:   []string{},
	}
	for _, b := range existing {
		switch {
		case !refs[b.ID]:
			if err := repos.Batches.Delete(ctx, b.ID); err != nil {
				return nil, fmt.Errorf("delete batch %s: %w", b.ID, err)
			}
			result.Deleted = append(result.Deleted, b.ID)
		case b.Status == domain.BatchStatusActive:
			if err := repos.Batches.SetStatus(ctx, b.ID, domain.BatchStatusInactive); err != nil {
				return nil, fmt.Errorf("deactivate batch %s: %w", b.ID, err)
			}
			result.Deactivated = append(result.Deactivated, b.ID)
			result.Preserved = append(result.Preserved, b.ID)
		default:
			result.Preserved = append(result.Preserved, b.ID)
		}
	}

	for _, nb := range batches {
		if _, err := repos.Batches.Upsert(ctx, stockID, nb); err != nil {
			return nil, fmt.Errorf("upsert batch %s: %w", nb.BatchNumber, err)
		}
	}

	result.Batches, err = repos.Batches.ListByStock(ctx, stockID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return result, nil
}

func validateNewBatches(batches []domain.NewBatch) error {
	seen := make(map[string]bool, len(batches))
	for _, nb := range batches {
		if nb.BatchNumber == "" {
			return apperrors.InvalidInput("batch_number is required")
		}
		if seen[nb.BatchNumber] {
			return apperrors.InvalidInput(fmt.Sprintf("duplicate batch_number %q", nb.BatchNumber))
		}
		seen[nb.BatchNumber] = true
		if nb.Quantity < 0 {
			return apperrors.InvalidInput(fmt.Sprintf("batch %s: quantity must be non-negative", nb.BatchNumber))
		}
		if nb.ManufactureDate != nil && nb.ExpiryDate != nil && nb.ExpiryDate.Before(*nb.ManufactureDate) {
			return apperrors.InvalidInput(fmt.Sprintf("batch %s: expiry date precedes manufacture date", nb.BatchNumber))
		}
	}
	return nil
}

func (g *BatchLifecycleGuard) logResult(ctx context.Context, r *ReconcileResult) {
	g.logger.InfoContext(ctx, "stock batches reconciled",
		slog.String("stock_id", r.StockID),
		slog.Int("batches", len(r.Batches)),
		slog.Int("deleted", len(r.Deleted)),
		slog.Int("deactivated", len(r.Deactivated)),
		slog.Int("preserved", len(r.Preserved)),
	)
}
