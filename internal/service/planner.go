package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// Planner computes FEFO allocation plans. Planning is read-only; the plan is
// re-validated under row locks when it is locked or committed.
type Planner struct {
	selector *WarehouseSelector
	batches  repository.BatchRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewPlanner creates a new FEFO planner.
func NewPlanner(selector *WarehouseSelector, batches repository.BatchRepository, logger *slog.Logger) *Planner {
	return &Planner{
		selector: selector,
		batches:  batches,
		logger:   logger,
		now:      time.Now,
	}
}

// Plan allocates every cart item to batches. Items are served from the
// nearest eligible warehouse first; within a warehouse, batches are drawn in
// FEFO order. A shortfall on any item fails the whole plan with
// InsufficientStock.
func (p *Planner) Plan(ctx context.Context, items []domain.CartItem, dest domain.Destination) (plan *domain.Plan, err error) {
	start := time.Now()
	defer func() { observe("plan", start, err) }()

	if err := validateCart(items); err != nil {
		return nil, err
	}
	if dest.Country == "" {
		return nil, apperrors.InvalidInput("destination country is required")
	}

	ranking, err := p.selector.Rank(ctx, dest)
	if err != nil {
		return nil, err
	}

	now := p.now()
	plan = &domain.Plan{
		Destination: dest,
		Lines:       make([]domain.PlanLine, 0, len(items)),
		PlannedAt:   now.UTC(),
	}

	// claimed tracks units taken by earlier lines of this plan.
	claimed := make(map[string]int)

	for _, item := range items {
		batches, err := p.batches.ListAllocatable(ctx, item.ItemRef, ranking.IDs())
		if err != nil {
			return nil, fmt.Errorf("list batches for %s: %w", item.ItemRef, err)
		}

		allocs, remaining := allocateFEFO(item.Quantity, ranking, batches, claimed, now)
		if remaining > 0 {
			p.logger.InfoContext(ctx, "plan rejected, insufficient stock",
				slog.String("item", item.ItemRef.String()),
				slog.Int("requested", item.Quantity),
				slog.Int("available", item.Quantity-remaining),
			)
			return nil, domain.InsufficientStock(item.ItemRef.String(), item.Quantity, item.Quantity-remaining)
		}

		plan.Lines = append(plan.Lines, domain.PlanLine{
			Item:        item,
			Allocations: allocs,
			CrossBorder: ranking.CrossBorder,
		})
	}

	p.logger.DebugContext(ctx, "plan computed",
		slog.Int("lines", len(plan.Lines)),
		slog.Bool("cross_border", ranking.CrossBorder),
	)

	return plan, nil
}

// allocateFEFO draws qty units warehouse by warehouse in rank order and, inside
// a warehouse, batch by batch in FEFO order. It updates claimed and returns
// the allocations plus the uncovered remainder.
func allocateFEFO(qty int, ranking *domain.WarehouseRanking, batches []domain.StockBatch, claimed map[string]int, now time.Time) ([]domain.BatchAllocation, int) {
	byWarehouse := make(map[string][]domain.StockBatch)
	for _, b := range batches {
		byWarehouse[b.WarehouseID] = append(byWarehouse[b.WarehouseID], b)
	}

	remaining := qty
	var allocs []domain.BatchAllocation
	for _, rw := range ranking.Warehouses {
		if remaining == 0 {
			break
		}
		candidates := byWarehouse[rw.Warehouse.ID]
		domain.SortFEFO(candidates)

		for i := range candidates {
			if remaining == 0 {
				break
			}
			b := &candidates[i]
			if !b.IsAllocatable() || b.ExpiredOn(now) {
				continue
			}
			free := b.Available() - claimed[b.ID]
			if free <= 0 {
				continue
			}
			take := min(remaining, free)
			allocs = append(allocs, domain.BatchAllocation{
				BatchID:     b.ID,
				StockID:     b.StockID,
				WarehouseID: b.WarehouseID,
				BatchNumber: b.BatchNumber,
				ExpiryDate:  b.ExpiryDate,
				Quantity:    take,
			})
			claimed[b.ID] += take
			remaining -= take
		}
	}
	return allocs, remaining
}

// validateCart checks cart lines before planning.
func validateCart(items []domain.CartItem) error {
	if len(items) == 0 {
		return apperrors.InvalidInput("items list cannot be empty")
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.LineID == "" {
			return apperrors.InvalidInput("line_id is required")
		}
		if seen[item.LineID] {
			return apperrors.InvalidInput(fmt.Sprintf("duplicate line_id %q", item.LineID))
		}
		seen[item.LineID] = true
		if err := item.ItemRef.Validate(); err != nil {
			return apperrors.InvalidInput(fmt.Sprintf("line %s: %s", item.LineID, err.Error()))
		}
		if item.Quantity <= 0 {
			return apperrors.InvalidInput(fmt.Sprintf("line %s: quantity must be positive", item.LineID))
		}
	}
	return nil
}
