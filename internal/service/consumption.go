package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// CommitResult is returned by a successful Commit.
type CommitResult struct {
	OrderItemID   string                  `json:"order_item_id"`
	Consumed      []domain.OrderItemBatch `json:"consumed"`
	Notifications []domain.Notification   `json:"notifications,omitempty"`
}

// ConsumptionRecorder consumes planned allocations directly, without a lock
// phase. Every allocation is re-checked against unheld units under row locks.
type ConsumptionRecorder struct {
	scope  repository.TransactionScope
	stocks repository.StockRepository
	notify notifier
	logger *slog.Logger
	now    func() time.Time
}

// NewConsumptionRecorder creates a new consumption recorder.
func NewConsumptionRecorder(scope repository.TransactionScope, stocks repository.StockRepository, events EventPublisher, logger *slog.Logger) *ConsumptionRecorder {
	return &ConsumptionRecorder{
		scope:  scope,
		stocks: stocks,
		notify: notifier{events: events, logger: logger},
		logger: logger,
		now:    time.Now,
	}
}

// Commit consumes allocs for orderItemID in its own unit of work.
func (c *ConsumptionRecorder) Commit(ctx context.Context, orderItemID string, allocs []domain.BatchAllocation) (result *CommitResult, err error) {
	start := time.Now()
	defer func() { observe("commit", start, err) }()

	var consumed []domain.OrderItemBatch
	err = c.scope.Execute(ctx, func(repos repository.Repositories) error {
		var err error
		consumed, err = c.CommitWithin(ctx, repos, orderItemID, allocs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.Published(ctx, orderItemID, consumed), nil
}

// CommitWithin consumes allocs using repos, which must be bound to the
// caller's transaction. Nothing is published; call Published once the
// transaction has committed.
func (c *ConsumptionRecorder) CommitWithin(ctx context.Context, repos repository.Repositories, orderItemID string, allocs []domain.BatchAllocation) ([]domain.OrderItemBatch, error) {
	if orderItemID == "" {
		return nil, apperrors.InvalidInput("order_item_id is required")
	}
	if len(allocs) == 0 {
		return nil, apperrors.InvalidInput("allocations cannot be empty")
	}

	merged, err := mergeAllocations(allocs)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(merged))
	for i := range merged {
		ids[i] = merged[i].BatchID
	}
	batches, err := repos.Batches.GetForUpdate(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock batches: %w", err)
	}
	byID := indexBatches(batches)

	now := c.now().UTC()
	rows := make([]domain.OrderItemBatch, 0, len(merged))
	for _, a := range merged {
		b, ok := byID[a.BatchID]
		if !ok {
			return nil, apperrors.NotFound("batch", a.BatchID)
		}
		if err := checkGrantable(b, a.Quantity, a.WarehouseID, now); err != nil {
			return nil, err
		}
		if err := repos.Batches.DecrementQuantity(ctx, a.BatchID, a.Quantity); err != nil {
			return nil, fmt.Errorf("decrement batch %s: %w", a.BatchID, err)
		}
		rows = append(rows, domain.OrderItemBatch{
			ID:          uuid.New().String(),
			OrderItemID: orderItemID,
			BatchID:     b.ID,
			WarehouseID: b.WarehouseID,
			Quantity:    a.Quantity,
			Source:      domain.ConsumptionSourceCommit,
			CreatedAt:   now,
		})
	}

	if err := repos.Consumptions.Record(ctx, rows); err != nil {
		return nil, fmt.Errorf("record consumption: %w", err)
	}
	return rows, nil
}

// Published logs a committed consumption and emits its events.
func (c *ConsumptionRecorder) Published(ctx context.Context, orderItemID string, consumed []domain.OrderItemBatch) *CommitResult {
	units := 0
	batchIDs := make([]string, 0, len(consumed))
	for _, r := range consumed {
		units += r.Quantity
		batchIDs = append(batchIDs, r.BatchID)
	}
	unitsTotal.WithLabelValues("commit").Add(float64(units))

	c.logger.InfoContext(ctx, "stock committed",
		slog.String("order_item_id", orderItemID),
		slog.Int("batches", len(consumed)),
		slog.Int("units", units),
	)

	result := &CommitResult{OrderItemID: orderItemID, Consumed: consumed}
	result.Notifications = append(result.Notifications, c.notify.send(ctx, EventCommitted, func(p EventPublisher) error {
		return p.PublishCommitted(ctx, orderItemID, consumed)
	}))
	result.Notifications = append(result.Notifications, c.notify.lowStock(ctx, c.stocks, batchIDs)...)
	return result
}

// mergeAllocations sums allocations per batch and orders them by batch id.
func mergeAllocations(allocs []domain.BatchAllocation) ([]domain.BatchAllocation, error) {
	idx := make(map[string]int, len(allocs))
	out := make([]domain.BatchAllocation, 0, len(allocs))
	for _, a := range allocs {
		if a.BatchID == "" {
			return nil, apperrors.InvalidInput("batch_id is required")
		}
		if a.Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("batch %s: quantity must be positive", a.BatchID))
		}
		if i, ok := idx[a.BatchID]; ok {
			out[i].Quantity += a.Quantity
			continue
		}
		idx[a.BatchID] = len(out)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}
