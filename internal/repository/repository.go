package repository

import (
	"context"
	"time"

	"github.com/utafrali/stockalloc/internal/domain"
)

// WarehouseRepository reads and syncs the warehouse directory.
type WarehouseRepository interface {
	// ListActive returns every active warehouse ordered by id.
	ListActive(ctx context.Context) ([]domain.Warehouse, error)

	// Upsert inserts or replaces a warehouse received from the directory.
	Upsert(ctx context.Context, w *domain.Warehouse) error
}

// StockRepository defines persistence operations for stock lines.
type StockRepository interface {
	// GetByID retrieves a stock line. Returns apperrors.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*domain.Stock, error)

	// GetByIDForUpdate is GetByID that also row-locks the stock line until
	// the enclosing transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Stock, error)

	// Create inserts a new stock line.
	Create(ctx context.Context, stock *domain.Stock) error

	// ListLowStock returns stock lines whose available quantity is at or below
	// their threshold, plus the total count.
	ListLowStock(ctx context.Context, page, perPage int) ([]domain.StockLevel, int, error)

	// LevelsForBatches returns the stock levels of the lines owning batchIDs.
	LevelsForBatches(ctx context.Context, batchIDs []string) ([]domain.StockLevel, error)
}

// BatchRepository defines persistence operations for stock batches. Batch
// reads populate WarehouseID from the owning stock line and Locked from held
// locks.
type BatchRepository interface {
	// ListAllocatable returns the active batches of item stocked in any of
	// warehouseIDs. Order is unspecified.
	ListAllocatable(ctx context.Context, item domain.ItemRef, warehouseIDs []string) ([]domain.StockBatch, error)

	// ListByStock returns every batch of a stock line regardless of status.
	ListByStock(ctx context.Context, stockID string) ([]domain.StockBatch, error)

	// GetForUpdate row-locks the given batches in ascending id order and
	// returns the ones that exist.
	GetForUpdate(ctx context.Context, ids []string) ([]domain.StockBatch, error)

	// DecrementQuantity subtracts qty from a batch. Fails with
	// domain.ErrInsufficientStock if the quantity would go negative.
	DecrementQuantity(ctx context.Context, id string, qty int) error

	// SetStatus changes the status of a batch.
	SetStatus(ctx context.Context, id string, status domain.BatchStatus) error

	// Delete hard-deletes a batch and its settled locks. A held lock or a
	// consumption row keeps the batch and fails with apperrors.ErrConflict.
	Delete(ctx context.Context, id string) error

	// Upsert creates or updates the batch with nb.BatchNumber under stockID
	// and marks it active.
	Upsert(ctx context.Context, stockID string, nb domain.NewBatch) (*domain.StockBatch, error)

	// Referenced returns the subset of ids that are pinned by a consumption
	// record or a held lock.
	Referenced(ctx context.Context, ids []string) (map[string]bool, error)

	// ExpireBefore flips active batches whose expiry date is before day to
	// expired and returns how many changed.
	ExpireBefore(ctx context.Context, day time.Time) (int, error)
}

// LockRepository defines persistence operations for stock locks.
type LockRepository interface {
	// Create inserts held locks.
	Create(ctx context.Context, locks []domain.StockLock) error

	// ListBySession returns every lock of a session regardless of status.
	ListBySession(ctx context.Context, sessionKey string) ([]domain.StockLock, error)

	// ListHeldForUpdate row-locks and returns the held locks of a session
	// ordered by batch id.
	ListHeldForUpdate(ctx context.Context, sessionKey string) ([]domain.StockLock, error)

	// UpdateStatus moves the given locks to status.
	UpdateStatus(ctx context.Context, ids []string, status domain.LockStatus) error

	// Rekey moves every lock of oldKey to newKey and returns how many moved.
	Rekey(ctx context.Context, oldKey, newKey string) (int, error)

	// ListExpiredForUpdate row-locks up to limit held locks whose expiry is at
	// or before now, skipping rows locked by other transactions.
	ListExpiredForUpdate(ctx context.Context, now time.Time, limit int) ([]domain.StockLock, error)
}

// ConsumptionRepository persists OrderItemBatch records.
type ConsumptionRepository interface {
	// Record inserts consumption rows.
	Record(ctx context.Context, rows []domain.OrderItemBatch) error

	// ListByOrderItem returns the consumption rows of an order item.
	ListByOrderItem(ctx context.Context, orderItemID string) ([]domain.OrderItemBatch, error)
}

// Repositories bundles the repositories bound to one connection or
// transaction.
type Repositories struct {
	Warehouses   WarehouseRepository
	Stocks       StockRepository
	Batches      BatchRepository
	Locks        LockRepository
	Consumptions ConsumptionRepository
}

// TransactionScope runs a unit of work. The repositories handed to fn share a
// single transaction that commits when fn returns nil and rolls back
// otherwise.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos Repositories) error) error
}
