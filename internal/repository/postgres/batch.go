package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/pkg/database"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// batchSelect reads batches joined to their stock line with the sum of
// their held locks.
const batchSelect = `
	SELECT b.id, b.stock_id, s.warehouse_id, b.batch_number, b.manufacture_date, b.expiry_date,
		   b.quantity, b.status, b.supplier_name, b.supplier_ref, b.created_at, b.updated_at,
		   COALESCE((
			   SELECT SUM(l.quantity) FROM stock_locks l
			   WHERE l.batch_id = b.id AND l.status = 'held'
		   ), 0) AS locked
	FROM stock_batches b
	JOIN stocks s ON s.id = b.stock_id`

const batchReturning = `
	RETURNING id, stock_id, batch_number, manufacture_date, expiry_date, quantity, status,
			  supplier_name, supplier_ref, created_at, updated_at`

// BatchRepository implements repository.BatchRepository.
type BatchRepository struct {
	pool database.DBTX
}

// NewBatchRepository creates a new PostgreSQL-backed batch repository.
func NewBatchRepository(pool database.DBTX) *BatchRepository {
	return &BatchRepository{pool: pool}
}

func scanBatch(row scanner) (domain.StockBatch, error) {
	var b domain.StockBatch
	err := row.Scan(
		&b.ID,
		&b.StockID,
		&b.WarehouseID,
		&b.BatchNumber,
		&b.ManufactureDate,
		&b.ExpiryDate,
		&b.Quantity,
		&b.Status,
		&b.SupplierName,
		&b.SupplierRef,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.Locked,
	)
	return b, err
}

func (r *BatchRepository) queryBatches(ctx context.Context, op, query string, args ...any) ([]domain.StockBatch, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	batches := []domain.StockBatch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch rows: %w", err)
	}
	return batches, nil
}

// ListAllocatable returns active batches of item in the given warehouses.
func (r *BatchRepository) ListAllocatable(ctx context.Context, item domain.ItemRef, warehouseIDs []string) ([]domain.StockBatch, error) {
	if len(warehouseIDs) == 0 {
		return []domain.StockBatch{}, nil
	}

	query := batchSelect + `
		WHERE b.status = 'active'
		  AND s.warehouse_id = ANY($1::uuid[])
		  AND s.product_id IS NOT DISTINCT FROM $2
		  AND s.variant_id IS NOT DISTINCT FROM $3`

	return r.queryBatches(ctx, "list allocatable batches", query,
		warehouseIDs, nullIfEmpty(item.ProductID), nullIfEmpty(item.VariantID))
}

// ListByStock returns every batch of a stock line.
func (r *BatchRepository) ListByStock(ctx context.Context, stockID string) ([]domain.StockBatch, error) {
	query := batchSelect + `
		WHERE b.stock_id = $1
		ORDER BY b.id`

	return r.queryBatches(ctx, "list batches by stock", query, stockID)
}

// GetForUpdate row-locks the batches in ascending id order, then reads them.
// The read is a separate statement so that, under READ COMMITTED, it sees
// every lock committed by the transactions it waited on.
func (r *BatchRepository) GetForUpdate(ctx context.Context, ids []string) ([]domain.StockBatch, error) {
	if len(ids) == 0 {
		return []domain.StockBatch{}, nil
	}

	lockQuery := `
		SELECT id FROM stock_batches
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE`

	rows, err := r.pool.Query(ctx, lockQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("lock batches: %w", err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock batches: %w", err)
	}

	query := batchSelect + `
		WHERE b.id = ANY($1::uuid[])
		ORDER BY b.id`

	return r.queryBatches(ctx, "get batches for update", query, ids)
}

// DecrementQuantity subtracts qty from a batch without letting it go negative.
func (r *BatchRepository) DecrementQuantity(ctx context.Context, id string, qty int) error {
	query := `
		UPDATE stock_batches
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2`

	ct, err := r.pool.Exec(ctx, query, id, qty)
	if err != nil {
		return fmt.Errorf("decrement batch quantity: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.InsufficientStock("batch "+id, qty, 0)
	}
	return nil
}

// SetStatus changes the status of a batch.
func (r *BatchRepository) SetStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	query := `
		UPDATE stock_batches
		SET status = $2, updated_at = NOW()
		WHERE id = $1`

	ct, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("set batch status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("batch", id)
	}
	return nil
}

// Delete hard-deletes a batch together with its settled locks. A held lock
// or a consumption row keeps the batch and fails with a conflict.
func (r *BatchRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM stock_locks WHERE batch_id = $1 AND status <> 'held'`, id); err != nil {
		return fmt.Errorf("delete settled locks: %w", err)
	}
	ct, err := r.pool.Exec(ctx, `DELETE FROM stock_batches WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.Conflict("BATCH_REFERENCED", fmt.Sprintf("batch %s is still referenced", id), nil)
		}
		return fmt.Errorf("delete batch: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("batch", id)
	}
	return nil
}

// Upsert creates or updates a batch by (stock, batch number) and activates it.
func (r *BatchRepository) Upsert(ctx context.Context, stockID string, nb domain.NewBatch) (*domain.StockBatch, error) {
	query := `
		INSERT INTO stock_batches (id, stock_id, batch_number, manufacture_date, expiry_date, quantity,
								   status, supplier_name, supplier_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, NOW(), NOW())
		ON CONFLICT (stock_id, batch_number) DO UPDATE SET
			manufacture_date = EXCLUDED.manufacture_date,
			expiry_date = EXCLUDED.expiry_date,
			quantity = EXCLUDED.quantity,
			status = 'active',
			supplier_name = EXCLUDED.supplier_name,
			supplier_ref = EXCLUDED.supplier_ref,
			updated_at = NOW()` + batchReturning

	var b domain.StockBatch
	err := r.pool.QueryRow(ctx, query,
		uuid.New().String(), stockID, nb.BatchNumber, nb.ManufactureDate, nb.ExpiryDate,
		nb.Quantity, nb.SupplierName, nb.SupplierRef,
	).Scan(
		&b.ID, &b.StockID, &b.BatchNumber, &b.ManufactureDate, &b.ExpiryDate, &b.Quantity,
		&b.Status, &b.SupplierName, &b.SupplierRef, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperrors.NotFound("stock", stockID)
		}
		return nil, fmt.Errorf("upsert batch: %w", err)
	}
	return &b, nil
}

// Referenced returns the ids pinned by consumption rows or held locks.
func (r *BatchRepository) Referenced(ctx context.Context, ids []string) (map[string]bool, error) {
	refs := make(map[string]bool)
	if len(ids) == 0 {
		return refs, nil
	}

	query := `
		SELECT b.id
		FROM unnest($1::uuid[]) AS b(id)
		WHERE EXISTS (SELECT 1 FROM order_item_batches o WHERE o.batch_id = b.id)
		   OR EXISTS (SELECT 1 FROM stock_locks l WHERE l.batch_id = b.id AND l.status = 'held')`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("find referenced batches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan referenced batch: %w", err)
		}
		refs[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referenced batches: %w", err)
	}
	return refs, nil
}

// ExpireBefore marks active batches that expired before day as expired.
func (r *BatchRepository) ExpireBefore(ctx context.Context, day time.Time) (int, error) {
	query := `
		UPDATE stock_batches
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expiry_date < $1`

	ct, err := r.pool.Exec(ctx, query, day)
	if err != nil {
		return 0, fmt.Errorf("expire batches: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
