package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/pkg/database"
)

// ConsumptionRepository implements repository.ConsumptionRepository.
type ConsumptionRepository struct {
	pool database.DBTX
}

// NewConsumptionRepository creates a new PostgreSQL-backed consumption repository.
func NewConsumptionRepository(pool database.DBTX) *ConsumptionRepository {
	return &ConsumptionRepository{pool: pool}
}

// Record inserts consumption rows in a single statement.
func (r *ConsumptionRepository) Record(ctx context.Context, rows []domain.OrderItemBatch) error {
	if len(rows) == 0 {
		return nil
	}

	const width = 7
	args := make([]any, 0, len(rows)*width)
	for _, c := range rows {
		args = append(args, c.ID, c.OrderItemID, c.BatchID, c.WarehouseID, c.Quantity, c.Source, c.CreatedAt)
	}

	query := `
		INSERT INTO order_item_batches (id, order_item_id, batch_id, warehouse_id, quantity, source, created_at)
		VALUES ` + valuesClause(len(rows), width)

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record consumption: %w", err)
	}
	return nil
}

// ListByOrderItem returns the consumption rows of an order item.
func (r *ConsumptionRepository) ListByOrderItem(ctx context.Context, orderItemID string) ([]domain.OrderItemBatch, error) {
	query := `
		SELECT id, order_item_id, batch_id, warehouse_id, quantity, source, created_at
		FROM order_item_batches
		WHERE order_item_id = $1
		ORDER BY created_at, batch_id`

	rows, err := r.pool.Query(ctx, query, orderItemID)
	if err != nil {
		return nil, fmt.Errorf("list consumption by order item: %w", err)
	}
	defer rows.Close()

	out := []domain.OrderItemBatch{}
	for rows.Next() {
		var c domain.OrderItemBatch
		if err := rows.Scan(&c.ID, &c.OrderItemID, &c.BatchID, &c.WarehouseID, &c.Quantity, &c.Source, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan consumption row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consumption rows: %w", err)
	}
	return out, nil
}
