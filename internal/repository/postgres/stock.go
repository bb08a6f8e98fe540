package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/pkg/database"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// stockLevelsCTE derives quantity and held units per stock line.
const stockLevelsCTE = `
	WITH levels AS (
		SELECT s.id, s.warehouse_id, COALESCE(s.product_id, '') AS product_id,
			   COALESCE(s.variant_id, '') AS variant_id, s.low_stock_threshold, s.updated_at,
			   COALESCE(SUM(b.quantity) FILTER (WHERE b.status = 'active'), 0) AS quantity,
			   COALESCE((
				   SELECT SUM(l.quantity)
				   FROM stock_locks l
				   JOIN stock_batches lb ON lb.id = l.batch_id
				   WHERE lb.stock_id = s.id AND l.status = 'held'
			   ), 0) AS locked
		FROM stocks s
		LEFT JOIN stock_batches b ON b.stock_id = s.id
		GROUP BY s.id
	)`

// StockRepository implements repository.StockRepository.
type StockRepository struct {
	pool database.DBTX
}

// NewStockRepository creates a new PostgreSQL-backed stock repository.
func NewStockRepository(pool database.DBTX) *StockRepository {
	return &StockRepository{pool: pool}
}

// GetByID retrieves a stock line by id.
func (r *StockRepository) GetByID(ctx context.Context, id string) (*domain.Stock, error) {
	return r.get(ctx, id, "")
}

// GetByIDForUpdate retrieves and row-locks a stock line.
func (r *StockRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Stock, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *StockRepository) get(ctx context.Context, id, suffix string) (*domain.Stock, error) {
	query := `
		SELECT id, warehouse_id, COALESCE(product_id, ''), COALESCE(variant_id, ''), low_stock_threshold, updated_at
		FROM stocks
		WHERE id = $1` + suffix

	var s domain.Stock
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.WarehouseID,
		&s.Item.ProductID,
		&s.Item.VariantID,
		&s.LowStockThreshold,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get stock by id: %w", err)
	}

	return &s, nil
}

// Create inserts a new stock line.
func (r *StockRepository) Create(ctx context.Context, stock *domain.Stock) error {
	query := `
		INSERT INTO stocks (id, warehouse_id, product_id, variant_id, low_stock_threshold, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		stock.ID,
		stock.WarehouseID,
		nullIfEmpty(stock.Item.ProductID),
		nullIfEmpty(stock.Item.VariantID),
		stock.LowStockThreshold,
		stock.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("stock", "item", stock.Item.String())
		}
		return fmt.Errorf("create stock: %w", err)
	}
	return nil
}

// ListLowStock returns stock lines at or below their low-stock threshold.
func (r *StockRepository) ListLowStock(ctx context.Context, page, perPage int) ([]domain.StockLevel, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	query := stockLevelsCTE + `
		SELECT id, warehouse_id, product_id, variant_id, low_stock_threshold, updated_at, quantity, locked,
			   count(*) OVER() AS total_count
		FROM levels
		WHERE GREATEST(quantity - locked, 0) <= low_stock_threshold
		ORDER BY GREATEST(quantity - locked, 0) ASC, updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var (
		levels     = []domain.StockLevel{}
		totalCount int
	)
	for rows.Next() {
		var l domain.StockLevel
		if err := rows.Scan(
			&l.ID, &l.WarehouseID, &l.Item.ProductID, &l.Item.VariantID,
			&l.LowStockThreshold, &l.UpdatedAt, &l.Quantity, &l.Locked, &totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan low stock row: %w", err)
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate low stock rows: %w", err)
	}

	return levels, totalCount, nil
}

// LevelsForBatches returns the levels of the stock lines owning batchIDs.
func (r *StockRepository) LevelsForBatches(ctx context.Context, batchIDs []string) ([]domain.StockLevel, error) {
	if len(batchIDs) == 0 {
		return []domain.StockLevel{}, nil
	}

	query := stockLevelsCTE + `
		SELECT id, warehouse_id, product_id, variant_id, low_stock_threshold, updated_at, quantity, locked
		FROM levels
		WHERE id IN (SELECT stock_id FROM stock_batches WHERE id = ANY($1::uuid[]))
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, batchIDs)
	if err != nil {
		return nil, fmt.Errorf("stock levels for batches: %w", err)
	}
	defer rows.Close()

	levels := []domain.StockLevel{}
	for rows.Next() {
		var l domain.StockLevel
		if err := rows.Scan(
			&l.ID, &l.WarehouseID, &l.Item.ProductID, &l.Item.VariantID,
			&l.LowStockThreshold, &l.UpdatedAt, &l.Quantity, &l.Locked,
		); err != nil {
			return nil, fmt.Errorf("scan stock level row: %w", err)
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock level rows: %w", err)
	}

	return levels, nil
}
