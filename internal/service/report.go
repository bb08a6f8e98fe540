package service

import (
	"context"
	"fmt"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// StockReport answers read-only questions about stock levels.
type StockReport struct {
	stocks repository.StockRepository
}

// NewStockReport creates a new stock report.
func NewStockReport(stocks repository.StockRepository) *StockReport {
	return &StockReport{stocks: stocks}
}

// LowStock returns one page of stock lines whose available quantity is at or
// below their threshold, plus the total count.
func (r *StockReport) LowStock(ctx context.Context, page, perPage int) ([]domain.StockLevel, int, error) {
	if page < 1 || perPage < 1 || perPage > 100 {
		return nil, 0, apperrors.InvalidInput("page must be positive and per_page between 1 and 100")
	}
	levels, total, err := r.stocks.ListLowStock(ctx, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	return levels, total, nil
}
