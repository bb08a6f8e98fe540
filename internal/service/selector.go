package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/utafrali/stockalloc/internal/domain"
)

// WarehouseDirectory lists the warehouses that can ship.
type WarehouseDirectory interface {
	ListActive(ctx context.Context) ([]domain.Warehouse, error)
}

// WarehouseSelector orders warehouses for a destination: domestic ones by
// distance, or, when the destination country has none, every warehouse by
// distance with the ranking flagged cross-border.
type WarehouseSelector struct {
	directory WarehouseDirectory
}

// NewWarehouseSelector creates a selector over directory.
func NewWarehouseSelector(directory WarehouseDirectory) *WarehouseSelector {
	return &WarehouseSelector{directory: directory}
}

// Rank returns the probe order for dest. It has no side effects. The ranking
// does not depend on the item: a domestic warehouse that does not stock an
// item still rules out the cross-border fallback, and the planner then
// reports insufficient stock for that item.
func (s *WarehouseSelector) Rank(ctx context.Context, dest domain.Destination) (*domain.WarehouseRanking, error) {
	warehouses, err := s.directory.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	if len(warehouses) == 0 {
		return nil, domain.NoWarehouseAvailable()
	}

	var domestic []domain.Warehouse
	for i := range warehouses {
		if dest.IsDomestic(&warehouses[i]) {
			domestic = append(domestic, warehouses[i])
		}
	}

	ranking := &domain.WarehouseRanking{}
	candidates := domestic
	if len(domestic) == 0 {
		candidates = warehouses
		ranking.CrossBorder = true
	}

	ranking.Warehouses = make([]domain.RankedWarehouse, len(candidates))
	for i := range candidates {
		ranked := domain.RankedWarehouse{Warehouse: candidates[i]}
		if km, ok := dest.DistanceTo(&candidates[i]); ok {
			ranked.DistanceKm = &km
		}
		ranking.Warehouses[i] = ranked
	}
	sort.SliceStable(ranking.Warehouses, func(i, j int) bool {
		return domain.RankedBefore(ranking.Warehouses[i], ranking.Warehouses[j])
	})

	return ranking, nil
}
