package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockalloc/internal/domain"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

func allocated(line domain.PlanLine) map[string]int {
	out := make(map[string]int, len(line.Allocations))
	for _, a := range line.Allocations {
		out[a.BatchID] = a.Quantity
	}
	return out
}

func batchOrder(line domain.PlanLine) []string {
	ids := make([]string, len(line.Allocations))
	for i, a := range line.Allocations {
		ids[i] = a.BatchID
	}
	return ids
}

func TestPlan_FEFOWithinWarehouse(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.batch("b-late", "st-1", 4, day(30))
	f.batch("b-none", "st-1", 4, nil)
	f.batch("b-early", "st-1", 4, day(5))

	plan, err := f.planner.Plan(context.Background(), []domain.CartItem{cartItem("l1", "prod-1", 10)}, domain.Destination{Country: "DE"})
	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)

	line := plan.Lines[0]
	assert.Equal(t, []string{"b-early", "b-late", "b-none"}, batchOrder(line))
	assert.Equal(t, map[string]int{"b-early": 4, "b-late": 4, "b-none": 2}, allocated(line))
	assert.Equal(t, 10, line.Allocated())
	assert.False(t, line.CrossBorder)
}

func TestPlan_NearestWarehouseFirst(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-muc", "DE", munich)
	f.warehouse(t, "wh-ham", "DE", hamburg)
	f.stock(t, "st-muc", "wh-muc", "prod-1", 0)
	f.stock(t, "st-ham", "wh-ham", "prod-1", 0)
	// The Munich batch expires first but Hamburg is closer to Berlin.
	f.batch("b-muc", "st-muc", 10, day(2))
	f.batch("b-ham", "st-ham", 6, day(60))

	plan, err := f.planner.Plan(context.Background(),
		[]domain.CartItem{cartItem("l1", "prod-1", 8)},
		domain.Destination{Country: "DE", Location: berlin})
	require.NoError(t, err)

	assert.Equal(t, []string{"b-ham", "b-muc"}, batchOrder(plan.Lines[0]))
	assert.Equal(t, map[string]int{"b-ham": 6, "b-muc": 2}, allocated(plan.Lines[0]))
}

func TestPlan_CrossBorderFallback(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-par", "FR", paris)
	f.stock(t, "st-par", "wh-par", "prod-1", 0)
	f.batch("b-1", "st-par", 5, nil)

	plan, err := f.planner.Plan(context.Background(), []domain.CartItem{cartItem("l1", "prod-1", 3)}, domain.Destination{Country: "DE"})
	require.NoError(t, err)
	assert.True(t, plan.Lines[0].CrossBorder)
	assert.Equal(t, map[string]int{"b-1": 3}, allocated(plan.Lines[0]))
}

func TestPlan_DomesticWarehouseWithoutItemBlocksFallback(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-ber", "DE", nil)
	f.warehouse(t, "wh-par", "FR", paris)
	f.stock(t, "st-par", "wh-par", "prod-1", 0)
	f.batch("b-1", "st-par", 5, nil)

	_, err := f.planner.Plan(context.Background(), []domain.CartItem{cartItem("l1", "prod-1", 3)}, domain.Destination{Country: "DE"})
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
}

func TestPlan_SkipsExpiredBatches(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.batch("b-yesterday", "st-1", 10, day(-1))
	f.batch("b-today", "st-1", 2, day(0))
	f.batch("b-later", "st-1", 10, day(10))

	plan, err := f.planner.Plan(context.Background(), []domain.CartItem{cartItem("l1", "prod-1", 5)}, domain.Destination{Country: "DE"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b-today": 2, "b-later": 3}, allocated(plan.Lines[0]))
}

func TestPlan_SubtractsHeldUnits(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.batch("b-1", "st-1", 5, day(3))
	f.batch("b-2", "st-1", 5, day(9))

	_, err := f.locks.Lock(context.Background(), "other", []domain.BatchLockRequest{lockReq("b-1", "wh-1", 4)})
	require.NoError(t, err)

	plan, err := f.planner.Plan(context.Background(), []domain.CartItem{cartItem("l1", "prod-1", 3)}, domain.Destination{Country: "DE"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b-1": 1, "b-2": 2}, allocated(plan.Lines[0]))
}

func TestPlan_LinesShareBatches(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.batch("b-1", "st-1", 4, day(3))
	f.batch("b-2", "st-1", 4, day(9))

	plan, err := f.planner.Plan(context.Background(), []domain.CartItem{
		cartItem("l1", "prod-1", 3),
		cartItem("l2", "prod-1", 3),
	}, domain.Destination{Country: "DE"})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"b-1": 3}, allocated(plan.Lines[0]))
	assert.Equal(t, map[string]int{"b-1": 1, "b-2": 2}, allocated(plan.Lines[1]))
}

func TestPlan_InsufficientStockRejectsWholePlan(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.stock(t, "st-2", "wh-1", "prod-2", 0)
	f.batch("b-1", "st-1", 10, nil)
	f.batch("b-2", "st-2", 2, nil)

	plan, err := f.planner.Plan(context.Background(), []domain.CartItem{
		cartItem("l1", "prod-1", 5),
		cartItem("l2", "prod-2", 3),
	}, domain.Destination{Country: "DE"})
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
	assert.Contains(t, err.Error(), "product:prod-2")
}

func TestPlan_IgnoresInactiveBatches(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.batch("b-1", "st-1", 10, nil)
	require.NoError(t, f.repos.Batches.SetStatus(context.Background(), "b-1", domain.BatchStatusRecalled))

	_, err := f.planner.Plan(context.Background(), []domain.CartItem{cartItem("l1", "prod-1", 1)}, domain.Destination{Country: "DE"})
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
}

func TestPlan_NoWarehouse(t *testing.T) {
	f := newFixture(t)

	_, err := f.planner.Plan(context.Background(), []domain.CartItem{cartItem("l1", "prod-1", 1)}, domain.Destination{Country: "DE"})
	assert.True(t, errors.Is(err, domain.ErrNoWarehouseAvailable))
}

func TestPlan_InvalidInput(t *testing.T) {
	f := newFixture(t)
	dest := domain.Destination{Country: "DE"}

	tests := []struct {
		name  string
		items []domain.CartItem
		dest  domain.Destination
	}{
		{"empty cart", nil, dest},
		{"missing line id", []domain.CartItem{cartItem("", "p", 1)}, dest},
		{"duplicate line id", []domain.CartItem{cartItem("l1", "p", 1), cartItem("l1", "q", 1)}, dest},
		{"zero quantity", []domain.CartItem{cartItem("l1", "p", 0)}, dest},
		{"no item ref", []domain.CartItem{{LineID: "l1", Quantity: 1}}, dest},
		{"both item refs", []domain.CartItem{{LineID: "l1", ItemRef: domain.ItemRef{ProductID: "p", VariantID: "v"}, Quantity: 1}}, dest},
		{"missing country", []domain.CartItem{cartItem("l1", "p", 1)}, domain.Destination{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.planner.Plan(context.Background(), tt.items, tt.dest)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		})
	}
}
