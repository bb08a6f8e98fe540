package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

func batchesByNumber(batches []domain.StockBatch) map[string]domain.StockBatch {
	out := make(map[string]domain.StockBatch, len(batches))
	for _, b := range batches {
		out[b.BatchNumber] = b
	}
	return out
}

func TestReconcile_PreservesReferencedBatches(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.batch("consumed", "st-1", 10, day(5))
	f.batch("held", "st-1", 10, day(6))
	f.batch("recalled", "st-1", 10, day(7))
	f.batch("unused", "st-1", 10, day(8))
	ctx := context.Background()

	_, err := f.recorder.Commit(ctx, "oi-1", []domain.BatchAllocation{alloc("consumed", 2), alloc("recalled", 1)})
	require.NoError(t, err)
	require.NoError(t, f.repos.Batches.SetStatus(ctx, "recalled", domain.BatchStatusRecalled))
	_, err = f.locks.Lock(ctx, "sess-1", []domain.BatchLockRequest{lockReq("held", "wh-1", 1)})
	require.NoError(t, err)

	_, res, err := f.guard.ReconcileStockAssignment(ctx, "st-1", []domain.NewBatch{
		{BatchNumber: "LOT-NEW", Quantity: 20, ExpiryDate: day(90)},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"unused"}, res.Deleted)
	assert.ElementsMatch(t, []string{"consumed", "held"}, res.Deactivated)
	assert.ElementsMatch(t, []string{"consumed", "held", "recalled"}, res.Preserved)

	byNumber := batchesByNumber(res.Batches)
	require.Len(t, byNumber, 4)
	assert.Equal(t, domain.BatchStatusInactive, byNumber["LOT-consumed"].Status)
	assert.Equal(t, domain.BatchStatusInactive, byNumber["LOT-held"].Status)
	assert.Equal(t, domain.BatchStatusRecalled, byNumber["LOT-recalled"].Status)
	assert.Equal(t, domain.BatchStatusActive, byNumber["LOT-NEW"].Status)
	assert.Equal(t, 20, byNumber["LOT-NEW"].Quantity)

	_, ok := f.store.Batch("unused")
	assert.False(t, ok)
	assert.Len(t, f.store.Consumptions(), 2, "consumption history is untouched")

	// Held units stay confirmable after the batch was deactivated.
	_, err = f.locks.Confirm(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 9, f.quantity(t, "held"))
}

func TestReconcile_ResubmittedBatchIsReactivated(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.batch("b-1", "st-1", 10, day(5))
	ctx := context.Background()

	_, err := f.recorder.Commit(ctx, "oi-1", []domain.BatchAllocation{alloc("b-1", 4)})
	require.NoError(t, err)

	_, res, err := f.guard.ReconcileStockAssignment(ctx, "st-1", []domain.NewBatch{
		{BatchNumber: "LOT-b-1", Quantity: 12, ExpiryDate: day(5)},
	})
	require.NoError(t, err)

	require.Len(t, res.Batches, 1)
	b := res.Batches[0]
	assert.Equal(t, "b-1", b.ID, "same batch number keeps the batch identity")
	assert.Equal(t, domain.BatchStatusActive, b.Status)
	assert.Equal(t, 12, b.Quantity)
	assert.Equal(t, []string{"b-1"}, res.Deactivated)
}

func TestReconcile_Rejections(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	ctx := context.Background()

	_, _, err := f.guard.ReconcileStockAssignment(ctx, "st-missing", nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, _, err = f.guard.ReconcileStockAssignment(ctx, "st-1", []domain.NewBatch{
		{BatchNumber: "A", Quantity: 1}, {BatchNumber: "A", Quantity: 2},
	})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, _, err = f.guard.ReconcileStockAssignment(ctx, "st-1", []domain.NewBatch{
		{BatchNumber: "A", Quantity: 1, ManufactureDate: day(3), ExpiryDate: day(1)},
	})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestAssignStock_CreatesLineWithBatches(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	ctx := context.Background()

	stock, res, err := f.guard.AssignStock(ctx, &domain.Stock{
		WarehouseID: "wh-1", Item: domain.ItemRef{VariantID: "var-1"}, LowStockThreshold: 3,
	}, []domain.NewBatch{{BatchNumber: "LOT-1", Quantity: 7}})
	require.NoError(t, err)
	require.NotEmpty(t, stock.ID)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, 7, res.Batches[0].Quantity)
	assert.Equal(t, "wh-1", res.Batches[0].WarehouseID)

	_, _, err = f.guard.AssignStock(ctx, &domain.Stock{
		WarehouseID: "wh-1", Item: domain.ItemRef{VariantID: "var-1"},
	}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))

	_, _, err = f.guard.AssignStock(ctx, &domain.Stock{WarehouseID: "wh-1"}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

// orderedBatches records the batch repository calls reconcile makes.
type orderedBatches struct {
	repository.BatchRepository
	calls []string
}

func (b *orderedBatches) GetForUpdate(ctx context.Context, ids []string) ([]domain.StockBatch, error) {
	b.calls = append(b.calls, "GetForUpdate")
	return b.BatchRepository.GetForUpdate(ctx, ids)
}

func (b *orderedBatches) Referenced(ctx context.Context, ids []string) (map[string]bool, error) {
	b.calls = append(b.calls, "Referenced")
	return b.BatchRepository.Referenced(ctx, ids)
}

func (b *orderedBatches) Delete(ctx context.Context, id string) error {
	b.calls = append(b.calls, "Delete")
	return b.BatchRepository.Delete(ctx, id)
}

func TestReconcile_RowLocksBeforeCheckingReferences(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.batch("unused", "st-1", 10, day(8))

	repos := f.repos
	spy := &orderedBatches{BatchRepository: repos.Batches}
	repos.Batches = spy

	res, err := reconcile(context.Background(), repos, "st-1", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"unused"}, res.Deleted)
	assert.Equal(t, []string{"GetForUpdate", "Referenced", "Delete"}, spy.calls)
}

func TestReconcile_DeletesBatchWithOnlyReleasedLocks(t *testing.T) {
	f := newFixture(t)
	f.warehouse(t, "wh-1", "DE", nil)
	f.stock(t, "st-1", "wh-1", "prod-1", 0)
	f.batch("b-1", "st-1", 10, day(8))
	ctx := context.Background()

	_, err := f.locks.Lock(ctx, "sess-1", []domain.BatchLockRequest{lockReq("b-1", "wh-1", 2)})
	require.NoError(t, err)
	_, err = f.locks.Release(ctx, "sess-1")
	require.NoError(t, err)

	_, res, err := f.guard.ReconcileStockAssignment(ctx, "st-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-1"}, res.Deleted)

	// A lock taken after the reassignment finds the batch gone.
	_, err = f.locks.Lock(ctx, "sess-2", []domain.BatchLockRequest{lockReq("b-1", "wh-1", 1)})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
