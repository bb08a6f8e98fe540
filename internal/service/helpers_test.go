package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
	"github.com/utafrali/stockalloc/internal/repository/memory"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func day(offset int) *time.Time {
	d := domain.StartOfDay(testNow).AddDate(0, 0, offset)
	return &d
}

// --- Recording EventPublisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	fail   error
}

func (p *recordingPublisher) record(event string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.fail
}

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *recordingPublisher) PublishLocked(context.Context, string, []domain.StockLock) error {
	return p.record(EventLocked)
}

func (p *recordingPublisher) PublishConfirmed(context.Context, string, []domain.OrderItemBatch) error {
	return p.record(EventConfirmed)
}

func (p *recordingPublisher) PublishReleased(context.Context, string, string, []domain.StockLock) error {
	return p.record(EventReleased)
}

func (p *recordingPublisher) PublishTransferred(context.Context, string, string, int) error {
	return p.record(EventTransferred)
}

func (p *recordingPublisher) PublishCommitted(context.Context, string, []domain.OrderItemBatch) error {
	return p.record(EventCommitted)
}

func (p *recordingPublisher) PublishLowStock(context.Context, domain.StockLevel) error {
	return p.record(EventLowStock)
}

// --- Mock OrderDrafter ---

type mockOrderDrafter struct {
	mock.Mock
}

func (m *mockOrderDrafter) CreateDraft(ctx context.Context, sessionKey string, dest domain.Destination, items []domain.CartItem) (*domain.OrderDraft, error) {
	args := m.Called(ctx, sessionKey, dest, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OrderDraft), args.Error(1)
}

func (m *mockOrderDrafter) DeleteDraft(ctx context.Context, draftID string) error {
	args := m.Called(ctx, draftID)
	return args.Error(0)
}

// --- Fixture over the in-process store ---

type fixture struct {
	store    *memory.Store
	repos    repository.Repositories
	events   *recordingPublisher
	planner  *Planner
	locks    *LockManager
	recorder *ConsumptionRecorder
	guard    *BatchLifecycleGuard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	events := &recordingPublisher{}
	logger := newTestLogger()

	f := &fixture{
		store:    store,
		repos:    repos,
		events:   events,
		planner:  NewPlanner(NewWarehouseSelector(repos.Warehouses), repos.Batches, logger),
		locks:    NewLockManager(store, repos, events, logger, 15*time.Minute),
		recorder: NewConsumptionRecorder(store, repos.Stocks, events, logger),
		guard:    NewBatchLifecycleGuard(store, logger),
	}
	clock := func() time.Time { return testNow }
	f.planner.now = clock
	f.locks.now = clock
	f.recorder.now = clock
	f.guard.now = clock
	return f
}

func (f *fixture) warehouse(t *testing.T, id, country string, loc *domain.GeoPoint) {
	t.Helper()
	require.NoError(t, f.repos.Warehouses.Upsert(context.Background(), &domain.Warehouse{
		ID: id, Name: id, Country: country, Location: loc, Active: true, UpdatedAt: testNow,
	}))
}

func (f *fixture) stock(t *testing.T, id, warehouseID, productID string, threshold int) {
	t.Helper()
	require.NoError(t, f.repos.Stocks.Create(context.Background(), &domain.Stock{
		ID: id, WarehouseID: warehouseID, Item: domain.ItemRef{ProductID: productID},
		LowStockThreshold: threshold, UpdatedAt: testNow,
	}))
}

func (f *fixture) batch(id, stockID string, qty int, expiry *time.Time) {
	f.store.SeedBatch(domain.StockBatch{
		ID: id, StockID: stockID, BatchNumber: "LOT-" + id, Quantity: qty,
		ExpiryDate: expiry, Status: domain.BatchStatusActive, CreatedAt: testNow, UpdatedAt: testNow,
	})
}

func (f *fixture) available(t *testing.T, batchID string) int {
	t.Helper()
	b, ok := f.store.Batch(batchID)
	require.True(t, ok, "batch %s missing", batchID)
	return b.Available()
}

func (f *fixture) quantity(t *testing.T, batchID string) int {
	t.Helper()
	b, ok := f.store.Batch(batchID)
	require.True(t, ok, "batch %s missing", batchID)
	return b.Quantity
}

func lockReq(batchID, warehouseID string, qty int) domain.BatchLockRequest {
	return domain.BatchLockRequest{BatchID: batchID, WarehouseID: warehouseID, Quantity: qty}
}

func cartItem(lineID, productID string, qty int) domain.CartItem {
	return domain.CartItem{LineID: lineID, ItemRef: domain.ItemRef{ProductID: productID}, Quantity: qty}
}

var errBroker = errors.New("broker unavailable")
