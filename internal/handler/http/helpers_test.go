package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
	"github.com/utafrali/stockalloc/internal/repository/memory"
	"github.com/utafrali/stockalloc/internal/service"
	"github.com/utafrali/stockalloc/pkg/health"
)

// stubDrafter hands out one order item per cart line, or fails with err.
type stubDrafter struct {
	err     error
	deleted []string
}

func (d *stubDrafter) CreateDraft(_ context.Context, sessionKey string, dest domain.Destination, items []domain.CartItem) (*domain.OrderDraft, error) {
	if d.err != nil {
		return nil, d.err
	}
	draft := &domain.OrderDraft{ID: "draft-1", SessionKey: sessionKey, Destination: dest}
	for _, it := range items {
		draft.Items = append(draft.Items, domain.OrderDraftItem{
			LineID: it.LineID, OrderItemID: "oi-" + it.LineID, ItemRef: it.ItemRef, Quantity: it.Quantity,
		})
	}
	return draft, nil
}

func (d *stubDrafter) DeleteDraft(_ context.Context, draftID string) error {
	d.deleted = append(d.deleted, draftID)
	return nil
}

type testEnv struct {
	store  *memory.Store
	repos  repository.Repositories
	orders *stubDrafter
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	repos := store.Repositories()
	orders := &stubDrafter{}

	planner := service.NewPlanner(service.NewWarehouseSelector(repos.Warehouses), repos.Batches, logger)
	locks := service.NewLockManager(store, repos, nil, logger, 15*time.Minute)
	recorder := service.NewConsumptionRecorder(store, repos.Stocks, nil, logger)

	svc := Services{
		Planner:  planner,
		Locks:    locks,
		Recorder: recorder,
		Guard:    service.NewBatchLifecycleGuard(store, logger),
		Report:   service.NewStockReport(repos.Stocks),
		Checkout: service.NewCheckoutCoordinator(planner, locks, recorder, store, orders, logger),
	}

	env := &testEnv{store: store, repos: repos, orders: orders, router: NewRouter(svc, health.NewHandler(), logger, nil)}
	env.seed(t)
	return env
}

// seed creates warehouse wh-de holding p-1 in two batches: b-1 (5 units,
// expiring first) and b-2 (10 units).
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.repos.Warehouses.Upsert(ctx, &domain.Warehouse{
		ID: "wh-de", Name: "Berlin", Country: "DE", Active: true,
		Location: &domain.GeoPoint{Latitude: 52.52, Longitude: 13.40},
	}))
	require.NoError(t, e.repos.Stocks.Create(ctx, &domain.Stock{
		ID: "st-1", WarehouseID: "wh-de", Item: domain.ItemRef{ProductID: "p-1"}, LowStockThreshold: 3,
	}))
	soon := time.Now().UTC().AddDate(0, 1, 0)
	later := time.Now().UTC().AddDate(0, 2, 0)
	e.store.SeedBatch(domain.StockBatch{ID: "b-1", StockID: "st-1", BatchNumber: "LOT-1", Quantity: 5, ExpiryDate: &soon, Status: domain.BatchStatusActive})
	e.store.SeedBatch(domain.StockBatch{ID: "b-2", StockID: "st-1", BatchNumber: "LOT-2", Quantity: 10, ExpiryDate: &later, Status: domain.BatchStatusActive})
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// envelope decodes {"data": ..., "error": ...} with data left raw.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	env := decodeEnvelope(t, rec)
	require.Nil(t, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error, rec.Body.String())
	return env.Error.Code
}

var berlin = map[string]any{"country": "DE", "location": map[string]float64{"latitude": 52.5, "longitude": 13.4}}

func cartLine(lineID, productID string, qty int) map[string]any {
	return map[string]any{"line_id": lineID, "product_id": productID, "quantity": qty}
}
