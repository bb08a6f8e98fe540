package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockalloc/internal/domain"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var (
	uniqueViolation     = &pgconn.PgError{Code: pgUniqueViolation, Message: "duplicate key value"}
	foreignKeyViolation = &pgconn.PgError{Code: pgForeignKeyViolation, Message: "violates foreign key constraint"}
)

var (
	ts     = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expiry = time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
)

var batchColumns = []string{
	"id", "stock_id", "warehouse_id", "batch_number", "manufacture_date", "expiry_date",
	"quantity", "status", "supplier_name", "supplier_ref", "created_at", "updated_at", "locked",
}

var lockColumnNames = []string{
	"id", "session_key", "batch_id", "warehouse_id", "quantity", "display_name", "order_item_id",
	"status", "expires_at", "created_at", "updated_at",
}

func batchRow(rows *pgxmock.Rows, id string, exp *time.Time, qty, locked int) *pgxmock.Rows {
	return rows.AddRow(id, "st-1", "wh-1", "LOT-"+id, (*time.Time)(nil), exp,
		qty, domain.BatchStatusActive, "Acme", "", ts, ts, locked)
}

func sampleLock(id, batchID string) domain.StockLock {
	return domain.StockLock{
		ID:          id,
		SessionKey:  "sess-1",
		BatchID:     batchID,
		WarehouseID: "wh-1",
		Quantity:    2,
		DisplayName: "Milk",
		OrderItemID: "oi-1",
		Status:      domain.LockStatusHeld,
		ExpiresAt:   ts.Add(15 * time.Minute),
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

func lockRow(rows *pgxmock.Rows, l domain.StockLock) *pgxmock.Rows {
	return rows.AddRow(l.ID, l.SessionKey, l.BatchID, l.WarehouseID, l.Quantity, l.DisplayName,
		l.OrderItemID, l.Status, l.ExpiresAt, l.CreatedAt, l.UpdatedAt)
}
