package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/pkg/database"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

const lockColumns = `id, session_key, batch_id, warehouse_id, quantity, display_name, order_item_id,
	status, expires_at, created_at, updated_at`

// LockRepository implements repository.LockRepository.
type LockRepository struct {
	pool database.DBTX
}

// NewLockRepository creates a new PostgreSQL-backed lock repository.
func NewLockRepository(pool database.DBTX) *LockRepository {
	return &LockRepository{pool: pool}
}

// Create inserts held locks in a single statement.
func (r *LockRepository) Create(ctx context.Context, locks []domain.StockLock) error {
	if len(locks) == 0 {
		return nil
	}

	const width = 11
	args := make([]any, 0, len(locks)*width)
	for _, l := range locks {
		args = append(args, l.ID, l.SessionKey, l.BatchID, l.WarehouseID, l.Quantity, l.DisplayName,
			l.OrderItemID, l.Status, l.ExpiresAt, l.CreatedAt, l.UpdatedAt)
	}

	query := `INSERT INTO stock_locks (` + lockColumns + `) VALUES ` + valuesClause(len(locks), width)

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("lock", "session_key", locks[0].SessionKey)
		}
		return fmt.Errorf("create locks: %w", err)
	}
	return nil
}

func (r *LockRepository) queryLocks(ctx context.Context, op, query string, args ...any) ([]domain.StockLock, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	locks := []domain.StockLock{}
	for rows.Next() {
		var l domain.StockLock
		if err := rows.Scan(
			&l.ID,
			&l.SessionKey,
			&l.BatchID,
			&l.WarehouseID,
			&l.Quantity,
			&l.DisplayName,
			&l.OrderItemID,
			&l.Status,
			&l.ExpiresAt,
			&l.CreatedAt,
			&l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lock row: %w", err)
		}
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lock rows: %w", err)
	}
	return locks, nil
}

// ListBySession returns every lock of a session.
func (r *LockRepository) ListBySession(ctx context.Context, sessionKey string) ([]domain.StockLock, error) {
	query := `SELECT ` + lockColumns + `
		FROM stock_locks
		WHERE session_key = $1
		ORDER BY batch_id, created_at`

	return r.queryLocks(ctx, "list locks by session", query, sessionKey)
}

// ListHeldForUpdate row-locks the held locks of a session.
func (r *LockRepository) ListHeldForUpdate(ctx context.Context, sessionKey string) ([]domain.StockLock, error) {
	query := `SELECT ` + lockColumns + `
		FROM stock_locks
		WHERE session_key = $1 AND status = 'held'
		ORDER BY batch_id
		FOR UPDATE`

	return r.queryLocks(ctx, "list held locks for update", query, sessionKey)
}

// UpdateStatus moves locks to status.
func (r *LockRepository) UpdateStatus(ctx context.Context, ids []string, status domain.LockStatus) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE stock_locks
		SET status = $1, updated_at = NOW()
		WHERE id = ANY($2::uuid[])`

	ct, err := r.pool.Exec(ctx, query, status, ids)
	if err != nil {
		return fmt.Errorf("update lock status: %w", err)
	}
	if int(ct.RowsAffected()) != len(ids) {
		return fmt.Errorf("update lock status: %d of %d locks updated", ct.RowsAffected(), len(ids))
	}
	return nil
}

// Rekey moves every lock of oldKey to newKey.
func (r *LockRepository) Rekey(ctx context.Context, oldKey, newKey string) (int, error) {
	query := `
		UPDATE stock_locks
		SET session_key = $2, updated_at = NOW()
		WHERE session_key = $1`

	ct, err := r.pool.Exec(ctx, query, oldKey, newKey)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperrors.AlreadyExists("lock", "session_key", newKey)
		}
		return 0, fmt.Errorf("rekey locks: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// ListExpiredForUpdate row-locks held locks past their expiry.
func (r *LockRepository) ListExpiredForUpdate(ctx context.Context, now time.Time, limit int) ([]domain.StockLock, error) {
	query := `SELECT ` + lockColumns + `
		FROM stock_locks
		WHERE status = 'held' AND expires_at <= $1
		ORDER BY batch_id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	return r.queryLocks(ctx, "list expired locks", query, now, limit)
}
