package postgres

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockalloc/internal/domain"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

func lockArgs(locks ...domain.StockLock) []any {
	var args []any
	for _, l := range locks {
		args = append(args, l.ID, l.SessionKey, l.BatchID, l.WarehouseID, l.Quantity, l.DisplayName,
			l.OrderItemID, l.Status, l.ExpiresAt, l.CreatedAt, l.UpdatedAt)
	}
	return args
}

func TestLockRepository_Create_MultiRowInsert(t *testing.T) {
	mock := newMock(t)
	repo := NewLockRepository(mock)
	a, b := sampleLock("l-1", "b-1"), sampleLock("l-2", "b-2")

	mock.ExpectExec(`INSERT INTO stock_locks \(.+\) VALUES \(\$1,.+,\$11\), \(\$12,.+,\$22\)`).
		WithArgs(lockArgs(a, b)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, repo.Create(context.Background(), []domain.StockLock{a, b}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRepository_Create_Empty(t *testing.T) {
	mock := newMock(t)
	repo := NewLockRepository(mock)

	require.NoError(t, repo.Create(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRepository_Create_DuplicateHeldLock(t *testing.T) {
	mock := newMock(t)
	repo := NewLockRepository(mock)
	l := sampleLock("l-1", "b-1")

	mock.ExpectExec(`INSERT INTO stock_locks`).
		WithArgs(lockArgs(l)...).
		WillReturnError(uniqueViolation)

	err := repo.Create(context.Background(), []domain.StockLock{l})

	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRepository_ListBySession(t *testing.T) {
	mock := newMock(t)
	repo := NewLockRepository(mock)
	held := sampleLock("l-1", "b-1")
	released := sampleLock("l-2", "b-2")
	released.Status = domain.LockStatusReleased

	mock.ExpectQuery(`FROM stock_locks\s+WHERE session_key = \$1\s+ORDER BY batch_id, created_at`).
		WithArgs("sess-1").
		WillReturnRows(lockRow(lockRow(pgxmock.NewRows(lockColumnNames), held), released))

	locks, err := repo.ListBySession(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.Equal(t, []domain.StockLock{held, released}, locks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRepository_ListHeldForUpdate(t *testing.T) {
	mock := newMock(t)
	repo := NewLockRepository(mock)

	mock.ExpectQuery(`WHERE session_key = \$1 AND status = 'held'\s+ORDER BY batch_id\s+FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows(lockColumnNames))

	locks, err := repo.ListHeldForUpdate(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.NotNil(t, locks)
	assert.Empty(t, locks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRepository_UpdateStatus(t *testing.T) {
	t.Run("all rows updated", func(t *testing.T) {
		mock := newMock(t)
		repo := NewLockRepository(mock)

		mock.ExpectExec(`UPDATE stock_locks\s+SET status = \$1`).
			WithArgs(domain.LockStatusConfirmed, []string{"l-1", "l-2"}).
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))

		require.NoError(t, repo.UpdateStatus(context.Background(), []string{"l-1", "l-2"}, domain.LockStatusConfirmed))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row count mismatch", func(t *testing.T) {
		mock := newMock(t)
		repo := NewLockRepository(mock)

		mock.ExpectExec(`UPDATE stock_locks`).
			WithArgs(domain.LockStatusReleased, []string{"l-1", "l-2"}).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.UpdateStatus(context.Background(), []string{"l-1", "l-2"}, domain.LockStatusReleased)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 locks updated")
	})
}

func TestLockRepository_Rekey(t *testing.T) {
	t.Run("moves locks", func(t *testing.T) {
		mock := newMock(t)
		repo := NewLockRepository(mock)

		mock.ExpectExec(`UPDATE stock_locks\s+SET session_key = \$2`).
			WithArgs("sess-1", "sess-2").
			WillReturnResult(pgxmock.NewResult("UPDATE", 3))

		n, err := repo.Rekey(context.Background(), "sess-1", "sess-2")

		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("target key already holds the batch", func(t *testing.T) {
		mock := newMock(t)
		repo := NewLockRepository(mock)

		mock.ExpectExec(`UPDATE stock_locks`).
			WithArgs("sess-1", "sess-2").
			WillReturnError(uniqueViolation)

		_, err := repo.Rekey(context.Background(), "sess-1", "sess-2")

		assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMock(t)
		repo := NewLockRepository(mock)

		mock.ExpectExec(`UPDATE stock_locks`).
			WithArgs("sess-1", "sess-2").
			WillReturnError(errors.New("connection reset"))

		_, err := repo.Rekey(context.Background(), "sess-1", "sess-2")

		require.Error(t, err)
		assert.NotErrorIs(t, err, apperrors.ErrAlreadyExists)
		assert.Contains(t, err.Error(), "rekey locks")
	})
}

func TestLockRepository_ListExpiredForUpdate(t *testing.T) {
	mock := newMock(t)
	repo := NewLockRepository(mock)
	l := sampleLock("l-1", "b-1")

	mock.ExpectQuery(`WHERE status = 'held' AND expires_at <= \$1\s+ORDER BY batch_id\s+LIMIT \$2\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(ts, 100).
		WillReturnRows(lockRow(pgxmock.NewRows(lockColumnNames), l))

	locks, err := repo.ListExpiredForUpdate(context.Background(), ts, 100)

	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "l-1", locks[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
