package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/stockalloc/internal/repository"
	"github.com/utafrali/stockalloc/pkg/database"
)

// SQLSTATE codes mapped to domain errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// NewRepositories binds every repository to db, which may be a pool or a
// transaction.
func NewRepositories(db database.DBTX) repository.Repositories {
	return repository.Repositories{
		Warehouses:   NewWarehouseRepository(db),
		Stocks:       NewStockRepository(db),
		Batches:      NewBatchRepository(db),
		Locks:        NewLockRepository(db),
		Consumptions: NewConsumptionRepository(db),
	}
}

// TransactionScope runs units of work in READ COMMITTED transactions. Row
// locks taken with SELECT ... FOR UPDATE inside fn serialize competing
// writers on the same batches.
type TransactionScope struct {
	pool database.Pool
}

// NewTransactionScope creates a TransactionScope over pool.
func NewTransactionScope(pool database.Pool) *TransactionScope {
	return &TransactionScope{pool: pool}
}

// Execute implements repository.TransactionScope.
func (s *TransactionScope) Execute(ctx context.Context, fn func(repos repository.Repositories) error) error {
	return database.WithTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// valuesClause renders "($1,$2,...),($n+1,...)" for rows tuples of width
// columns.
func valuesClause(rows, width int) string {
	clauses := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		ph := make([]string, width)
		for j := 0; j < width; j++ {
			ph[j] = "$" + strconv.Itoa(i*width+j+1)
		}
		clauses = append(clauses, "("+strings.Join(ph, ",")+")")
	}
	return strings.Join(clauses, ", ")
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
