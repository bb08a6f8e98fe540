package domain

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// Allocation failure sentinels. The constructors below wrap them in an
// AppError so they map to HTTP statuses and still match with errors.Is.
var (
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrNoWarehouseAvailable = errors.New("no warehouse available")
	ErrLockConflict         = errors.New("lock conflict")
	ErrNoLocksFound         = errors.New("no locks found")
)

// InsufficientStock reports that requested units do not exist.
func InsufficientStock(what string, requested, available int) *apperrors.AppError {
	return apperrors.Conflict("INSUFFICIENT_STOCK",
		fmt.Sprintf("insufficient stock for %s: requested %d, available %d", what, requested, available),
		ErrInsufficientStock)
}

// NoWarehouseAvailable reports an empty warehouse directory.
func NoWarehouseAvailable() *apperrors.AppError {
	return apperrors.ServiceUnavailable("NO_WAREHOUSE_AVAILABLE",
		"no warehouse is configured", ErrNoWarehouseAvailable)
}

// LockConflict reports units that exist but are held by other sessions.
func LockConflict(batchID string, requested, available int) *apperrors.AppError {
	return apperrors.Conflict("LOCK_CONFLICT",
		fmt.Sprintf("batch %s is held by other sessions: requested %d, available %d", batchID, requested, available),
		ErrLockConflict)
}

// NoLocksFound reports a session without held locks.
func NoLocksFound(sessionKey string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "NO_LOCKS_FOUND",
		Message: fmt.Sprintf("no held locks for session %s", sessionKey),
		Status:  http.StatusNotFound,
		Err:     ErrNoLocksFound,
	}
}
