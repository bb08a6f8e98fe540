package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/stockalloc/internal/domain"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockalloc_operations_total",
			Help: "Allocation operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockalloc_operation_duration_seconds",
			Help:    "Duration of allocation operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	unitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockalloc_units_total",
			Help: "Units moved by allocation operations",
		},
		[]string{"operation"},
	)
)

// outcomeOf classifies err for the outcome label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrLockConflict):
		return "lock_conflict"
	case errors.Is(err, domain.ErrNoLocksFound):
		return "no_locks_found"
	case errors.Is(err, domain.ErrNoWarehouseAvailable):
		return "no_warehouse"
	default:
		return "error"
	}
}

// observe records the outcome and duration of an operation started at start.
func observe(operation string, start time.Time, err error) {
	operationsTotal.WithLabelValues(operation, outcomeOf(err)).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
