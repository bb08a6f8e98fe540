package domain

import (
	"fmt"
	"sort"
	"time"
)

// LockStatus is the state of a stock lock. Held is the only non-terminal state.
type LockStatus string

const (
	LockStatusHeld      LockStatus = "held"
	LockStatusConfirmed LockStatus = "confirmed"
	LockStatusReleased  LockStatus = "released"
)

// StockLock is a session-scoped hold of units on one batch.
type StockLock struct {
	ID          string     `json:"id"`
	SessionKey  string     `json:"session_key"`
	BatchID     string     `json:"batch_id"`
	WarehouseID string     `json:"warehouse_id"`
	Quantity    int        `json:"quantity"`
	DisplayName string     `json:"display_name,omitempty"`
	OrderItemID string     `json:"order_item_id,omitempty"`
	Status      LockStatus `json:"status"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsHeld returns true while the lock still reserves units.
func (l *StockLock) IsHeld() bool {
	return l.Status == LockStatusHeld
}

// IsExpiredAt reports whether a held lock outlived its TTL at t.
func (l *StockLock) IsExpiredAt(t time.Time) bool {
	return l.IsHeld() && !t.Before(l.ExpiresAt)
}

// ConsumptionRef returns the order item the lock's consumption is booked
// against. Locks placed without an order item fall back to the session key.
func (l *StockLock) ConsumptionRef() string {
	if l.OrderItemID != "" {
		return l.OrderItemID
	}
	return l.SessionKey
}

// BatchLockRequest asks for Quantity units of a batch to be held.
type BatchLockRequest struct {
	BatchID     string `json:"batch_id" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	WarehouseID string `json:"warehouse_id" validate:"required"`
	DisplayName string `json:"display_name,omitempty" validate:"max=255"`
	OrderItemID string `json:"order_item_id,omitempty" validate:"max=64"`
}

// CoalesceLockRequests merges requests for the same batch and returns them
// sorted by batch id, the order in which batch rows are locked. A batch
// requested on behalf of two different order items cannot be merged into a
// single (session, batch) lock and is reported as an error.
func CoalesceLockRequests(reqs []BatchLockRequest) ([]BatchLockRequest, error) {
	idx := make(map[string]int, len(reqs))
	out := make([]BatchLockRequest, 0, len(reqs))
	for _, r := range reqs {
		i, ok := idx[r.BatchID]
		if !ok {
			idx[r.BatchID] = len(out)
			out = append(out, r)
			continue
		}
		if out[i].OrderItemID != r.OrderItemID {
			return nil, fmt.Errorf("batch %s requested for order items %q and %q", r.BatchID, out[i].OrderItemID, r.OrderItemID)
		}
		out[i].Quantity += r.Quantity
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}

// BatchIDs returns the batch ids of reqs in order.
func BatchIDs(reqs []BatchLockRequest) []string {
	ids := make([]string, len(reqs))
	for i := range reqs {
		ids[i] = reqs[i].BatchID
	}
	return ids
}

// ConsumptionSource records how an order item consumed a batch.
type ConsumptionSource string

const (
	ConsumptionSourceLock   ConsumptionSource = "lock"
	ConsumptionSourceCommit ConsumptionSource = "commit"
)

// OrderItemBatch is the permanent record that an order item consumed units of
// a batch. Rows are insert-only; their existence pins the batch against
// deletion.
type OrderItemBatch struct {
	ID          string            `json:"id"`
	OrderItemID string            `json:"order_item_id"`
	BatchID     string            `json:"batch_id"`
	WarehouseID string            `json:"warehouse_id"`
	Quantity    int               `json:"quantity"`
	Source      ConsumptionSource `json:"source"`
	CreatedAt   time.Time         `json:"created_at"`
}
