package domain

import (
	"fmt"
	"sort"
	"time"
)

// BatchStatus is the lifecycle state of a stock batch.
type BatchStatus string

// Batch statuses. Only active batches are allocatable.
const (
	BatchStatusActive   BatchStatus = "active"
	BatchStatusInactive BatchStatus = "inactive"
	BatchStatusExpired  BatchStatus = "expired"
	BatchStatusRecalled BatchStatus = "recalled"
)

// IsValid reports whether s is a known batch status.
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusActive, BatchStatusInactive, BatchStatusExpired, BatchStatusRecalled:
		return true
	}
	return false
}

// ItemRef identifies a sellable item: either a simple product or a variant.
// Exactly one of the two ids is set.
type ItemRef struct {
	ProductID string `json:"product_id,omitempty"`
	VariantID string `json:"variant_id,omitempty"`
}

// Validate checks that exactly one of ProductID and VariantID is set.
func (r ItemRef) Validate() error {
	if (r.ProductID == "") == (r.VariantID == "") {
		return fmt.Errorf("exactly one of product_id and variant_id must be set")
	}
	return nil
}

// String returns a stable key for r, used in logs and error messages.
func (r ItemRef) String() string {
	if r.VariantID != "" {
		return "variant:" + r.VariantID
	}
	return "product:" + r.ProductID
}

// Stock is the stock line of one item in one warehouse. Its quantity is the
// sum of its active batches.
type Stock struct {
	ID                string    `json:"id"`
	WarehouseID       string    `json:"warehouse_id"`
	Item              ItemRef   `json:"item"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StockLevel is a stock line with its derived quantities.
type StockLevel struct {
	Stock
	Quantity int `json:"quantity"`
	Locked   int `json:"locked"`
}

// Available returns the quantity that is neither consumed nor held.
func (s *StockLevel) Available() int {
	if s.Locked >= s.Quantity {
		return 0
	}
	return s.Quantity - s.Locked
}

// IsLow reports whether the available quantity is at or below the threshold.
func (s *StockLevel) IsLow() bool {
	return s.Available() <= s.LowStockThreshold
}

// StockBatch is a dated, supplier-attributed lot belonging to a stock line.
// WarehouseID is denormalized from the owning stock line and Locked is the
// sum of the batch's held locks; neither is stored on the batch row.
type StockBatch struct {
	ID              string      `json:"id"`
	StockID         string      `json:"stock_id"`
	WarehouseID     string      `json:"warehouse_id"`
	BatchNumber     string      `json:"batch_number"`
	ManufactureDate *time.Time  `json:"manufacture_date,omitempty"`
	ExpiryDate      *time.Time  `json:"expiry_date,omitempty"`
	Quantity        int         `json:"quantity"`
	Locked          int         `json:"locked"`
	Status          BatchStatus `json:"status"`
	SupplierName    string      `json:"supplier_name,omitempty"`
	SupplierRef     string      `json:"supplier_ref,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Available returns quantity minus held locks, never negative.
func (b *StockBatch) Available() int {
	if b.Locked >= b.Quantity {
		return 0
	}
	return b.Quantity - b.Locked
}

// IsAllocatable reports whether the batch may be planned or locked.
func (b *StockBatch) IsAllocatable() bool {
	return b.Status == BatchStatusActive
}

// ExpiredOn reports whether the batch expiry date lies before the calendar
// day of t. A batch is still sellable on its expiry day.
func (b *StockBatch) ExpiredOn(t time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return b.ExpiryDate.Before(StartOfDay(t))
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FEFOLess orders batches first-expired-first-out. Batches without an expiry
// date sort last; ties break on manufacture date, then batch number, then id.
func FEFOLess(a, b *StockBatch) bool {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return false
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return true
	case a.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}

	switch {
	case a.ManufactureDate != nil && b.ManufactureDate != nil && !a.ManufactureDate.Equal(*b.ManufactureDate):
		return a.ManufactureDate.Before(*b.ManufactureDate)
	case a.ManufactureDate != nil && b.ManufactureDate == nil:
		return true
	case a.ManufactureDate == nil && b.ManufactureDate != nil:
		return false
	}

	if a.BatchNumber != b.BatchNumber {
		return a.BatchNumber < b.BatchNumber
	}
	return a.ID < b.ID
}

// SortFEFO sorts batches in place into FEFO order.
func SortFEFO(batches []StockBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return FEFOLess(&batches[i], &batches[j])
	})
}

// NewBatch describes a batch submitted when a stock line is restructured.
type NewBatch struct {
	BatchNumber     string     `json:"batch_number" validate:"required,max=100"`
	ManufactureDate *time.Time `json:"manufacture_date,omitempty"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
	Quantity        int        `json:"quantity" validate:"gte=0"`
	SupplierName    string     `json:"supplier_name,omitempty" validate:"max=255"`
	SupplierRef     string     `json:"supplier_ref,omitempty" validate:"max=255"`
}
