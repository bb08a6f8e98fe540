package domain

import "time"

// CartItem is one line of a cart to be allocated. LineID is the caller's
// identifier for the line and becomes the order item id once an order draft
// exists.
type CartItem struct {
	LineID string `json:"line_id" validate:"required,max=64"`
	ItemRef
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	DisplayName string `json:"display_name,omitempty" validate:"max=255"`
}

// BatchAllocation is a planned draw of Quantity units from one batch.
type BatchAllocation struct {
	BatchID     string     `json:"batch_id" validate:"required"`
	StockID     string     `json:"stock_id,omitempty"`
	WarehouseID string     `json:"warehouse_id" validate:"required"`
	BatchNumber string     `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Quantity    int        `json:"quantity" validate:"required,gt=0"`
}

// PlanLine is the allocation of a single cart item.
type PlanLine struct {
	Item        CartItem          `json:"item"`
	Allocations []BatchAllocation `json:"allocations"`
	CrossBorder bool              `json:"cross_border"`
}

// Allocated returns the number of units covered by the line's allocations.
func (l *PlanLine) Allocated() int {
	n := 0
	for _, a := range l.Allocations {
		n += a.Quantity
	}
	return n
}

// Plan is the FEFO allocation of a whole cart. Lines keep cart order.
type Plan struct {
	Destination Destination `json:"destination"`
	Lines       []PlanLine  `json:"lines"`
	PlannedAt   time.Time   `json:"planned_at"`
}

// Line returns the plan line for the given cart line id.
func (p *Plan) Line(lineID string) (*PlanLine, bool) {
	for i := range p.Lines {
		if p.Lines[i].Item.LineID == lineID {
			return &p.Lines[i], true
		}
	}
	return nil, false
}

// LockRequests flattens the plan into lock requests, one per allocation.
func (p *Plan) LockRequests() []BatchLockRequest {
	var reqs []BatchLockRequest
	for _, line := range p.Lines {
		for _, a := range line.Allocations {
			reqs = append(reqs, BatchLockRequest{
				BatchID:     a.BatchID,
				Quantity:    a.Quantity,
				WarehouseID: a.WarehouseID,
				DisplayName: line.Item.DisplayName,
				OrderItemID: line.Item.LineID,
			})
		}
	}
	return reqs
}
