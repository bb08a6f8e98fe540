package domain

// OrderDraftItem is one line of an order draft. OrderItemID is assigned by
// the order service.
type OrderDraftItem struct {
	LineID      string `json:"line_id"`
	OrderItemID string `json:"order_item_id"`
	ItemRef
	Quantity    int    `json:"quantity"`
	DisplayName string `json:"display_name,omitempty"`
}

// OrderDraft is a provisional order created before stock is held or
// consumed. It is deleted again when the stock step fails.
type OrderDraft struct {
	ID          string           `json:"id"`
	SessionKey  string           `json:"session_key"`
	Destination Destination      `json:"destination"`
	Items       []OrderDraftItem `json:"items"`
}

// OrderItemIDs maps cart line ids to the order item ids of the draft.
func (d *OrderDraft) OrderItemIDs() map[string]string {
	ids := make(map[string]string, len(d.Items))
	for _, it := range d.Items {
		ids[it.LineID] = it.OrderItemID
	}
	return ids
}
