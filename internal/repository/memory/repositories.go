package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockalloc/internal/domain"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// WarehouseRepository implements repository.WarehouseRepository.
type WarehouseRepository struct {
	s    *Store
	auto bool
}

func (r *WarehouseRepository) ListActive(ctx context.Context) ([]domain.Warehouse, error) {
	out := []domain.Warehouse{}
	err := r.s.do(ctx, r.auto, func(st *state) error {
		for _, w := range st.warehouses {
			if w.Active {
				out = append(out, w)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *WarehouseRepository) Upsert(ctx context.Context, w *domain.Warehouse) error {
	return r.s.do(ctx, r.auto, func(st *state) error {
		st.warehouses[w.ID] = *w
		return nil
	})
}

// StockRepository implements repository.StockRepository.
type StockRepository struct {
	s    *Store
	auto bool
}

func (r *StockRepository) GetByID(ctx context.Context, id string) (*domain.Stock, error) {
	var out *domain.Stock
	err := r.s.do(ctx, r.auto, func(st *state) error {
		s, ok := st.stocks[id]
		if !ok {
			return apperrors.ErrNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *StockRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Stock, error) {
	return r.GetByID(ctx, id)
}

func (r *StockRepository) Create(ctx context.Context, stock *domain.Stock) error {
	return r.s.do(ctx, r.auto, func(st *state) error {
		for _, s := range st.stocks {
			if s.WarehouseID == stock.WarehouseID && s.Item == stock.Item {
				return apperrors.AlreadyExists("stock", "item", stock.Item.String())
			}
		}
		st.stocks[stock.ID] = *stock
		return nil
	})
}

func (r *StockRepository) ListLowStock(ctx context.Context, page, perPage int) ([]domain.StockLevel, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	var low []domain.StockLevel
	err := r.s.do(ctx, r.auto, func(st *state) error {
		for _, s := range st.stocks {
			if l := st.level(s); l.IsLow() {
				low = append(low, l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(low, func(i, j int) bool {
		if low[i].Available() != low[j].Available() {
			return low[i].Available() < low[j].Available()
		}
		return low[i].ID < low[j].ID
	})

	total := len(low)
	start := (page - 1) * perPage
	if start >= total {
		return []domain.StockLevel{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return low[start:end], total, nil
}

func (r *StockRepository) LevelsForBatches(ctx context.Context, batchIDs []string) ([]domain.StockLevel, error) {
	out := []domain.StockLevel{}
	err := r.s.do(ctx, r.auto, func(st *state) error {
		seen := make(map[string]bool)
		for _, id := range batchIDs {
			b, ok := st.batches[id]
			if !ok || seen[b.StockID] {
				continue
			}
			seen[b.StockID] = true
			if s, ok := st.stocks[b.StockID]; ok {
				out = append(out, st.level(s))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// BatchRepository implements repository.BatchRepository.
type BatchRepository struct {
	s    *Store
	auto bool
}

func (r *BatchRepository) ListAllocatable(ctx context.Context, item domain.ItemRef, warehouseIDs []string) ([]domain.StockBatch, error) {
	out := []domain.StockBatch{}
	err := r.s.do(ctx, r.auto, func(st *state) error {
		allowed := make(map[string]bool, len(warehouseIDs))
		for _, id := range warehouseIDs {
			allowed[id] = true
		}
		for _, b := range sortedBatches(st.batches, func(b domain.StockBatch) bool { return b.Status == domain.BatchStatusActive }) {
			s, ok := st.stocks[b.StockID]
			if !ok || s.Item != item || !allowed[s.WarehouseID] {
				continue
			}
			out = append(out, st.view(b))
		}
		return nil
	})
	return out, err
}

func (r *BatchRepository) ListByStock(ctx context.Context, stockID string) ([]domain.StockBatch, error) {
	out := []domain.StockBatch{}
	err := r.s.do(ctx, r.auto, func(st *state) error {
		for _, b := range sortedBatches(st.batches, func(b domain.StockBatch) bool { return b.StockID == stockID }) {
			out = append(out, st.view(b))
		}
		return nil
	})
	return out, err
}

func (r *BatchRepository) GetForUpdate(ctx context.Context, ids []string) ([]domain.StockBatch, error) {
	out := []domain.StockBatch{}
	err := r.s.do(ctx, r.auto, func(st *state) error {
		want := make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		for _, b := range sortedBatches(st.batches, func(b domain.StockBatch) bool { return want[b.ID] }) {
			out = append(out, st.view(b))
		}
		return nil
	})
	return out, err
}

func (r *BatchRepository) DecrementQuantity(ctx context.Context, id string, qty int) error {
	return r.s.do(ctx, r.auto, func(st *state) error {
		b, ok := st.batches[id]
		if !ok || b.Quantity < qty {
			return domain.InsufficientStock("batch "+id, qty, 0)
		}
		b.Quantity -= qty
		b.UpdatedAt = r.s.now()
		st.batches[id] = b
		return nil
	})
}

func (r *BatchRepository) SetStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	return r.s.do(ctx, r.auto, func(st *state) error {
		b, ok := st.batches[id]
		if !ok {
			return apperrors.NotFound("batch", id)
		}
		b.Status = status
		b.UpdatedAt = r.s.now()
		st.batches[id] = b
		return nil
	})
}

func (r *BatchRepository) Delete(ctx context.Context, id string) error {
	return r.s.do(ctx, r.auto, func(st *state) error {
		if _, ok := st.batches[id]; !ok {
			return apperrors.NotFound("batch", id)
		}
		for _, c := range st.consumptions {
			if c.BatchID == id {
				return apperrors.Conflict("BATCH_REFERENCED", fmt.Sprintf("batch %s is referenced by order item %s", id, c.OrderItemID), nil)
			}
		}
		for _, l := range st.locks {
			if l.BatchID == id && l.Status == domain.LockStatusHeld {
				return apperrors.Conflict("BATCH_REFERENCED", fmt.Sprintf("batch %s is still referenced", id), nil)
			}
		}
		delete(st.batches, id)
		for lid, l := range st.locks {
			if l.BatchID == id {
				delete(st.locks, lid)
			}
		}
		return nil
	})
}

func (r *BatchRepository) Upsert(ctx context.Context, stockID string, nb domain.NewBatch) (*domain.StockBatch, error) {
	var out *domain.StockBatch
	err := r.s.do(ctx, r.auto, func(st *state) error {
		if _, ok := st.stocks[stockID]; !ok {
			return apperrors.NotFound("stock", stockID)
		}
		now := r.s.now()
		b := domain.StockBatch{ID: uuid.New().String(), StockID: stockID, CreatedAt: now}
		for _, existing := range st.batches {
			if existing.StockID == stockID && existing.BatchNumber == nb.BatchNumber {
				b = existing
				break
			}
		}
		b.BatchNumber = nb.BatchNumber
		b.ManufactureDate = nb.ManufactureDate
		b.ExpiryDate = nb.ExpiryDate
		b.Quantity = nb.Quantity
		b.Status = domain.BatchStatusActive
		b.SupplierName = nb.SupplierName
		b.SupplierRef = nb.SupplierRef
		b.UpdatedAt = now
		st.batches[b.ID] = b
		out = &b
		return nil
	})
	return out, err
}

func (r *BatchRepository) Referenced(ctx context.Context, ids []string) (map[string]bool, error) {
	refs := make(map[string]bool)
	err := r.s.do(ctx, r.auto, func(st *state) error {
		want := make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		for _, c := range st.consumptions {
			if want[c.BatchID] {
				refs[c.BatchID] = true
			}
		}
		for _, l := range st.locks {
			if want[l.BatchID] && l.Status == domain.LockStatusHeld {
				refs[l.BatchID] = true
			}
		}
		return nil
	})
	return refs, err
}

func (r *BatchRepository) ExpireBefore(ctx context.Context, day time.Time) (int, error) {
	n := 0
	err := r.s.do(ctx, r.auto, func(st *state) error {
		for id, b := range st.batches {
			if b.Status == domain.BatchStatusActive && b.ExpiryDate != nil && b.ExpiryDate.Before(day) {
				b.Status = domain.BatchStatusExpired
				b.UpdatedAt = r.s.now()
				st.batches[id] = b
				n++
			}
		}
		return nil
	})
	return n, err
}

// LockRepository implements repository.LockRepository.
type LockRepository struct {
	s    *Store
	auto bool
}

func sortLocks(locks []domain.StockLock) {
	sort.Slice(locks, func(i, j int) bool {
		if locks[i].BatchID != locks[j].BatchID {
			return locks[i].BatchID < locks[j].BatchID
		}
		return locks[i].CreatedAt.Before(locks[j].CreatedAt)
	})
}

func (r *LockRepository) Create(ctx context.Context, locks []domain.StockLock) error {
	return r.s.do(ctx, r.auto, func(st *state) error {
		for _, l := range locks {
			for _, existing := range st.locks {
				if existing.Status == domain.LockStatusHeld && existing.SessionKey == l.SessionKey && existing.BatchID == l.BatchID {
					return apperrors.AlreadyExists("lock", "session_key", l.SessionKey)
				}
			}
			st.locks[l.ID] = l
		}
		return nil
	})
}

func (r *LockRepository) list(ctx context.Context, keep func(domain.StockLock) bool) ([]domain.StockLock, error) {
	out := []domain.StockLock{}
	err := r.s.do(ctx, r.auto, func(st *state) error {
		for _, l := range st.locks {
			if keep(l) {
				out = append(out, l)
			}
		}
		return nil
	})
	sortLocks(out)
	return out, err
}

func (r *LockRepository) ListBySession(ctx context.Context, sessionKey string) ([]domain.StockLock, error) {
	return r.list(ctx, func(l domain.StockLock) bool { return l.SessionKey == sessionKey })
}

func (r *LockRepository) ListHeldForUpdate(ctx context.Context, sessionKey string) ([]domain.StockLock, error) {
	return r.list(ctx, func(l domain.StockLock) bool { return l.SessionKey == sessionKey && l.IsHeld() })
}

func (r *LockRepository) UpdateStatus(ctx context.Context, ids []string, status domain.LockStatus) error {
	return r.s.do(ctx, r.auto, func(st *state) error {
		for _, id := range ids {
			l, ok := st.locks[id]
			if !ok {
				return apperrors.NotFound("lock", id)
			}
			l.Status = status
			l.UpdatedAt = r.s.now()
			st.locks[id] = l
		}
		return nil
	})
}

func (r *LockRepository) Rekey(ctx context.Context, oldKey, newKey string) (int, error) {
	n := 0
	err := r.s.do(ctx, r.auto, func(st *state) error {
		for _, l := range st.locks {
			if !l.IsHeld() || l.SessionKey != oldKey {
				continue
			}
			for _, other := range st.locks {
				if other.IsHeld() && other.SessionKey == newKey && other.BatchID == l.BatchID {
					return apperrors.AlreadyExists("lock", "session_key", newKey)
				}
			}
		}
		for id, l := range st.locks {
			if l.SessionKey != oldKey {
				continue
			}
			l.SessionKey = newKey
			l.UpdatedAt = r.s.now()
			st.locks[id] = l
			n++
		}
		return nil
	})
	return n, err
}

func (r *LockRepository) ListExpiredForUpdate(ctx context.Context, now time.Time, limit int) ([]domain.StockLock, error) {
	out, err := r.list(ctx, func(l domain.StockLock) bool { return l.IsExpiredAt(now) })
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ConsumptionRepository implements repository.ConsumptionRepository.
type ConsumptionRepository struct {
	s    *Store
	auto bool
}

func (r *ConsumptionRepository) Record(ctx context.Context, rows []domain.OrderItemBatch) error {
	return r.s.do(ctx, r.auto, func(st *state) error {
		st.consumptions = append(st.consumptions, rows...)
		return nil
	})
}

func (r *ConsumptionRepository) ListByOrderItem(ctx context.Context, orderItemID string) ([]domain.OrderItemBatch, error) {
	out := []domain.OrderItemBatch{}
	err := r.s.do(ctx, r.auto, func(st *state) error {
		for _, c := range st.consumptions {
			if c.OrderItemID == orderItemID {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}
