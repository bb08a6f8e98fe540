// Package memory is an in-process implementation of the repositories. A
// single mutex serializes units of work, and a failed unit of work restores
// the snapshot taken when it began.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
)

type state struct {
	warehouses   map[string]domain.Warehouse
	stocks       map[string]domain.Stock
	batches      map[string]domain.StockBatch
	locks        map[string]domain.StockLock
	consumptions []domain.OrderItemBatch
}

func newState() *state {
	return &state{
		warehouses: make(map[string]domain.Warehouse),
		stocks:     make(map[string]domain.Stock),
		batches:    make(map[string]domain.StockBatch),
		locks:      make(map[string]domain.StockLock),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.warehouses {
		c.warehouses[k] = v
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.locks {
		c.locks[k] = v
	}
	c.consumptions = append([]domain.OrderItemBatch(nil), s.consumptions...)
	return c
}

// held returns the units held against a batch.
func (s *state) held(batchID string) int {
	n := 0
	for _, l := range s.locks {
		if l.BatchID == batchID && l.Status == domain.LockStatusHeld {
			n += l.Quantity
		}
	}
	return n
}

// view fills the derived fields of a stored batch.
func (s *state) view(b domain.StockBatch) domain.StockBatch {
	b.WarehouseID = s.stocks[b.StockID].WarehouseID
	b.Locked = s.held(b.ID)
	return b
}

func (s *state) level(st domain.Stock) domain.StockLevel {
	l := domain.StockLevel{Stock: st}
	for _, b := range s.batches {
		if b.StockID != st.ID {
			continue
		}
		if b.Status == domain.BatchStatusActive {
			l.Quantity += b.Quantity
		}
		l.Locked += s.held(b.ID)
	}
	return l
}

// Store holds the whole data set in memory.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{st: newState(), now: time.Now}
}

// do runs fn against the current state, taking the store mutex unless the
// caller already holds it inside Execute.
func (s *Store) do(ctx context.Context, auto bool, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if auto {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}

func (s *Store) bind(auto bool) repository.Repositories {
	return repository.Repositories{
		Warehouses:   &WarehouseRepository{s: s, auto: auto},
		Stocks:       &StockRepository{s: s, auto: auto},
		Batches:      &BatchRepository{s: s, auto: auto},
		Locks:        &LockRepository{s: s, auto: auto},
		Consumptions: &ConsumptionRepository{s: s, auto: auto},
	}
}

// Repositories returns repositories that each lock the store per call.
func (s *Store) Repositories() repository.Repositories {
	return s.bind(true)
}

// Execute implements repository.TransactionScope.
func (s *Store) Execute(ctx context.Context, fn func(repos repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(s.bind(false)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// SeedBatch stores b as is. It is meant for fixtures that need stable ids.
func (s *Store) SeedBatch(b domain.StockBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.WarehouseID, b.Locked = "", 0
	s.st.batches[b.ID] = b
}

// Batch returns a batch with its derived fields.
func (s *Store) Batch(id string) (domain.StockBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.batches[id]
	if !ok {
		return domain.StockBatch{}, false
	}
	return s.st.view(b), true
}

// Consumptions returns every consumption row recorded so far.
func (s *Store) Consumptions() []domain.OrderItemBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderItemBatch(nil), s.st.consumptions...)
}

func sortedBatches(m map[string]domain.StockBatch, keep func(domain.StockBatch) bool) []domain.StockBatch {
	out := []domain.StockBatch{}
	for _, b := range m {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
