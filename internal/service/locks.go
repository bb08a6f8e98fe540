package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// DefaultLockTTL is used when the manager is created with a non-positive TTL.
const DefaultLockTTL = 15 * time.Minute

// LockResult is returned by a successful Lock.
type LockResult struct {
	SessionKey   string              `json:"session_key"`
	Locks        []domain.StockLock  `json:"locks"`
	ExpiresAt    time.Time           `json:"expires_at"`
	Notification domain.Notification `json:"notification"`
}

// ConfirmResult is returned by Confirm. AlreadyConfirmed is set when the
// session had no held locks left and nothing was decremented.
type ConfirmResult struct {
	SessionKey       string                  `json:"session_key"`
	Consumed         []domain.OrderItemBatch `json:"consumed"`
	AlreadyConfirmed bool                    `json:"already_confirmed"`
	Notifications    []domain.Notification   `json:"notifications,omitempty"`
}

// ReleaseResult is returned by Release.
type ReleaseResult struct {
	SessionKey   string              `json:"session_key"`
	Released     []domain.StockLock  `json:"released"`
	Notification domain.Notification `json:"notification"`
}

// TransferResult is returned by Transfer.
type TransferResult struct {
	OldKey       string              `json:"old_key"`
	NewKey       string              `json:"new_key"`
	Moved        int                 `json:"moved"`
	Notification domain.Notification `json:"notification"`
}

// LockManager places and resolves session-scoped stock locks. Every mutating
// call is a single unit of work; batch rows are locked in ascending id order
// so concurrent sessions cannot deadlock.
type LockManager struct {
	scope  repository.TransactionScope
	repos  repository.Repositories
	notify notifier
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewLockManager creates a new lock manager. repos serves reads that do not
// need a transaction.
func NewLockManager(
	scope repository.TransactionScope,
	repos repository.Repositories,
	events EventPublisher,
	logger *slog.Logger,
	ttl time.Duration,
) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockManager{
		scope:  scope,
		repos:  repos,
		notify: notifier{events: events, logger: logger},
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Lock holds the requested units for sessionKey. Either every request is
// granted or none is.
func (m *LockManager) Lock(ctx context.Context, sessionKey string, reqs []domain.BatchLockRequest) (result *LockResult, err error) {
	start := time.Now()
	defer func() { observe("lock", start, err) }()

	if sessionKey == "" {
		return nil, apperrors.InvalidInput("session_key is required")
	}
	if len(reqs) == 0 {
		return nil, apperrors.InvalidInput("lock requests cannot be empty")
	}
	for _, r := range reqs {
		if r.BatchID == "" {
			return nil, apperrors.InvalidInput("batch_id is required")
		}
		if r.Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("batch %s: quantity must be positive", r.BatchID))
		}
	}
	merged, err := domain.CoalesceLockRequests(reqs)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	var locks []domain.StockLock

	err = m.scope.Execute(ctx, func(repos repository.Repositories) error {
		held, err := repos.Locks.ListHeldForUpdate(ctx, sessionKey)
		if err != nil {
			return fmt.Errorf("list held locks: %w", err)
		}
		heldBatches := make(map[string]bool, len(held))
		for _, l := range held {
			heldBatches[l.BatchID] = true
		}
		for _, r := range merged {
			if heldBatches[r.BatchID] {
				return apperrors.AlreadyExists("lock", "batch_id", r.BatchID)
			}
		}

		batches, err := repos.Batches.GetForUpdate(ctx, domain.BatchIDs(merged))
		if err != nil {
			return fmt.Errorf("lock batches: %w", err)
		}
		byID := indexBatches(batches)

		locks = make([]domain.StockLock, 0, len(merged))
		for _, r := range merged {
			b, ok := byID[r.BatchID]
			if !ok {
				return apperrors.NotFound("batch", r.BatchID)
			}
			if err := checkGrantable(b, r.Quantity, r.WarehouseID, now); err != nil {
				return err
			}
			locks = append(locks, domain.StockLock{
				ID:          uuid.New().String(),
				SessionKey:  sessionKey,
				BatchID:     b.ID,
				WarehouseID: b.WarehouseID,
				Quantity:    r.Quantity,
				DisplayName: r.DisplayName,
				OrderItemID: r.OrderItemID,
				Status:      domain.LockStatusHeld,
				ExpiresAt:   expiresAt,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}

		if err := repos.Locks.Create(ctx, locks); err != nil {
			return fmt.Errorf("create locks: %w", err)
		}
		return nil
	})
	if err != nil {
		m.logger.InfoContext(ctx, "lock rejected",
			slog.String("session_key", sessionKey),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	units := 0
	for _, l := range locks {
		units += l.Quantity
	}
	unitsTotal.WithLabelValues("lock").Add(float64(units))

	m.logger.InfoContext(ctx, "stock locked",
		slog.String("session_key", sessionKey),
		slog.Int("batches", len(locks)),
		slog.Int("units", units),
		slog.Time("expires_at", expiresAt),
	)

	return &LockResult{
		SessionKey: sessionKey,
		Locks:      locks,
		ExpiresAt:  expiresAt,
		Notification: m.notify.send(ctx, EventLocked, func(p EventPublisher) error {
			return p.PublishLocked(ctx, sessionKey, locks)
		}),
	}, nil
}

// Confirm turns the held locks of sessionKey into permanent consumption:
// batch quantities are decremented, OrderItemBatch rows recorded and the
// locks marked confirmed. Confirming an already confirmed session is a no-op;
// a session whose locks were released or reaped fails with NoLocksFound.
func (m *LockManager) Confirm(ctx context.Context, sessionKey string) (result *ConfirmResult, err error) {
	start := time.Now()
	defer func() { observe("confirm", start, err) }()

	if sessionKey == "" {
		return nil, apperrors.InvalidInput("session_key is required")
	}

	now := m.now().UTC()
	result = &ConfirmResult{SessionKey: sessionKey}

	err = m.scope.Execute(ctx, func(repos repository.Repositories) error {
		held, err := repos.Locks.ListHeldForUpdate(ctx, sessionKey)
		if err != nil {
			return fmt.Errorf("list held locks: %w", err)
		}
		if len(held) == 0 {
			if err := m.settledSession(ctx, repos, sessionKey, domain.LockStatusConfirmed); err != nil {
				return err
			}
			result.AlreadyConfirmed = true
			return nil
		}

		if _, err := repos.Batches.GetForUpdate(ctx, lockBatchIDs(held)); err != nil {
			return fmt.Errorf("lock batches: %w", err)
		}

		rows := make([]domain.OrderItemBatch, 0, len(held))
		ids := make([]string, 0, len(held))
		for _, l := range held {
			if err := repos.Batches.DecrementQuantity(ctx, l.BatchID, l.Quantity); err != nil {
				return fmt.Errorf("decrement batch %s: %w", l.BatchID, err)
			}
			rows = append(rows, domain.OrderItemBatch{
				ID:          uuid.New().String(),
				OrderItemID: l.ConsumptionRef(),
				BatchID:     l.BatchID,
				WarehouseID: l.WarehouseID,
				Quantity:    l.Quantity,
				Source:      domain.ConsumptionSourceLock,
				CreatedAt:   now,
			})
			ids = append(ids, l.ID)
		}

		if err := repos.Consumptions.Record(ctx, rows); err != nil {
			return fmt.Errorf("record consumption: %w", err)
		}
		if err := repos.Locks.UpdateStatus(ctx, ids, domain.LockStatusConfirmed); err != nil {
			return fmt.Errorf("confirm locks: %w", err)
		}
		result.Consumed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyConfirmed {
		m.logger.InfoContext(ctx, "session already settled, nothing to confirm",
			slog.String("session_key", sessionKey),
		)
		return result, nil
	}

	units := 0
	batchIDs := make([]string, 0, len(result.Consumed))
	for _, c := range result.Consumed {
		units += c.Quantity
		batchIDs = append(batchIDs, c.BatchID)
	}
	unitsTotal.WithLabelValues("confirm").Add(float64(units))

	m.logger.InfoContext(ctx, "stock locks confirmed",
		slog.String("session_key", sessionKey),
		slog.Int("batches", len(result.Consumed)),
		slog.Int("units", units),
	)

	consumed := result.Consumed
	result.Notifications = append(result.Notifications, m.notify.send(ctx, EventConfirmed, func(p EventPublisher) error {
		return p.PublishConfirmed(ctx, sessionKey, consumed)
	}))
	result.Notifications = append(result.Notifications, m.notify.lowStock(ctx, m.repos.Stocks, batchIDs)...)

	return result, nil
}

// Release returns the held units of sessionKey to the pool without
// decrementing anything. Releasing an already released session is a no-op;
// a confirmed session fails with NoLocksFound.
func (m *LockManager) Release(ctx context.Context, sessionKey string) (result *ReleaseResult, err error) {
	start := time.Now()
	defer func() { observe("release", start, err) }()

	if sessionKey == "" {
		return nil, apperrors.InvalidInput("session_key is required")
	}

	result = &ReleaseResult{SessionKey: sessionKey, Released: []domain.StockLock{}}
	err = m.scope.Execute(ctx, func(repos repository.Repositories) error {
		held, err := repos.Locks.ListHeldForUpdate(ctx, sessionKey)
		if err != nil {
			return fmt.Errorf("list held locks: %w", err)
		}
		if len(held) == 0 {
			return m.settledSession(ctx, repos, sessionKey, domain.LockStatusReleased)
		}
		if err := repos.Locks.UpdateStatus(ctx, lockIDs(held), domain.LockStatusReleased); err != nil {
			return fmt.Errorf("release locks: %w", err)
		}
		for i := range held {
			held[i].Status = domain.LockStatusReleased
		}
		result.Released = held
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Released) == 0 {
		result.Notification = domain.Notification{Event: EventReleased, Status: domain.NotificationSkipped}
		return result, nil
	}

	m.logger.InfoContext(ctx, "stock locks released",
		slog.String("session_key", sessionKey),
		slog.Int("batches", len(result.Released)),
	)

	released := result.Released
	result.Notification = m.notify.send(ctx, EventReleased, func(p EventPublisher) error {
		return p.PublishReleased(ctx, sessionKey, "released", released)
	})
	return result, nil
}

// Transfer re-keys every lock of oldKey to newKey, leaving status and
// quantities untouched. It is used when a payment provider replaces the
// temporary checkout key with its own session id.
func (m *LockManager) Transfer(ctx context.Context, oldKey, newKey string) (result *TransferResult, err error) {
	start := time.Now()
	defer func() { observe("transfer", start, err) }()

	if oldKey == "" || newKey == "" {
		return nil, apperrors.InvalidInput("both session keys are required")
	}
	if oldKey == newKey {
		return nil, apperrors.InvalidInput("new session key must differ from the old one")
	}

	result = &TransferResult{OldKey: oldKey, NewKey: newKey}
	err = m.scope.Execute(ctx, func(repos repository.Repositories) error {
		held, err := repos.Locks.ListHeldForUpdate(ctx, oldKey)
		if err != nil {
			return fmt.Errorf("list held locks: %w", err)
		}
		if len(held) == 0 {
			return domain.NoLocksFound(oldKey)
		}

		target, err := repos.Locks.ListHeldForUpdate(ctx, newKey)
		if err != nil {
			return fmt.Errorf("list held locks of target: %w", err)
		}
		if len(target) > 0 {
			return apperrors.AlreadyExists("lock session", "session_key", newKey)
		}

		moved, err := repos.Locks.Rekey(ctx, oldKey, newKey)
		if err != nil {
			return fmt.Errorf("rekey locks: %w", err)
		}
		result.Moved = moved
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "stock locks transferred",
		slog.String("old_key", oldKey),
		slog.String("new_key", newKey),
		slog.Int("moved", result.Moved),
	)

	moved := result.Moved
	result.Notification = m.notify.send(ctx, EventTransferred, func(p EventPublisher) error {
		return p.PublishTransferred(ctx, oldKey, newKey, moved)
	})
	return result, nil
}

// Locks returns every lock of a session, held or settled.
func (m *LockManager) Locks(ctx context.Context, sessionKey string) ([]domain.StockLock, error) {
	if sessionKey == "" {
		return nil, apperrors.InvalidInput("session_key is required")
	}
	locks, err := m.repos.Locks.ListBySession(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("list session locks: %w", err)
	}
	if len(locks) == 0 {
		return nil, domain.NoLocksFound(sessionKey)
	}
	return locks, nil
}

// ReleaseExpired releases up to limit held locks whose TTL elapsed at now and
// returns how many were released.
func (m *LockManager) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	var expired []domain.StockLock
	err := m.scope.Execute(ctx, func(repos repository.Repositories) error {
		var err error
		expired, err = repos.Locks.ListExpiredForUpdate(ctx, now, limit)
		if err != nil {
			return fmt.Errorf("list expired locks: %w", err)
		}
		if len(expired) == 0 {
			return nil
		}
		if err := repos.Locks.UpdateStatus(ctx, lockIDs(expired), domain.LockStatusReleased); err != nil {
			return fmt.Errorf("release expired locks: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	bySession := make(map[string][]domain.StockLock)
	var sessions []string
	for _, l := range expired {
		l.Status = domain.LockStatusReleased
		if _, ok := bySession[l.SessionKey]; !ok {
			sessions = append(sessions, l.SessionKey)
		}
		bySession[l.SessionKey] = append(bySession[l.SessionKey], l)
	}
	for _, key := range sessions {
		key, locks := key, bySession[key]
		m.notify.send(ctx, EventReleased, func(p EventPublisher) error {
			return p.PublishReleased(ctx, key, "expired", locks)
		})
	}

	m.logger.InfoContext(ctx, "expired stock locks released",
		slog.Int("locks", len(expired)),
		slog.Int("sessions", len(sessions)),
	)
	return len(expired), nil
}

// settledSession handles a session without held locks. It succeeds only when
// a lock already reached settled, which makes the call a replay; any other
// session fails with NoLocksFound.
func (m *LockManager) settledSession(ctx context.Context, repos repository.Repositories, sessionKey string, settled domain.LockStatus) error {
	all, err := repos.Locks.ListBySession(ctx, sessionKey)
	if err != nil {
		return fmt.Errorf("list session locks: %w", err)
	}
	for _, l := range all {
		if l.Status == settled {
			return nil
		}
	}
	return domain.NoLocksFound(sessionKey)
}

// checkGrantable verifies that qty more units of b can be held or consumed.
// Units missing from the batch are InsufficientStock; units present but held
// by other sessions are a LockConflict.
func checkGrantable(b *domain.StockBatch, qty int, warehouseID string, now time.Time) error {
	if warehouseID != "" && warehouseID != b.WarehouseID {
		return apperrors.InvalidInput(fmt.Sprintf("batch %s is not stocked in warehouse %s", b.ID, warehouseID))
	}
	if !b.IsAllocatable() || b.ExpiredOn(now) {
		return domain.InsufficientStock("batch "+b.ID, qty, 0)
	}
	if b.Quantity < qty {
		return domain.InsufficientStock("batch "+b.ID, qty, b.Available())
	}
	if b.Available() < qty {
		return domain.LockConflict(b.ID, qty, b.Available())
	}
	return nil
}

func indexBatches(batches []domain.StockBatch) map[string]*domain.StockBatch {
	byID := make(map[string]*domain.StockBatch, len(batches))
	for i := range batches {
		byID[batches[i].ID] = &batches[i]
	}
	return byID
}

func lockIDs(locks []domain.StockLock) []string {
	ids := make([]string, len(locks))
	for i := range locks {
		ids[i] = locks[i].ID
	}
	return ids
}

// lockBatchIDs returns the distinct batch ids of locks in ascending order.
func lockBatchIDs(locks []domain.StockLock) []string {
	seen := make(map[string]bool, len(locks))
	ids := make([]string, 0, len(locks))
	for _, l := range locks {
		if !seen[l.BatchID] {
			seen[l.BatchID] = true
			ids = append(ids, l.BatchID)
		}
	}
	sort.Strings(ids)
	return ids
}
