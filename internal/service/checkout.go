package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// OrderDrafter creates and discards provisional orders in the order service.
type OrderDrafter interface {
	CreateDraft(ctx context.Context, sessionKey string, dest domain.Destination, items []domain.CartItem) (*domain.OrderDraft, error)
	DeleteDraft(ctx context.Context, draftID string) error
}

// HoldResult is returned by CheckoutCoordinator.Hold.
type HoldResult struct {
	Plan  *domain.Plan       `json:"plan"`
	Draft *domain.OrderDraft `json:"draft"`
	Lock  *LockResult        `json:"lock"`
}

// SettleResult is returned by CheckoutCoordinator.Settle.
type SettleResult struct {
	Plan    *domain.Plan       `json:"plan"`
	Draft   *domain.OrderDraft `json:"draft"`
	Commits []*CommitResult    `json:"commits"`
}

// CheckoutCoordinator ties planning, order drafts and stock operations
// together. Whenever the stock step fails after a draft exists, the draft is
// deleted before the error is returned.
type CheckoutCoordinator struct {
	planner  *Planner
	locks    *LockManager
	recorder *ConsumptionRecorder
	scope    repository.TransactionScope
	orders   OrderDrafter
	logger   *slog.Logger
}

// NewCheckoutCoordinator creates a new checkout coordinator.
func NewCheckoutCoordinator(
	planner *Planner,
	locks *LockManager,
	recorder *ConsumptionRecorder,
	scope repository.TransactionScope,
	orders OrderDrafter,
	logger *slog.Logger,
) *CheckoutCoordinator {
	return &CheckoutCoordinator{
		planner:  planner,
		locks:    locks,
		recorder: recorder,
		scope:    scope,
		orders:   orders,
		logger:   logger,
	}
}

// Hold plans the cart, drafts the order and locks the planned batches under
// sessionKey until payment resolves.
func (c *CheckoutCoordinator) Hold(ctx context.Context, sessionKey string, items []domain.CartItem, dest domain.Destination) (*HoldResult, error) {
	if sessionKey == "" {
		return nil, apperrors.InvalidInput("session_key is required")
	}
	plan, err := c.plan(ctx, items, dest)
	if err != nil {
		return nil, err
	}

	draft, err := c.orders.CreateDraft(ctx, sessionKey, dest, items)
	if err != nil {
		return nil, fmt.Errorf("create order draft: %w", err)
	}

	reqs, err := draftLockRequests(plan, draft)
	if err == nil {
		var lock *LockResult
		lock, err = c.locks.Lock(ctx, sessionKey, reqs)
		if err == nil {
			return &HoldResult{Plan: plan, Draft: draft, Lock: lock}, nil
		}
	}

	c.discardDraft(ctx, draft, err)
	return nil, err
}

// Settle plans the cart, drafts the order and consumes the planned batches
// for every order item in a single unit of work.
func (c *CheckoutCoordinator) Settle(ctx context.Context, sessionKey string, items []domain.CartItem, dest domain.Destination) (*SettleResult, error) {
	if sessionKey == "" {
		return nil, apperrors.InvalidInput("session_key is required")
	}
	plan, err := c.plan(ctx, items, dest)
	if err != nil {
		return nil, err
	}

	draft, err := c.orders.CreateDraft(ctx, sessionKey, dest, items)
	if err != nil {
		return nil, fmt.Errorf("create order draft: %w", err)
	}
	orderItems := draft.OrderItemIDs()

	consumed := make(map[string][]domain.OrderItemBatch, len(plan.Lines))
	err = c.scope.Execute(ctx, func(repos repository.Repositories) error {
		for _, line := range plan.Lines {
			orderItemID, ok := orderItems[line.Item.LineID]
			if !ok || orderItemID == "" {
				return fmt.Errorf("order draft %s has no item for line %s", draft.ID, line.Item.LineID)
			}
			rows, err := c.recorder.CommitWithin(ctx, repos, orderItemID, line.Allocations)
			if err != nil {
				return err
			}
			consumed[orderItemID] = rows
		}
		return nil
	})
	if err != nil {
		c.discardDraft(ctx, draft, err)
		return nil, err
	}

	result := &SettleResult{Plan: plan, Draft: draft}
	for _, line := range plan.Lines {
		orderItemID := orderItems[line.Item.LineID]
		result.Commits = append(result.Commits, c.recorder.Published(ctx, orderItemID, consumed[orderItemID]))
	}
	return result, nil
}

// plan rejects carts listing the same item twice before planning them.
func (c *CheckoutCoordinator) plan(ctx context.Context, items []domain.CartItem, dest domain.Destination) (*domain.Plan, error) {
	seen := make(map[domain.ItemRef]bool, len(items))
	for _, item := range items {
		if seen[item.ItemRef] {
			return nil, apperrors.InvalidInput(fmt.Sprintf("item %s appears on more than one line", item.ItemRef))
		}
		seen[item.ItemRef] = true
	}
	return c.planner.Plan(ctx, items, dest)
}

func (c *CheckoutCoordinator) discardDraft(ctx context.Context, draft *domain.OrderDraft, cause error) {
	c.logger.InfoContext(ctx, "stock step failed, deleting order draft",
		slog.String("draft_id", draft.ID),
		slog.String("session_key", draft.SessionKey),
		slog.String("error", cause.Error()),
	)
	if err := c.orders.DeleteDraft(ctx, draft.ID); err != nil {
		c.logger.ErrorContext(ctx, "failed to delete order draft",
			slog.String("draft_id", draft.ID),
			slog.String("error", err.Error()),
		)
	}
}

// draftLockRequests builds lock requests that carry the draft's order item
// ids.
func draftLockRequests(plan *domain.Plan, draft *domain.OrderDraft) ([]domain.BatchLockRequest, error) {
	orderItems := draft.OrderItemIDs()
	reqs := plan.LockRequests()
	for i := range reqs {
		id, ok := orderItems[reqs[i].OrderItemID]
		if !ok || id == "" {
			return nil, fmt.Errorf("order draft %s has no item for line %s", draft.ID, reqs[i].OrderItemID)
		}
		reqs[i].OrderItemID = id
	}
	return reqs, nil
}
