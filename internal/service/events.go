package service

import (
	"context"
	"log/slog"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
)

// Event names reported in notifications.
const (
	EventLocked      = "stock.locked"
	EventConfirmed   = "stock.confirmed"
	EventReleased    = "stock.released"
	EventTransferred = "stock.transferred"
	EventCommitted   = "stock.committed"
	EventLowStock    = "stock.low_stock"
)

// EventPublisher emits stock events after a unit of work has committed.
type EventPublisher interface {
	PublishLocked(ctx context.Context, sessionKey string, locks []domain.StockLock) error
	PublishConfirmed(ctx context.Context, sessionKey string, consumed []domain.OrderItemBatch) error
	PublishReleased(ctx context.Context, sessionKey, reason string, locks []domain.StockLock) error
	PublishTransferred(ctx context.Context, oldKey, newKey string, moved int) error
	PublishCommitted(ctx context.Context, orderItemID string, consumed []domain.OrderItemBatch) error
	PublishLowStock(ctx context.Context, level domain.StockLevel) error
}

// notifier turns publisher calls into Notification values. A nil publisher
// yields skipped notifications.
type notifier struct {
	events EventPublisher
	logger *slog.Logger
}

func (n notifier) send(ctx context.Context, event string, publish func(EventPublisher) error) domain.Notification {
	if n.events == nil {
		return domain.Notification{Event: event, Status: domain.NotificationSkipped}
	}
	note := domain.NotificationFrom(event, publish(n.events))
	if note.Failed() {
		n.logger.WarnContext(ctx, "stock event not published",
			slog.String("event", event),
			slog.String("error", note.Error),
		)
	}
	return note
}

// lowStock publishes a low-stock event for every affected stock line at or
// below its threshold.
func (n notifier) lowStock(ctx context.Context, stocks repository.StockRepository, batchIDs []string) []domain.Notification {
	if n.events == nil || len(batchIDs) == 0 {
		return nil
	}

	levels, err := stocks.LevelsForBatches(ctx, batchIDs)
	if err != nil {
		n.logger.WarnContext(ctx, "low stock check failed", slog.String("error", err.Error()))
		return []domain.Notification{domain.NotificationFrom(EventLowStock, err)}
	}

	var notes []domain.Notification
	for _, level := range levels {
		if !level.IsLow() {
			continue
		}
		level := level
		notes = append(notes, n.send(ctx, EventLowStock, func(p EventPublisher) error {
			return p.PublishLowStock(ctx, level)
		}))
	}
	return notes
}
