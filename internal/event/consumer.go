package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/service"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
	pkgkafka "github.com/utafrali/stockalloc/pkg/kafka"
)

// Topics consumed from other services.
var (
	TopicPaymentSucceeded      = pkgkafka.Topic("payment", "succeeded")
	TopicPaymentFailed         = pkgkafka.Topic("payment", "failed")
	TopicPaymentSessionCreated = pkgkafka.Topic("payment", "session_created")
	TopicWarehouseUpdated      = pkgkafka.Topic("warehouse", "updated")
)

// ConsumerGroupID is the consumer group of this service.
const ConsumerGroupID = "stockalloc-service"

// LockService is the part of the lock manager driven by payment events.
type LockService interface {
	Confirm(ctx context.Context, sessionKey string) (*service.ConfirmResult, error)
	Release(ctx context.Context, sessionKey string) (*service.ReleaseResult, error)
	Transfer(ctx context.Context, oldKey, newKey string) (*service.TransferResult, error)
}

// WarehouseUpserter stores a warehouse and drops any cached directory.
type WarehouseUpserter interface {
	Upsert(ctx context.Context, w *domain.Warehouse) error
}

// PaymentData is the part of a payment event payload used here.
type PaymentData struct {
	PaymentID          string `json:"payment_id"`
	OrderID            string `json:"order_id"`
	SessionKey         string `json:"session_key"`
	ProviderSessionKey string `json:"provider_session_key"`
	Reason             string `json:"reason"`
}

// ConsumerHandler routes incoming Kafka events to the lock manager and the
// warehouse directory.
type ConsumerHandler struct {
	locks      LockService
	warehouses WarehouseUpserter
	logger     *slog.Logger
}

// NewConsumerHandler creates a new event consumer handler.
func NewConsumerHandler(locks LockService, warehouses WarehouseUpserter, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		locks:      locks,
		warehouses: warehouses,
		logger:     logger,
	}
}

// Handle processes an incoming Kafka event based on its event type.
func (h *ConsumerHandler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	var err error
	switch event.EventType {
	case TopicPaymentSucceeded:
		err = h.handlePaymentSucceeded(ctx, event)
	case TopicPaymentFailed:
		err = h.handlePaymentFailed(ctx, event)
	case TopicPaymentSessionCreated:
		err = h.handlePaymentSessionCreated(ctx, event)
	case TopicWarehouseUpdated:
		err = h.handleWarehouseUpdated(ctx, event)
	default:
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
	return h.settle(ctx, event, err)
}

// settle drops client errors, which redelivery cannot fix, and returns the
// rest so the consumer retries them.
func (h *ConsumerHandler) settle(ctx context.Context, event *pkgkafka.Event, err error) error {
	if err == nil {
		return nil
	}
	if status := apperrors.HTTPStatus(err); status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		h.logger.WarnContext(ctx, "event rejected, not retrying",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return err
}

func (h *ConsumerHandler) handlePaymentSucceeded(ctx context.Context, event *pkgkafka.Event) error {
	data, err := paymentData(event)
	if err != nil {
		return err
	}

	result, err := h.locks.Confirm(ctx, data.SessionKey)
	if err != nil {
		return fmt.Errorf("confirm locks for session %s: %w", data.SessionKey, err)
	}

	h.logger.InfoContext(ctx, "stock confirmed for payment",
		slog.String("payment_id", data.PaymentID),
		slog.String("session_key", data.SessionKey),
		slog.Int("batches", len(result.Consumed)),
		slog.Bool("already_confirmed", result.AlreadyConfirmed),
	)
	return nil
}

func (h *ConsumerHandler) handlePaymentFailed(ctx context.Context, event *pkgkafka.Event) error {
	data, err := paymentData(event)
	if err != nil {
		return err
	}

	result, err := h.locks.Release(ctx, data.SessionKey)
	if err != nil {
		return fmt.Errorf("release locks for session %s: %w", data.SessionKey, err)
	}

	h.logger.InfoContext(ctx, "stock released for failed payment",
		slog.String("payment_id", data.PaymentID),
		slog.String("session_key", data.SessionKey),
		slog.String("reason", data.Reason),
		slog.Int("locks", len(result.Released)),
	)
	return nil
}

func (h *ConsumerHandler) handlePaymentSessionCreated(ctx context.Context, event *pkgkafka.Event) error {
	data, err := paymentData(event)
	if err != nil {
		return err
	}
	if data.ProviderSessionKey == "" {
		return apperrors.InvalidInput("provider_session_key is required")
	}

	result, err := h.locks.Transfer(ctx, data.SessionKey, data.ProviderSessionKey)
	if err != nil {
		return fmt.Errorf("transfer locks from %s: %w", data.SessionKey, err)
	}

	h.logger.InfoContext(ctx, "locks moved to payment session",
		slog.String("old_session_key", result.OldKey),
		slog.String("new_session_key", result.NewKey),
		slog.Int("moved", result.Moved),
	)
	return nil
}

func (h *ConsumerHandler) handleWarehouseUpdated(ctx context.Context, event *pkgkafka.Event) error {
	var w domain.Warehouse
	if err := event.UnmarshalData(&w); err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("unmarshal warehouse.updated payload: %v", err))
	}
	if w.ID == "" {
		w.ID = event.AggregateID
	}
	if w.ID == "" || strings.TrimSpace(w.Country) == "" {
		return apperrors.InvalidInput("warehouse id and country are required")
	}
	w.UpdatedAt = event.Timestamp

	if err := h.warehouses.Upsert(ctx, &w); err != nil {
		return fmt.Errorf("upsert warehouse %s: %w", w.ID, err)
	}

	h.logger.InfoContext(ctx, "warehouse updated",
		slog.String("warehouse_id", w.ID),
		slog.Bool("active", w.Active),
	)
	return nil
}

func paymentData(event *pkgkafka.Event) (*PaymentData, error) {
	var data PaymentData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unmarshal %s payload: %v", event.EventType, err))
	}
	if data.SessionKey == "" {
		return nil, apperrors.InvalidInput("session_key is required")
	}
	return &data, nil
}

// NewConsumers creates one Kafka consumer per subscribed topic. Every
// consumer deduplicates deliveries through store.
func NewConsumers(brokers []string, enableDLQ bool, handler *ConsumerHandler, store pkgkafka.IdempotencyStore, logger *slog.Logger) []*pkgkafka.Consumer {
	topics := []string{
		TopicPaymentSucceeded,
		TopicPaymentFailed,
		TopicPaymentSessionCreated,
		TopicWarehouseUpdated,
	}

	handle := pkgkafka.IdempotentHandler(store, handler.Handle, logger)
	consumers := make([]*pkgkafka.Consumer, 0, len(topics))
	for _, topic := range topics {
		cfg := pkgkafka.ConsumerConfig{
			Brokers:   brokers,
			GroupID:   ConsumerGroupID,
			Topic:     topic,
			MinBytes:  1,
			MaxBytes:  10e6,
			EnableDLQ: enableDLQ,
		}
		consumers = append(consumers, pkgkafka.NewConsumer(cfg, handle, logger))
	}
	return consumers
}
