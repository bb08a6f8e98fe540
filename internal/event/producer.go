package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/stockalloc/internal/domain"
	pkgkafka "github.com/utafrali/stockalloc/pkg/kafka"
	"github.com/utafrali/stockalloc/pkg/logger"
)

// Kafka topics for stock events.
var (
	TopicStockLocked      = pkgkafka.Topic("stock", "locked")
	TopicStockConfirmed   = pkgkafka.Topic("stock", "confirmed")
	TopicStockReleased    = pkgkafka.Topic("stock", "released")
	TopicStockTransferred = pkgkafka.Topic("stock", "transferred")
	TopicStockCommitted   = pkgkafka.Topic("stock", "committed")
	TopicStockLowStock    = pkgkafka.Topic("stock", "low_stock")
)

// Aggregate types used as event keys.
const (
	AggregateTypeLockSession = "lock_session"
	AggregateTypeOrderItem   = "order_item"
	AggregateTypeStock       = "stock"
)

// SourceStockAlloc identifies events originating from this service.
const SourceStockAlloc = "stockalloc-service"

// Publisher is the subset of pkg/kafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// LockedLine is one lock carried by a lock session event.
type LockedLine struct {
	LockID      string `json:"lock_id"`
	BatchID     string `json:"batch_id"`
	WarehouseID string `json:"warehouse_id"`
	Quantity    int    `json:"quantity"`
	OrderItemID string `json:"order_item_id,omitempty"`
}

// LockSessionData is the payload of stock.locked and stock.released.
type LockSessionData struct {
	SessionKey string       `json:"session_key"`
	Reason     string       `json:"reason,omitempty"`
	Units      int          `json:"units"`
	Locks      []LockedLine `json:"locks"`
}

// ConsumedLine is one consumption row carried by confirm/commit events.
type ConsumedLine struct {
	OrderItemID string `json:"order_item_id"`
	BatchID     string `json:"batch_id"`
	WarehouseID string `json:"warehouse_id"`
	Quantity    int    `json:"quantity"`
}

// ConsumptionData is the payload of stock.confirmed and stock.committed.
type ConsumptionData struct {
	SessionKey  string         `json:"session_key,omitempty"`
	OrderItemID string         `json:"order_item_id,omitempty"`
	Units       int            `json:"units"`
	Consumed    []ConsumedLine `json:"consumed"`
}

// TransferredData is the payload of stock.transferred.
type TransferredData struct {
	OldSessionKey string `json:"old_session_key"`
	NewSessionKey string `json:"new_session_key"`
	Moved         int    `json:"moved"`
}

// LowStockData is the payload of stock.low_stock.
type LowStockData struct {
	StockID           string `json:"stock_id"`
	WarehouseID       string `json:"warehouse_id"`
	ProductID         string `json:"product_id,omitempty"`
	VariantID         string `json:"variant_id,omitempty"`
	Quantity          int    `json:"quantity"`
	Locked            int    `json:"locked"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

// Producer publishes stock domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishLocked publishes a stock.locked event.
func (p *Producer) PublishLocked(ctx context.Context, sessionKey string, locks []domain.StockLock) error {
	return p.publish(ctx, TopicStockLocked, sessionKey, AggregateTypeLockSession, lockSessionData(sessionKey, "", locks))
}

// PublishReleased publishes a stock.released event.
func (p *Producer) PublishReleased(ctx context.Context, sessionKey, reason string, locks []domain.StockLock) error {
	return p.publish(ctx, TopicStockReleased, sessionKey, AggregateTypeLockSession, lockSessionData(sessionKey, reason, locks))
}

// PublishConfirmed publishes a stock.confirmed event.
func (p *Producer) PublishConfirmed(ctx context.Context, sessionKey string, consumed []domain.OrderItemBatch) error {
	data := consumptionData(consumed)
	data.SessionKey = sessionKey
	return p.publish(ctx, TopicStockConfirmed, sessionKey, AggregateTypeLockSession, data)
}

// PublishTransferred publishes a stock.transferred event keyed by the new
// session key.
func (p *Producer) PublishTransferred(ctx context.Context, oldKey, newKey string, moved int) error {
	return p.publish(ctx, TopicStockTransferred, newKey, AggregateTypeLockSession, TransferredData{
		OldSessionKey: oldKey,
		NewSessionKey: newKey,
		Moved:         moved,
	})
}

// PublishCommitted publishes a stock.committed event.
func (p *Producer) PublishCommitted(ctx context.Context, orderItemID string, consumed []domain.OrderItemBatch) error {
	data := consumptionData(consumed)
	data.OrderItemID = orderItemID
	return p.publish(ctx, TopicStockCommitted, orderItemID, AggregateTypeOrderItem, data)
}

// PublishLowStock publishes a stock.low_stock event.
func (p *Producer) PublishLowStock(ctx context.Context, level domain.StockLevel) error {
	return p.publish(ctx, TopicStockLowStock, level.ID, AggregateTypeStock, LowStockData{
		StockID:           level.ID,
		WarehouseID:       level.WarehouseID,
		ProductID:         level.Item.ProductID,
		VariantID:         level.Item.VariantID,
		Quantity:          level.Quantity,
		Locked:            level.Locked,
		Available:         level.Available(),
		LowStockThreshold: level.LowStockThreshold,
	})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceStockAlloc, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx))

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published stock event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
		slog.String("event_id", event.EventID),
	)
	return nil
}

func lockSessionData(sessionKey, reason string, locks []domain.StockLock) LockSessionData {
	data := LockSessionData{SessionKey: sessionKey, Reason: reason, Locks: make([]LockedLine, 0, len(locks))}
	for _, l := range locks {
		data.Units += l.Quantity
		data.Locks = append(data.Locks, LockedLine{
			LockID:      l.ID,
			BatchID:     l.BatchID,
			WarehouseID: l.WarehouseID,
			Quantity:    l.Quantity,
			OrderItemID: l.OrderItemID,
		})
	}
	return data
}

func consumptionData(consumed []domain.OrderItemBatch) ConsumptionData {
	data := ConsumptionData{Consumed: make([]ConsumedLine, 0, len(consumed))}
	for _, c := range consumed {
		data.Units += c.Quantity
		data.Consumed = append(data.Consumed, ConsumedLine{
			OrderItemID: c.OrderItemID,
			BatchID:     c.BatchID,
			WarehouseID: c.WarehouseID,
			Quantity:    c.Quantity,
		})
	}
	return data
}
