package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventKeyPrefix namespaces processed event ids in Redis.
const EventKeyPrefix = "stockalloc:events:"

// EventStore records processed Kafka event ids in Redis so that every
// replica of the consumer group skips redelivered events. It implements
// pkg/kafka.IdempotencyStore.
type EventStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEventStore creates an event store whose entries expire after ttl.
func NewEventStore(client *redis.Client, ttl time.Duration) *EventStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EventStore{client: client, ttl: ttl}
}

// Contains reports whether eventID was recorded.
func (s *EventStore) Contains(ctx context.Context, eventID string) (bool, error) {
	err := s.client.Get(ctx, EventKeyPrefix+eventID).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("lookup event %s: %w", eventID, err)
	}
}

// Add records eventID.
func (s *EventStore) Add(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, EventKeyPrefix+eventID, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("record event %s: %w", eventID, err)
	}
	return nil
}
