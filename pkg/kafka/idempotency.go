package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IdempotencyStore remembers which event ids were handled. Implementations
// must be safe for concurrent use.
type IdempotencyStore interface {
	Contains(ctx context.Context, eventID string) (bool, error)
	Add(ctx context.Context, eventID string) error
}

// purgeEvery is how many Adds pass between sweeps of expired entries.
const purgeEvery = 1024

// MemoryIdempotencyStore keeps event ids in process memory until they expire.
// It only deduplicates within one replica.
type MemoryIdempotencyStore struct {
	mu       sync.Mutex
	deadline map[string]time.Time
	ttl      time.Duration
	adds     int
	now      func() time.Time
}

// NewMemoryIdempotencyStore creates a store whose entries live for ttl.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		deadline: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Contains reports whether eventID was added and has not expired.
func (s *MemoryIdempotencyStore) Contains(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deadline[eventID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(d) {
		delete(s.deadline, eventID)
		return false, nil
	}
	return true, nil
}

// Add records eventID.
func (s *MemoryIdempotencyStore) Add(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.deadline[eventID] = now.Add(s.ttl)

	s.adds++
	if s.adds%purgeEvery == 0 {
		for id, d := range s.deadline {
			if !now.Before(d) {
				delete(s.deadline, id)
			}
		}
	}
	return nil
}

// Len returns the number of stored ids, expired ones included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadline)
}

type deliveryKey struct{}

type delivery struct {
	topic string
	group string
}

func withDelivery(ctx context.Context, topic, group string) context.Context {
	return context.WithValue(ctx, deliveryKey{}, delivery{topic: topic, group: group})
}

// IdempotentHandler skips events whose id is already in store and records
// the id once inner succeeds. Events without an id always run. A failing
// store lookup does not block processing.
func IdempotentHandler(store IdempotencyStore, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}

		seen, err := store.Contains(ctx, event.EventID)
		switch {
		case err != nil:
			logger.WarnContext(ctx, "idempotency lookup failed, processing anyway",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		case seen:
			if d, ok := ctx.Value(deliveryKey{}).(delivery); ok {
				ConsumerMessagesDuplicate.WithLabelValues(d.topic, d.group).Inc()
			}
			logger.DebugContext(ctx, "skipping duplicate event",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}
		if err := store.Add(ctx, event.EventID); err != nil {
			logger.WarnContext(ctx, "recording processed event failed",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}
