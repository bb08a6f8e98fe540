package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// eventVersion is the envelope version written by NewEvent.
const eventVersion = 1

// ErrInvalidEvent is returned by UnmarshalEvent for payloads that decode but
// are not usable envelopes.
var ErrInvalidEvent = errors.New("invalid event envelope")

// Event is the JSON envelope shared by every message on the platform bus.
// Data holds the event-specific payload.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Version       int               `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent wraps data in a fresh envelope with a random id.
func NewEvent(eventType, aggregateID, aggregateType, source string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       eventVersion,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Data:          raw,
	}, nil
}

// WithCorrelationID sets the correlation id. An empty id is ignored.
func (e *Event) WithCorrelationID(id string) *Event {
	if id != "" {
		e.CorrelationID = id
	}
	return e
}

// WithMetadata sets one metadata entry.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	e.Metadata[key] = value
	return e
}

// Marshal encodes the envelope.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalData decodes the payload into target.
func (e *Event) UnmarshalData(target any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrInvalidEvent, e.EventType)
	}
	return json.Unmarshal(e.Data, target)
}

// UnmarshalEvent decodes an envelope. Envelopes without an event type are
// rejected with ErrInvalidEvent.
func UnmarshalEvent(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if e.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_type", ErrInvalidEvent)
	}
	return &e, nil
}
