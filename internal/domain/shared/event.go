package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact recorded by an aggregate: a batch finished, a
// group resolved, a customer was created. Events are staged in the outbox
// and relayed to subscribers after the owning transaction commits.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
}

// BaseDomainEvent supplies the envelope fields of every event. The JSON
// names are part of the outbox payload format; changing them orphans
// payloads already staged.
type BaseDomainEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AggID     uuid.UUID `json:"aggregate_id"`
	AggType   string    `json:"aggregate_type"`
}

// NewBaseDomainEvent stamps a new event envelope.
func NewBaseDomainEvent(eventType, aggType string, aggID uuid.UUID) BaseDomainEvent {
	return BaseDomainEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		AggID:     aggID,
		AggType:   aggType,
	}
}

// EventID returns the unique id of this occurrence. The idempotency
// wrapper keys redelivery detection on it.
func (e *BaseDomainEvent) EventID() uuid.UUID {
	return e.ID
}

// EventType returns the registered type name.
func (e *BaseDomainEvent) EventType() string {
	return e.Type
}

// OccurredAt returns when the aggregate recorded the event.
func (e *BaseDomainEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID returns the id of the aggregate that raised the event.
func (e *BaseDomainEvent) AggregateID() uuid.UUID {
	return e.AggID
}

// AggregateType returns the kind of aggregate that raised the event.
func (e *BaseDomainEvent) AggregateType() string {
	return e.AggType
}
