package dedup

import (
	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// AggregateTypeBatch is the aggregate type for intake batch events
const AggregateTypeBatch = "IntakeBatch"

// Batch event types
const (
	EventTypeBatchReceived  = "BatchReceived"
	EventTypeBatchCompleted = "BatchCompleted"
	EventTypeBatchFailed    = "BatchFailed"
	EventTypeGroupResolved  = "DuplicateGroupResolved"
)

// BatchReceivedEvent is published when a channel submission is staged
type BatchReceivedEvent struct {
	shared.BaseDomainEvent
	Channel     string `json:"channel"`
	RecordCount int    `json:"record_count"`
	OfferCount  int    `json:"offer_count"`
}

// NewBatchReceivedEvent creates a new batch received event
func NewBatchReceivedEvent(batch *Batch) *BatchReceivedEvent {
	return &BatchReceivedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBatchReceived, AggregateTypeBatch, batch.ID),
		Channel:         batch.Channel,
		RecordCount:     batch.RecordCount,
		OfferCount:      batch.OfferCount,
	}
}

// BatchCompletedEvent is published when a batch finishes processing
type BatchCompletedEvent struct {
	shared.BaseDomainEvent
	Channel string       `json:"channel"`
	Summary BatchSummary `json:"summary"`
}

// NewBatchCompletedEvent creates a new batch completed event
func NewBatchCompletedEvent(batch *Batch) *BatchCompletedEvent {
	event := &BatchCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBatchCompleted, AggregateTypeBatch, batch.ID),
		Channel:         batch.Channel,
	}
	if batch.Summary != nil {
		event.Summary = *batch.Summary
	}
	return event
}

// BatchFailedEvent is published when a batch exhausts its retries
type BatchFailedEvent struct {
	shared.BaseDomainEvent
	Channel    string `json:"channel"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error"`
}

// NewBatchFailedEvent creates a new batch failed event
func NewBatchFailedEvent(batch *Batch) *BatchFailedEvent {
	return &BatchFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBatchFailed, AggregateTypeBatch, batch.ID),
		Channel:         batch.Channel,
		RetryCount:      batch.RetryCount,
		LastError:       batch.LastError,
	}
}

// GroupResolvedEvent is published for every duplicate group once its outcome
// is durable, in the same transaction as the ledger entries describing it
type GroupResolvedEvent struct {
	shared.BaseDomainEvent
	BatchID    uuid.UUID     `json:"batch_id"`
	Outcome    Outcome       `json:"outcome"`
	CustomerID *uuid.UUID    `json:"customer_id,omitempty"`
	MatchedBy  identity.Kind `json:"matched_by,omitempty"`
	MemberRefs []string      `json:"member_refs"`
}

// NewGroupResolvedEvent creates a new group resolved event
func NewGroupResolvedEvent(batchID uuid.UUID, group *Group, outcome Outcome, customerID *uuid.UUID, matchedBy identity.Kind) *GroupResolvedEvent {
	return &GroupResolvedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeGroupResolved, AggregateTypeBatch, batchID),
		BatchID:         batchID,
		Outcome:         outcome,
		CustomerID:      customerID,
		MatchedBy:       matchedBy,
		MemberRefs:      group.MemberRefs(),
	}
}
