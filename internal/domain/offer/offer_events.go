package offer

import (
	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Aggregate type constant
const AggregateTypeOffer = "Offer"

// Event type constants
const (
	EventTypeOfferCreated  = "OfferCreated"
	EventTypeOfferAssigned = "OfferAssigned"
	EventTypeOfferDeduped  = "OfferDeduped"
)

// OfferCreatedEvent is published when an offer enters from an intake batch
type OfferCreatedEvent struct {
	shared.BaseDomainEvent
	OfferID     uuid.UUID       `json:"offer_id"`
	BatchID     uuid.UUID       `json:"batch_id"`
	Channel     string          `json:"channel"`
	SourceRef   string          `json:"source_ref"`
	ProductType ProductType     `json:"product_type"`
	Amount      decimal.Decimal `json:"amount"`
}

// NewOfferCreatedEvent creates a new OfferCreatedEvent
func NewOfferCreatedEvent(o *Offer) *OfferCreatedEvent {
	return &OfferCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOfferCreated, AggregateTypeOffer, o.ID),
		OfferID:         o.ID,
		BatchID:         o.BatchID,
		Channel:         o.Channel,
		SourceRef:       o.SourceRef,
		ProductType:     o.ProductType,
		Amount:          o.Amount,
	}
}

// OfferAssignedEvent is published when an offer is pointed at a canonical customer
type OfferAssignedEvent struct {
	shared.BaseDomainEvent
	OfferID    uuid.UUID `json:"offer_id"`
	CustomerID uuid.UUID `json:"customer_id"`
}

// NewOfferAssignedEvent creates a new OfferAssignedEvent
func NewOfferAssignedEvent(o *Offer, customerID uuid.UUID) *OfferAssignedEvent {
	return &OfferAssignedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOfferAssigned, AggregateTypeOffer, o.ID),
		OfferID:         o.ID,
		CustomerID:      customerID,
	}
}

// OfferDedupedEvent is published when a Top-up offer collapses into a primary
type OfferDedupedEvent struct {
	shared.BaseDomainEvent
	OfferID         uuid.UUID `json:"offer_id"`
	OriginalOfferID uuid.UUID `json:"original_offer_id"`
}

// NewOfferDedupedEvent creates a new OfferDedupedEvent
func NewOfferDedupedEvent(o *Offer, originalOfferID uuid.UUID) *OfferDedupedEvent {
	return &OfferDedupedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOfferDeduped, AggregateTypeOffer, o.ID),
		OfferID:         o.ID,
		OriginalOfferID: originalOfferID,
	}
}
