package event

import (
	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/offer"
)

// RegisterAllEvents registers all domain event types with the serializer.
// The outbox relay needs every type here to deserialize stored payloads;
// an unregistered type dead-letters after its retries.
func RegisterAllEvents(serializer *EventSerializer) {
	// Customer live-book events
	serializer.Register(customer.EventTypeCustomerCreated, &customer.CustomerCreatedEvent{})
	serializer.Register(customer.EventTypeCustomerEnriched, &customer.CustomerEnrichedEvent{})
	serializer.Register(customer.EventTypeCustomerStatusChanged, &customer.CustomerStatusChangedEvent{})

	// Offer events
	serializer.Register(offer.EventTypeOfferCreated, &offer.OfferCreatedEvent{})
	serializer.Register(offer.EventTypeOfferAssigned, &offer.OfferAssignedEvent{})
	serializer.Register(offer.EventTypeOfferDeduped, &offer.OfferDedupedEvent{})

	// Intake batch lifecycle events
	serializer.Register(dedup.EventTypeBatchReceived, &dedup.BatchReceivedEvent{})
	serializer.Register(dedup.EventTypeBatchCompleted, &dedup.BatchCompletedEvent{})
	serializer.Register(dedup.EventTypeBatchFailed, &dedup.BatchFailedEvent{})
	serializer.Register(dedup.EventTypeGroupResolved, &dedup.GroupResolvedEvent{})
}
