package shared

import "context"

// EventHandler consumes domain events delivered by the bus.
type EventHandler interface {
	// Handle processes one event. Returning an error makes the outbox
	// relay schedule a redelivery, so handlers must be idempotent or
	// wrapped in the idempotency layer.
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes lists the event types the handler wants. Empty means
	// every event.
	EventTypes() []string
}

// EventPublisher is the publishing half of the bus.
type EventPublisher interface {
	// Publish delivers events to the subscribed handlers.
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventSubscriber is the subscription half of the bus.
type EventSubscriber interface {
	// Subscribe registers a handler, optionally narrowing it to the
	// given event types.
	Subscribe(handler EventHandler, eventTypes ...string)
	// Unsubscribe removes a handler from every subscription.
	Unsubscribe(handler EventHandler)
}

// EventBus is what the outbox relay publishes on: a publisher and
// subscriber with a lifecycle.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
