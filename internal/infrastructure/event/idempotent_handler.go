package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/offerbook/dedup/internal/infrastructure/telemetry"
)

// IdempotentHandler wraps an EventHandler with idempotency checking. The
// outbox relay delivers at-least-once, so a handler may see the same event
// twice; the wrapper collapses redeliveries to one Handle call per TTL.
type IdempotentHandler struct {
	handler shared.EventHandler
	store   shared.IdempotencyStore
	config  shared.IdempotencyConfig
	logger  *zap.Logger
	metrics *telemetry.BusinessMetrics
}

// IdempotentHandlerOption configures an IdempotentHandler.
type IdempotentHandlerOption func(*IdempotentHandler)

// WithIdempotencyConfig overrides the default idempotency configuration.
func WithIdempotencyConfig(config shared.IdempotencyConfig) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.config = config
	}
}

// WithDeliveryMetrics records each delivery outcome on the business
// metrics. Without it deliveries are only logged.
func WithDeliveryMetrics(metrics *telemetry.BusinessMetrics) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.metrics = metrics
	}
}

// NewIdempotentHandler wraps handler with idempotency checking backed by
// store.
func NewIdempotentHandler(
	handler shared.EventHandler,
	store shared.IdempotencyStore,
	logger *zap.Logger,
	opts ...IdempotentHandlerOption,
) *IdempotentHandler {
	h := &IdempotentHandler{
		handler: handler,
		store:   store,
		config:  shared.DefaultIdempotencyConfig(),
		logger:  logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// EventTypes returns the wrapped handler's subscriptions.
func (h *IdempotentHandler) EventTypes() []string {
	return h.handler.EventTypes()
}

// Handle processes the event once per event ID. A store error is logged
// and the event is processed anyway; a dropped event is worse than a
// duplicate one.
func (h *IdempotentHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if !h.config.Enabled {
		return h.handler.Handle(ctx, event)
	}

	eventID := event.EventID().String()

	isNew, err := h.store.MarkProcessed(ctx, eventID, h.config.TTL)
	if err != nil {
		h.logger.Warn("failed to check idempotency, processing anyway",
			zap.String("event_id", eventID),
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
	} else if !isNew {
		h.record(ctx, event, telemetry.EventDeliveryDuplicate)
		h.logger.Debug("duplicate event detected, skipping",
			zap.String("event_id", eventID),
			zap.String("event_type", event.EventType()),
		)
		return nil
	}

	if err := h.handler.Handle(ctx, event); err != nil {
		h.record(ctx, event, telemetry.EventDeliveryFailed)
		// Give the key back so the outbox redelivery is not thrown away as
		// a duplicate. If the release fails too, the TTL is the backstop.
		if relErr := h.store.Release(ctx, eventID); relErr != nil {
			h.logger.Warn("failed to release idempotency key after handler failure",
				zap.String("event_id", eventID),
				zap.Error(relErr),
			)
		}
		return err
	}

	h.record(ctx, event, telemetry.EventDeliveryProcessed)
	h.logger.Debug("event processed",
		zap.String("event_id", eventID),
		zap.String("event_type", event.EventType()),
	)

	return nil
}

func (h *IdempotentHandler) record(ctx context.Context, event shared.DomainEvent, result telemetry.EventDeliveryResult) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordEventDelivery(ctx, event.EventType(), result)
}

var _ shared.EventHandler = (*IdempotentHandler)(nil)
