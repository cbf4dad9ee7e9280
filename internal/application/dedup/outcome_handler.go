package dedup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// Fact types emitted on the outcome feed
const (
	FactTypeGroupResolved  = "group_resolved"
	FactTypeOfferDeduped   = "offer_deduped"
	FactTypeBatchCompleted = "batch_completed"
	FactTypeBatchFailed    = "batch_failed"
)

// OutcomeFact is one deduplication decision flattened for downstream
// consumers. Rule evaluation treats these as facts: it reacts to what the
// engine decided and never re-derives matching itself.
type OutcomeFact struct {
	FactType        string    `json:"fact_type"`
	EventID         string    `json:"event_id"`
	BatchID         string    `json:"batch_id,omitempty"`
	Channel         string    `json:"channel,omitempty"`
	Outcome         string    `json:"outcome,omitempty"`
	CustomerID      string    `json:"customer_id,omitempty"`
	MatchedBy       string    `json:"matched_by,omitempty"`
	MemberRefs      []string  `json:"member_refs,omitempty"`
	OfferID         string    `json:"offer_id,omitempty"`
	OriginalOfferID string    `json:"original_offer_id,omitempty"`
	Records         int       `json:"records,omitempty"`
	CustomersNew    int       `json:"customers_new,omitempty"`
	RecordsMerged   int       `json:"records_merged,omitempty"`
	RecordsRejected int       `json:"records_rejected,omitempty"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// OutcomeFeedPublisher forwards outcome facts to whatever consumes them.
// Implementations can push to the rule-evaluation service, a message broker,
// or anything else downstream.
type OutcomeFeedPublisher interface {
	// PublishFact delivers one outcome fact
	PublishFact(ctx context.Context, fact OutcomeFact) error
}

// OutcomeFeedHandler turns durable deduplication events into the outcome
// feed. It is driven by the outbox relay, so each fact is published at least
// once; consumers key on EventID to collapse redeliveries.
type OutcomeFeedHandler struct {
	logger    *zap.Logger
	publisher OutcomeFeedPublisher
}

// NewOutcomeFeedHandler creates a new handler for deduplication outcome events
func NewOutcomeFeedHandler(logger *zap.Logger) *OutcomeFeedHandler {
	return &OutcomeFeedHandler{
		logger: logger,
	}
}

// WithPublisher sets the publisher that delivers facts downstream
func (h *OutcomeFeedHandler) WithPublisher(publisher OutcomeFeedPublisher) *OutcomeFeedHandler {
	h.publisher = publisher
	return h
}

// EventTypes returns the event types this handler is interested in
func (h *OutcomeFeedHandler) EventTypes() []string {
	return []string{
		dedup.EventTypeGroupResolved,
		dedup.EventTypeBatchCompleted,
		dedup.EventTypeBatchFailed,
		offer.EventTypeOfferDeduped,
	}
}

// Handle translates one durable event into an outcome fact and publishes it.
// A publish failure is returned so the relay retries the entry.
func (h *OutcomeFeedHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	fact := OutcomeFact{
		EventID:    event.EventID().String(),
		OccurredAt: event.OccurredAt(),
	}

	switch e := event.(type) {
	case *dedup.GroupResolvedEvent:
		fact.FactType = FactTypeGroupResolved
		fact.BatchID = e.BatchID.String()
		fact.Outcome = string(e.Outcome)
		fact.MatchedBy = e.MatchedBy.String()
		fact.MemberRefs = e.MemberRefs
		if e.CustomerID != nil {
			fact.CustomerID = e.CustomerID.String()
		}
		h.logger.Info("group resolution fact",
			zap.String("batch_id", fact.BatchID),
			zap.String("outcome", fact.Outcome),
			zap.String("matched_by", fact.MatchedBy),
			zap.Int("member_count", len(fact.MemberRefs)),
		)

	case *offer.OfferDedupedEvent:
		fact.FactType = FactTypeOfferDeduped
		fact.OfferID = e.OfferID.String()
		fact.OriginalOfferID = e.OriginalOfferID.String()
		h.logger.Info("offer dedup fact",
			zap.String("offer_id", fact.OfferID),
			zap.String("original_offer_id", fact.OriginalOfferID),
		)

	case *dedup.BatchCompletedEvent:
		fact.FactType = FactTypeBatchCompleted
		fact.BatchID = e.AggregateID().String()
		fact.Channel = e.Channel
		fact.Records = e.Summary.Records
		fact.CustomersNew = e.Summary.CustomersCreated
		fact.RecordsMerged = e.Summary.RecordsMerged
		fact.RecordsRejected = e.Summary.RecordsRejected
		h.logger.Info("batch completion fact",
			zap.String("batch_id", fact.BatchID),
			zap.String("channel", fact.Channel),
			zap.Int("records", fact.Records),
			zap.Int("customers_new", fact.CustomersNew),
			zap.Int("records_merged", fact.RecordsMerged),
			zap.Int("records_rejected", fact.RecordsRejected),
		)

	case *dedup.BatchFailedEvent:
		fact.FactType = FactTypeBatchFailed
		fact.BatchID = e.AggregateID().String()
		fact.Channel = e.Channel
		fact.FailureReason = e.LastError
		h.logger.Warn("batch failure fact",
			zap.String("batch_id", fact.BatchID),
			zap.String("channel", fact.Channel),
			zap.Int("retry_count", e.RetryCount),
			zap.String("failure_reason", fact.FailureReason),
		)

	default:
		h.logger.Error("unexpected event type",
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type for outcome feed: %s", event.EventType())
	}

	if h.publisher != nil {
		if err := h.publisher.PublishFact(ctx, fact); err != nil {
			h.logger.Error("failed to publish outcome fact",
				zap.String("fact_type", fact.FactType),
				zap.String("event_id", fact.EventID),
				zap.Error(err),
			)
			return fmt.Errorf("publish outcome fact: %w", err)
		}
	}

	return nil
}

// Ensure OutcomeFeedHandler implements shared.EventHandler
var _ shared.EventHandler = (*OutcomeFeedHandler)(nil)

// LoggingOutcomeFeedPublisher writes facts to the log. Deployments without a
// downstream consumer wired run with this one.
type LoggingOutcomeFeedPublisher struct {
	logger *zap.Logger
}

// NewLoggingOutcomeFeedPublisher creates a new logging publisher
func NewLoggingOutcomeFeedPublisher(logger *zap.Logger) *LoggingOutcomeFeedPublisher {
	return &LoggingOutcomeFeedPublisher{
		logger: logger,
	}
}

// PublishFact logs the outcome fact
func (p *LoggingOutcomeFeedPublisher) PublishFact(ctx context.Context, fact OutcomeFact) error {
	p.logger.Info("OUTCOME FACT",
		zap.String("fact_type", fact.FactType),
		zap.String("event_id", fact.EventID),
		zap.String("batch_id", fact.BatchID),
		zap.String("outcome", fact.Outcome),
		zap.String("customer_id", fact.CustomerID),
		zap.String("offer_id", fact.OfferID),
		zap.Time("occurred_at", fact.OccurredAt),
	)
	return nil
}

// Ensure LoggingOutcomeFeedPublisher implements OutcomeFeedPublisher
var _ OutcomeFeedPublisher = (*LoggingOutcomeFeedPublisher)(nil)
