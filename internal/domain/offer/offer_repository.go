package offer

import (
	"context"

	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// Repository defines the interface for offer persistence. Offers are
// addressed by their channel-scoped source reference, unique per
// (channel, source_ref), so re-processing a batch never duplicates them.
type Repository interface {
	// FindBySourceRef finds an offer by its channel-scoped source reference.
	// Returns shared.ErrNotFound when absent.
	FindBySourceRef(ctx context.Context, channel, sourceRef string) (*Offer, error)

	// FindByCustomer finds offers owned by a canonical customer
	FindByCustomer(ctx context.Context, customerID uuid.UUID, filter shared.Filter) ([]Offer, error)

	// FindByBatch finds all offers that entered through an intake batch
	FindByBatch(ctx context.Context, batchID uuid.UUID) ([]Offer, error)

	// Save creates or updates an offer
	Save(ctx context.Context, offer *Offer) error

	// CountByDedupStatus counts offers per dedup tri-state
	CountByDedupStatus(ctx context.Context, status DedupStatus) (int64, error)
}
