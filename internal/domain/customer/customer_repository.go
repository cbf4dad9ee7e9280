package customer

import (
	"context"

	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// Repository defines the interface for canonical customer persistence.
// It is the live-book side of the identity index: strong-identifier lookups
// return at most one active customer, guaranteed by partial unique indexes
// in the store. Customers are never deleted, only deactivated.
type Repository interface {
	// FindByID finds a customer by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Customer, error)

	// FindByIdentifier finds the active customer holding the normalized
	// identifier value. Returns shared.ErrNotFound when no active customer
	// carries it.
	FindByIdentifier(ctx context.Context, kind identity.Kind, value string) (*Customer, error)

	// FindAll finds all customers matching the filter
	FindAll(ctx context.Context, filter shared.Filter) ([]Customer, error)

	// Create inserts a new customer. Returns shared.ErrDuplicateIdentifier
	// when another active customer already holds one of its strong
	// identifiers.
	Create(ctx context.Context, customer *Customer) error

	// SaveWithLock updates a customer with an optimistic version check.
	// Returns shared.ErrConcurrencyConflict when the stored version moved,
	// and shared.ErrDuplicateIdentifier when a newly filled identifier
	// collided with another active customer.
	SaveWithLock(ctx context.Context, customer *Customer) error

	// Count counts customers matching the filter
	Count(ctx context.Context, filter shared.Filter) (int64, error)

	// CountByStatus counts customers by lifecycle status
	CountByStatus(ctx context.Context, status Status) (int64, error)
}
