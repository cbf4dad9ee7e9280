// Package offer holds the loan-offer aggregate. Offers arrive in intake
// batches tied to incoming customer records; after resolution they point at a
// canonical customer, or stay pending while their group is held. Top-up
// offers additionally carry a dedup tri-state maintained by the batch-local
// top-up deduper.
package offer

import (
	"time"

	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ProductType distinguishes ordinary loan offers from Top-up offers
type ProductType string

const (
	TypeStandard ProductType = "standard"
	TypeTopup    ProductType = "topup"
)

// Status represents the offer lifecycle status
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusRejected  Status = "rejected"
	StatusDeduped   Status = "deduped"
	StatusCancelled Status = "cancelled"
)

// DedupStatus is the offer-level deduplication tri-state
type DedupStatus string

const (
	// DedupNone means the offer was not part of a duplicate group
	DedupNone DedupStatus = "none"
	// DedupPrimary marks the surviving representative of a duplicate group
	DedupPrimary DedupStatus = "primary"
	// DedupSecondary marks a collapsed duplicate pointing at its primary
	DedupSecondary DedupStatus = "secondary"
)

// Offer is a loan offer delivered by an origination channel
type Offer struct {
	shared.BaseAggregateRoot
	CustomerID      *uuid.UUID // nil while the carrying group is held
	BatchID         uuid.UUID
	Channel         string
	SourceRef       string // channel-scoped external offer reference
	RecordRef       string // reference of the incoming record that carried the offer
	ProductType     ProductType
	Amount          decimal.Decimal
	Currency        string
	ValidFrom       time.Time
	ValidUntil      time.Time
	Status          Status
	DedupStatus     DedupStatus
	OriginalOfferID *uuid.UUID // set on secondaries, references the primary
}

// NewOffer creates an offer from an intake batch
func NewOffer(batchID uuid.UUID, channel, sourceRef, recordRef string, productType ProductType, amount decimal.Decimal, currency string, validFrom, validUntil time.Time) (*Offer, error) {
	if sourceRef == "" {
		return nil, shared.NewDomainError("INVALID_SOURCE_REF", "Offer source reference cannot be empty")
	}
	if err := validateProductType(productType); err != nil {
		return nil, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Offer amount must be positive")
	}
	if !validFrom.IsZero() && !validUntil.IsZero() && validUntil.Before(validFrom) {
		return nil, shared.NewDomainError("INVALID_VALIDITY", "Offer validity window ends before it starts")
	}

	o := &Offer{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		BatchID:           batchID,
		Channel:           channel,
		SourceRef:         sourceRef,
		RecordRef:         recordRef,
		ProductType:       productType,
		Amount:            amount,
		Currency:          currency,
		ValidFrom:         validFrom,
		ValidUntil:        validUntil,
		Status:            StatusPending,
		DedupStatus:       DedupNone,
	}

	o.AddDomainEvent(NewOfferCreatedEvent(o))

	return o, nil
}

// IsTopup returns true for Top-up offers
func (o *Offer) IsTopup() bool {
	return o.ProductType == TypeTopup
}

// AssignCustomer points the offer at a canonical customer and activates it.
// Offers of held groups are never assigned and stay pending.
func (o *Offer) AssignCustomer(customerID uuid.UUID) error {
	if o.Status == StatusDeduped {
		return shared.NewDomainError("OFFER_DEDUPED", "Deduped offers are excluded from further processing")
	}
	if o.CustomerID != nil && *o.CustomerID != customerID {
		return shared.NewDomainError("OFFER_REASSIGNMENT", "Offer already belongs to a different customer")
	}
	if o.CustomerID != nil && *o.CustomerID == customerID {
		// reprocessing an already-attached offer is a no-op
		return nil
	}

	id := customerID
	o.CustomerID = &id
	if o.Status == StatusPending {
		o.Status = StatusActive
	}
	o.UpdatedAt = time.Now()
	o.IncrementVersion()

	o.AddDomainEvent(NewOfferAssignedEvent(o, customerID))

	return nil
}

// MarkPrimary marks the offer as the surviving representative of a Top-up
// duplicate group
func (o *Offer) MarkPrimary() error {
	if !o.IsTopup() {
		return shared.NewDomainError("NOT_TOPUP", "Only Top-up offers participate in offer-level dedup")
	}
	if o.DedupStatus == DedupSecondary {
		return shared.NewDomainError("ALREADY_SECONDARY", "Offer is already a collapsed duplicate")
	}
	if o.DedupStatus == DedupPrimary {
		return nil
	}

	o.DedupStatus = DedupPrimary
	o.UpdatedAt = time.Now()
	o.IncrementVersion()

	return nil
}

// MarkSecondary collapses the offer into the given primary: dedup status
// becomes secondary, the lifecycle status becomes deduped and the offer is
// excluded from further processing. Never deleted.
func (o *Offer) MarkSecondary(originalOfferID uuid.UUID) error {
	if !o.IsTopup() {
		return shared.NewDomainError("NOT_TOPUP", "Only Top-up offers participate in offer-level dedup")
	}
	if o.DedupStatus == DedupPrimary {
		return shared.NewDomainError("ALREADY_PRIMARY", "Offer is the surviving representative of its group")
	}
	if originalOfferID == o.ID {
		return shared.NewDomainError("SELF_REFERENCE", "Offer cannot be a duplicate of itself")
	}
	if o.DedupStatus == DedupSecondary && o.OriginalOfferID != nil && *o.OriginalOfferID == originalOfferID {
		return nil
	}

	id := originalOfferID
	o.DedupStatus = DedupSecondary
	o.OriginalOfferID = &id
	o.Status = StatusDeduped
	o.UpdatedAt = time.Now()
	o.IncrementVersion()

	o.AddDomainEvent(NewOfferDedupedEvent(o, originalOfferID))

	return nil
}

// Expire marks the offer as past its validity window
func (o *Offer) Expire() error {
	if o.Status != StatusActive && o.Status != StatusPending {
		return shared.NewDomainError("INVALID_STATE", "Only pending or active offers can expire")
	}
	o.Status = StatusExpired
	o.UpdatedAt = time.Now()
	o.IncrementVersion()
	return nil
}

// Reject marks the offer as rejected by a downstream decision
func (o *Offer) Reject() error {
	if o.Status == StatusDeduped || o.Status == StatusCancelled {
		return shared.NewDomainError("INVALID_STATE", "Offer is no longer eligible for rejection")
	}
	o.Status = StatusRejected
	o.UpdatedAt = time.Now()
	o.IncrementVersion()
	return nil
}

// Cancel withdraws the offer
func (o *Offer) Cancel() error {
	if o.Status == StatusDeduped {
		return shared.NewDomainError("INVALID_STATE", "Deduped offers cannot be cancelled")
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()
	o.IncrementVersion()
	return nil
}

// IsValidAt reports whether the moment falls inside the validity window.
// Open window edges do not constrain.
func (o *Offer) IsValidAt(at time.Time) bool {
	if !o.ValidFrom.IsZero() && at.Before(o.ValidFrom) {
		return false
	}
	if !o.ValidUntil.IsZero() && at.After(o.ValidUntil) {
		return false
	}
	return true
}

func validateProductType(t ProductType) error {
	switch t {
	case TypeStandard, TypeTopup:
		return nil
	default:
		return shared.NewDomainError("INVALID_PRODUCT_TYPE", "Offer product type must be 'standard' or 'topup'")
	}
}
