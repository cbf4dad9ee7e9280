// Package dedup holds the deduplication core: incoming records and their
// batch-scoped identity index, transitive duplicate grouping, live-book match
// evaluation, the decision ledger, and the staged intake batch.
package dedup

import (
	"time"

	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/shopspring/decimal"
)

// RecordInput carries the raw identity fields of one incoming record as
// delivered by an origination channel. Field syntax is the upstream
// validator's responsibility; unusable identifiers simply end up absent.
type RecordInput struct {
	Ref           string
	Channel       string
	IngestedAt    time.Time
	TaxID         string
	Phone         string
	NationalID    string
	Email         string
	GivenName     string
	FamilyName    string
	Birthdate     string
	PostalAddress string
	Segment       string
}

// IncomingRecord is an ephemeral customer record inside one dedup run. It is
// consumed into an existing or new canonical customer and never persisted on
// its own.
type IncomingRecord struct {
	ID            uuid.UUID
	Ref           string
	Channel       string
	IngestedAt    time.Time
	Email         string
	GivenName     string
	FamilyName    string
	Birthdate     *time.Time
	PostalAddress string
	Segment       string
	Signature     identity.Signature
}

// NewIncomingRecord normalizes a raw record into its matching form.
// Normalization never fails; unparsable fields do not participate.
func NewIncomingRecord(in RecordInput) *IncomingRecord {
	rec := &IncomingRecord{
		ID:            uuid.New(),
		Ref:           in.Ref,
		Channel:       in.Channel,
		IngestedAt:    in.IngestedAt,
		Email:         in.Email,
		GivenName:     in.GivenName,
		FamilyName:    in.FamilyName,
		PostalAddress: in.PostalAddress,
		Segment:       in.Segment,
	}

	if parsed, ok := identity.ParseBirthdate(in.Birthdate); ok {
		rec.Birthdate = &parsed
	}

	var birth time.Time
	if rec.Birthdate != nil {
		birth = *rec.Birthdate
	}
	fullName := in.GivenName + " " + in.FamilyName
	rec.Signature = identity.NewSignature(in.TaxID, in.Phone, in.NationalID, fullName, birth)

	return rec
}

// IncomingOffer is an offer row travelling with a batch. It references its
// carrying record by ref; the offer aggregate is only materialized once that
// record has resolved to a canonical customer.
type IncomingOffer struct {
	SourceRef   string
	RecordRef   string
	ProductType offer.ProductType
	Amount      decimal.Decimal
	Currency    string
	ValidFrom   time.Time
	ValidUntil  time.Time
}

// Attributes converts the record into canonical customer attributes.
// Identifiers are carried in normalized form, display attributes as given.
func (r *IncomingRecord) Attributes() customer.Attributes {
	return customer.Attributes{
		TaxID:         r.Signature.TaxID,
		Phone:         r.Signature.Phone,
		NationalID:    r.Signature.NationalID,
		Email:         r.Email,
		GivenName:     r.GivenName,
		FamilyName:    r.FamilyName,
		Birthdate:     r.Birthdate,
		PostalAddress: r.PostalAddress,
		Segment:       r.Segment,
		SourceChannel: r.Channel,
	}
}
