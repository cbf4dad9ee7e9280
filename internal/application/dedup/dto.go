package dedup

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// validate checks structural submission constraints. Identity semantics
// (normalization, absence) are not validated here; unusable identifier
// fields simply do not participate in matching.
var validate = validator.New()

// RecordSubmission is one incoming customer record as delivered by a channel
type RecordSubmission struct {
	Ref           string    `json:"ref" validate:"required,max=128"`
	IngestedAt    time.Time `json:"ingested_at" validate:"required"`
	TaxID         string    `json:"tax_id,omitempty" validate:"max=64"`
	Phone         string    `json:"phone,omitempty" validate:"max=64"`
	NationalID    string    `json:"national_id,omitempty" validate:"max=64"`
	Email         string    `json:"email,omitempty" validate:"omitempty,email"`
	GivenName     string    `json:"given_name,omitempty" validate:"max=200"`
	FamilyName    string    `json:"family_name,omitempty" validate:"max=200"`
	Birthdate     string    `json:"birthdate,omitempty" validate:"max=64"`
	PostalAddress string    `json:"postal_address,omitempty" validate:"max=500"`
	Segment       string    `json:"segment,omitempty" validate:"max=64"`
}

// OfferSubmission is one offer row travelling with the batch, tied to a
// record by ref
type OfferSubmission struct {
	SourceRef   string          `json:"source_ref" validate:"required,max=128"`
	RecordRef   string          `json:"record_ref" validate:"required,max=128"`
	ProductType string          `json:"product_type" validate:"required,oneof=standard topup"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Currency    string          `json:"currency" validate:"required,len=3"`
	ValidFrom   time.Time       `json:"valid_from,omitempty"`
	ValidUntil  time.Time       `json:"valid_until,omitempty"`
}

// BatchSubmission is one channel delivery: customer records plus the offers
// riding on them
type BatchSubmission struct {
	Channel string             `json:"channel" validate:"required,max=64"`
	Records []RecordSubmission `json:"records" validate:"required,min=1,dive"`
	Offers  []OfferSubmission  `json:"offers,omitempty" validate:"dive"`
}

// Validate checks the submission structurally: tag constraints, ref
// uniqueness within the batch, and that every offer references a record that
// is actually part of the submission.
func (s *BatchSubmission) Validate() error {
	if err := validate.Struct(s); err != nil {
		return shared.NewDomainErrorWithCause("INVALID_SUBMISSION", "Batch submission failed validation", err)
	}

	recordRefs := make(map[string]bool, len(s.Records))
	for _, rec := range s.Records {
		if recordRefs[rec.Ref] {
			return shared.NewDomainError("DUPLICATE_RECORD_REF", fmt.Sprintf("Record ref %q appears more than once in the batch", rec.Ref))
		}
		recordRefs[rec.Ref] = true
	}

	offerRefs := make(map[string]bool, len(s.Offers))
	for _, off := range s.Offers {
		if offerRefs[off.SourceRef] {
			return shared.NewDomainError("DUPLICATE_OFFER_REF", fmt.Sprintf("Offer source ref %q appears more than once in the batch", off.SourceRef))
		}
		offerRefs[off.SourceRef] = true
		if !recordRefs[off.RecordRef] {
			return shared.NewDomainError("UNKNOWN_RECORD_REF", fmt.Sprintf("Offer %q references record %q which is not in the batch", off.SourceRef, off.RecordRef))
		}
	}

	return nil
}

// DecodeBatchPayload parses and validates a staged batch payload.
func DecodeBatchPayload(payload []byte) (*BatchSubmission, error) {
	var submission BatchSubmission
	if err := json.Unmarshal(payload, &submission); err != nil {
		return nil, shared.NewDomainErrorWithCause("MALFORMED_PAYLOAD", "Batch payload is not valid JSON", err)
	}
	if err := submission.Validate(); err != nil {
		return nil, err
	}
	return &submission, nil
}

// toRecords converts the submission rows into normalized incoming records.
func (s *BatchSubmission) toRecords() []*dedup.IncomingRecord {
	records := make([]*dedup.IncomingRecord, 0, len(s.Records))
	for _, rec := range s.Records {
		records = append(records, dedup.NewIncomingRecord(dedup.RecordInput{
			Ref:           rec.Ref,
			Channel:       s.Channel,
			IngestedAt:    rec.IngestedAt,
			TaxID:         rec.TaxID,
			Phone:         rec.Phone,
			NationalID:    rec.NationalID,
			Email:         rec.Email,
			GivenName:     rec.GivenName,
			FamilyName:    rec.FamilyName,
			Birthdate:     rec.Birthdate,
			PostalAddress: rec.PostalAddress,
			Segment:       rec.Segment,
		}))
	}
	return records
}

// offersByRecord groups the submission's offers by their carrying record ref.
func (s *BatchSubmission) offersByRecord() map[string][]dedup.IncomingOffer {
	if len(s.Offers) == 0 {
		return nil
	}
	byRecord := make(map[string][]dedup.IncomingOffer)
	for _, off := range s.Offers {
		byRecord[off.RecordRef] = append(byRecord[off.RecordRef], dedup.IncomingOffer{
			SourceRef:   off.SourceRef,
			RecordRef:   off.RecordRef,
			ProductType: offer.ProductType(off.ProductType),
			Amount:      off.Amount,
			Currency:    off.Currency,
			ValidFrom:   off.ValidFrom,
			ValidUntil:  off.ValidUntil,
		})
	}
	return byRecord
}
