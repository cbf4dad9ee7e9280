package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/identity"
)

// Outcome is the recorded result of matching one incoming record.
type Outcome string

const (
	// OutcomeNew means the record opened a new canonical customer.
	OutcomeNew Outcome = "new"
	// OutcomeMerged means the record was folded into an existing customer,
	// either from the canonical book or from an earlier record of the same
	// batch group.
	OutcomeMerged Outcome = "merged"
	// OutcomeRejectedAmbiguous means the record was held out: its
	// identifiers matched more than one canonical customer, or it carried
	// none at all.
	OutcomeRejectedAmbiguous Outcome = "rejected_ambiguous"
)

// LedgerEntry is one append-only decision record. Every incoming record
// yields exactly one entry per processing run; entries are never updated.
type LedgerEntry struct {
	ID                uuid.UUID
	BatchID           uuid.UUID
	RecordRef         string
	RepresentativeRef string
	CustomerID        *uuid.UUID
	Outcome           Outcome
	MatchedBy         identity.Kind
	Detail            string
	CreatedAt         time.Time
}

// NewCreationEntry records that a record's group opened a new customer.
func NewCreationEntry(batchID uuid.UUID, recordRef string, customerID uuid.UUID, detail string) *LedgerEntry {
	return newLedgerEntry(batchID, recordRef, recordRef, &customerID, OutcomeNew, identity.KindNone, detail)
}

// NewMergeEntry records that a record was folded into an existing customer.
// matchedBy names the identifier kind that produced the match: the canonical
// match kind for a group representative, the intra-batch linking kind for a
// consolidated member.
func NewMergeEntry(batchID uuid.UUID, recordRef, representativeRef string, customerID uuid.UUID, matchedBy identity.Kind, detail string) *LedgerEntry {
	return newLedgerEntry(batchID, recordRef, representativeRef, &customerID, OutcomeMerged, matchedBy, detail)
}

// NewRejectionEntry records that a record was held out of the canonical book.
func NewRejectionEntry(batchID uuid.UUID, recordRef, representativeRef string, detail string) *LedgerEntry {
	return newLedgerEntry(batchID, recordRef, representativeRef, nil, OutcomeRejectedAmbiguous, identity.KindNone, detail)
}

func newLedgerEntry(batchID uuid.UUID, recordRef, representativeRef string, customerID *uuid.UUID, outcome Outcome, matchedBy identity.Kind, detail string) *LedgerEntry {
	return &LedgerEntry{
		ID:                uuid.New(),
		BatchID:           batchID,
		RecordRef:         recordRef,
		RepresentativeRef: representativeRef,
		CustomerID:        customerID,
		Outcome:           outcome,
		MatchedBy:         matchedBy,
		Detail:            detail,
		CreatedAt:         time.Now(),
	}
}

// LedgerRepository persists decision entries. The ledger is append-only;
// there is deliberately no way to update or delete an entry.
type LedgerRepository interface {
	Append(ctx context.Context, entries ...*LedgerEntry) error
	FindByBatch(ctx context.Context, batchID uuid.UUID) ([]*LedgerEntry, error)
	FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]*LedgerEntry, error)
	FindByOutcome(ctx context.Context, outcome Outcome, limit int) ([]*LedgerEntry, error)
	CountByOutcome(ctx context.Context, outcome Outcome) (int64, error)
}
