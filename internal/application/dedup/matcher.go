package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/offerbook/dedup/internal/infrastructure/telemetry"
)

const (
	// DefaultConflictRetries bounds how often a group is re-resolved after a
	// store-level conflict before the batch run gives up on it.
	DefaultConflictRetries = 2
	// DefaultGroupTimeout bounds the store work of a single group resolution.
	DefaultGroupTimeout = 5 * time.Second
)

// GroupResolution is the durable outcome of one group's live-book resolution.
type GroupResolution struct {
	Outcome    dedup.Outcome
	CustomerID *uuid.UUID
	MatchedBy  identity.Kind
	Created    bool
	Offers     []*offer.Offer
}

// LiveBookMatcher resolves duplicate groups against the canonical live book.
// Each group resolves inside its own transaction covering the customer
// mutation, the offer re-pointing, the ledger entries and the outbox events;
// all of them commit or roll back together.
type LiveBookMatcher struct {
	scope           TransactionScope
	conflictRetries int
	groupTimeout    time.Duration
}

// NewLiveBookMatcher creates a new LiveBookMatcher
func NewLiveBookMatcher(scope TransactionScope) *LiveBookMatcher {
	return &LiveBookMatcher{
		scope:           scope,
		conflictRetries: DefaultConflictRetries,
		groupTimeout:    DefaultGroupTimeout,
	}
}

// SetGroupTimeout overrides the per-group store timeout
func (m *LiveBookMatcher) SetGroupTimeout(timeout time.Duration) {
	if timeout > 0 {
		m.groupTimeout = timeout
	}
}

// SetConflictRetries overrides how many times a conflicted resolution is
// retried before the group run gives up.
func (m *LiveBookMatcher) SetConflictRetries(retries int) {
	if retries >= 0 {
		m.conflictRetries = retries
	}
}

// ResolveGroup resolves one duplicate group. A unique-identifier conflict
// (a concurrent batch claimed the identifier first) or an optimistic-lock
// conflict aborts the transaction; the group is then re-resolved from scratch
// in a fresh transaction, where the re-query finds the winner and the outcome
// degrades deterministically into a merge.
func (m *LiveBookMatcher) ResolveGroup(ctx context.Context, batchID uuid.UUID, group *dedup.Group, incoming []dedup.IncomingOffer) (*GroupResolution, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "dedup", "resolve_group")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrBatchID, batchID.String(),
		telemetry.SpanAttrRecordRef, group.Representative.Ref,
		telemetry.SpanAttrGroupSize, group.Size(),
	)

	var lastErr error
	for attempt := 0; attempt <= m.conflictRetries; attempt++ {
		resolution, err := m.resolveOnce(ctx, batchID, group, incoming)
		if err == nil {
			telemetry.SetAttributes(span,
				telemetry.SpanAttrOutcome, string(resolution.Outcome),
				telemetry.SpanAttrMatchedBy, resolution.MatchedBy.String(),
			)
			return resolution, nil
		}
		if !retryableConflict(err) {
			telemetry.RecordError(span, err)
			return nil, err
		}
		telemetry.AddEvent(span, "store_conflict", "attempt", attempt+1)
		lastErr = err
	}
	err := fmt.Errorf("group %s: store conflict persisted after %d attempts: %w",
		group.Representative.Ref, m.conflictRetries+1, lastErr)
	telemetry.RecordError(span, err)
	return nil, err
}

func retryableConflict(err error) bool {
	return errors.Is(err, shared.ErrDuplicateIdentifier) || errors.Is(err, shared.ErrConcurrencyConflict)
}

func (m *LiveBookMatcher) resolveOnce(ctx context.Context, batchID uuid.UUID, group *dedup.Group, incoming []dedup.IncomingOffer) (*GroupResolution, error) {
	ctx, cancel := context.WithTimeout(ctx, m.groupTimeout)
	defer cancel()

	var resolution *GroupResolution
	err := m.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		keys := group.MatchKeys()
		if len(keys) == 0 {
			// a record with no matchable identifier can never be resolved
			// back to; hold it out instead of creating an unreachable customer
			resolution, err = m.holdOut(ctx, repos, batchID, group, incoming, "no usable identifiers")
			return err
		}

		match, err := dedup.EvaluateMatch(ctx, repos.CustomerRepo(), keys)
		var ambiguous *dedup.AmbiguousMatchError
		switch {
		case errors.As(err, &ambiguous):
			resolution, err = m.holdOut(ctx, repos, batchID, group, incoming, ambiguous.Detail())
		case err != nil:
			return err
		case match == nil:
			resolution, err = m.openCustomer(ctx, repos, batchID, group, incoming)
		default:
			resolution, err = m.mergeInto(ctx, repos, batchID, group, incoming, match)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resolution, nil
}

// openCustomer handles the no-match outcome: a new canonical customer from
// the group's combined attributes.
func (m *LiveBookMatcher) openCustomer(ctx context.Context, repos TransactionalRepositories, batchID uuid.UUID, group *dedup.Group, incoming []dedup.IncomingOffer) (*GroupResolution, error) {
	cust, err := customer.NewCustomer(groupAttributes(group))
	if err != nil {
		return nil, err
	}
	if err := repos.CustomerRepo().Create(ctx, cust); err != nil {
		// a unique violation here means a concurrent batch won the identifier;
		// the caller re-resolves and merges instead
		return nil, err
	}

	offers, err := m.attachOffers(ctx, repos, batchID, group, incoming, &cust.ID)
	if err != nil {
		return nil, err
	}

	rep := group.Representative
	entries := []*dedup.LedgerEntry{
		dedup.NewCreationEntry(batchID, rep.Ref, cust.ID, "no live-book match; opened customer"),
	}
	entries = append(entries, memberMergeEntries(batchID, group, cust.ID)...)
	if err := repos.LedgerRepo().Append(ctx, entries...); err != nil {
		return nil, err
	}

	events := cust.GetDomainEvents()
	cust.ClearDomainEvents()
	events = append(events, dedup.NewGroupResolvedEvent(batchID, group, dedup.OutcomeNew, &cust.ID, identity.KindNone))
	if err := stageOutbox(ctx, repos, events...); err != nil {
		return nil, err
	}

	return &GroupResolution{
		Outcome:    dedup.OutcomeNew,
		CustomerID: &cust.ID,
		Created:    true,
		Offers:     offers,
	}, nil
}

// mergeInto handles the single-match outcome: the group folds into the
// matched customer, filling attributes the live book does not have yet.
func (m *LiveBookMatcher) mergeInto(ctx context.Context, repos TransactionalRepositories, batchID uuid.UUID, group *dedup.Group, incoming []dedup.IncomingOffer, match *dedup.Match) (*GroupResolution, error) {
	cust := match.Customer
	if _, changed := cust.Enrich(groupAttributes(group)); changed {
		if err := repos.CustomerRepo().SaveWithLock(ctx, cust); err != nil {
			return nil, err
		}
	}

	offers, err := m.attachOffers(ctx, repos, batchID, group, incoming, &cust.ID)
	if err != nil {
		return nil, err
	}

	rep := group.Representative
	entries := []*dedup.LedgerEntry{
		dedup.NewMergeEntry(batchID, rep.Ref, rep.Ref, cust.ID, match.MatchedBy, "matched live book"),
	}
	entries = append(entries, memberMergeEntries(batchID, group, cust.ID)...)
	if err := repos.LedgerRepo().Append(ctx, entries...); err != nil {
		return nil, err
	}

	events := cust.GetDomainEvents()
	cust.ClearDomainEvents()
	events = append(events, dedup.NewGroupResolvedEvent(batchID, group, dedup.OutcomeMerged, &cust.ID, match.MatchedBy))
	if err := stageOutbox(ctx, repos, events...); err != nil {
		return nil, err
	}

	return &GroupResolution{
		Outcome:    dedup.OutcomeMerged,
		CustomerID: &cust.ID,
		MatchedBy:  match.MatchedBy,
		Offers:     offers,
	}, nil
}

// holdOut handles the rejected outcomes: no customer is touched, the group's
// offers are materialized unassigned in pending state for manual resolution,
// and every member is ledgered as rejected.
func (m *LiveBookMatcher) holdOut(ctx context.Context, repos TransactionalRepositories, batchID uuid.UUID, group *dedup.Group, incoming []dedup.IncomingOffer, detail string) (*GroupResolution, error) {
	offers, err := m.attachOffers(ctx, repos, batchID, group, incoming, nil)
	if err != nil {
		return nil, err
	}

	rep := group.Representative
	entries := make([]*dedup.LedgerEntry, 0, group.Size())
	for _, member := range group.Members {
		entries = append(entries, dedup.NewRejectionEntry(batchID, member.Ref, rep.Ref, detail))
	}
	if err := repos.LedgerRepo().Append(ctx, entries...); err != nil {
		return nil, err
	}

	event := dedup.NewGroupResolvedEvent(batchID, group, dedup.OutcomeRejectedAmbiguous, nil, identity.KindNone)
	if err := stageOutbox(ctx, repos, event); err != nil {
		return nil, err
	}

	return &GroupResolution{
		Outcome: dedup.OutcomeRejectedAmbiguous,
		Offers:  offers,
	}, nil
}

// attachOffers materializes the group's offers, re-pointing them at the
// resolved customer. Offers that already exist from an earlier run of the
// same batch are kept, not duplicated; deduped ones stay untouched.
func (m *LiveBookMatcher) attachOffers(ctx context.Context, repos TransactionalRepositories, batchID uuid.UUID, group *dedup.Group, incoming []dedup.IncomingOffer, customerID *uuid.UUID) ([]*offer.Offer, error) {
	if len(incoming) == 0 {
		return nil, nil
	}

	channel := group.Representative.Channel
	attached := make([]*offer.Offer, 0, len(incoming))
	for _, in := range incoming {
		existing, err := repos.OfferRepo().FindBySourceRef(ctx, channel, in.SourceRef)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			off, err := offer.NewOffer(batchID, channel, in.SourceRef, in.RecordRef, in.ProductType, in.Amount, in.Currency, in.ValidFrom, in.ValidUntil)
			if err != nil {
				return nil, err
			}
			if customerID != nil {
				if err := off.AssignCustomer(*customerID); err != nil {
					return nil, err
				}
			}
			if err := repos.OfferRepo().Save(ctx, off); err != nil {
				return nil, err
			}
			if err := drainToOutbox(ctx, repos, off); err != nil {
				return nil, err
			}
			attached = append(attached, off)

		case err != nil:
			return nil, err

		default:
			if customerID != nil && existing.Status != offer.StatusDeduped {
				if err := existing.AssignCustomer(*customerID); err != nil {
					return nil, err
				}
				if len(existing.GetDomainEvents()) > 0 {
					if err := repos.OfferRepo().Save(ctx, existing); err != nil {
						return nil, err
					}
					if err := drainToOutbox(ctx, repos, existing); err != nil {
						return nil, err
					}
				}
			}
			attached = append(attached, existing)
		}
	}
	return attached, nil
}

// memberMergeEntries builds the ledger entries for the non-representative
// members of a resolved group.
func memberMergeEntries(batchID uuid.UUID, group *dedup.Group, customerID uuid.UUID) []*dedup.LedgerEntry {
	rep := group.Representative
	entries := make([]*dedup.LedgerEntry, 0, group.Size()-1)
	for _, member := range group.Members[1:] {
		entries = append(entries, dedup.NewMergeEntry(
			batchID, member.Ref, rep.Ref, customerID,
			group.LinkedBy[member.Ref],
			fmt.Sprintf("consolidated with %s in batch", rep.Ref),
		))
	}
	return entries
}

// groupAttributes folds the group's records into one attribute set: the
// representative leads, later members fill what is still absent.
func groupAttributes(group *dedup.Group) customer.Attributes {
	attrs := group.Representative.Attributes()
	for _, member := range group.Members[1:] {
		attrs = fillAbsent(attrs, member.Attributes())
	}
	return attrs
}

func fillAbsent(dst, src customer.Attributes) customer.Attributes {
	if dst.TaxID == "" {
		dst.TaxID = src.TaxID
	}
	if dst.Phone == "" {
		dst.Phone = src.Phone
	}
	if dst.NationalID == "" {
		dst.NationalID = src.NationalID
	}
	if dst.Email == "" {
		dst.Email = src.Email
	}
	if dst.GivenName == "" {
		dst.GivenName = src.GivenName
	}
	if dst.FamilyName == "" {
		dst.FamilyName = src.FamilyName
	}
	if dst.Birthdate == nil {
		dst.Birthdate = src.Birthdate
	}
	if dst.PostalAddress == "" {
		dst.PostalAddress = src.PostalAddress
	}
	if dst.Segment == "" {
		dst.Segment = src.Segment
	}
	return dst
}

// stageOutbox writes domain events into the outbox within the current
// transaction; the relay publishes them after commit.
func stageOutbox(ctx context.Context, repos TransactionalRepositories, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	entries := make([]*shared.OutboxEntry, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", event.EventType(), err)
		}
		entries = append(entries, shared.NewOutboxEntry(event, payload))
	}
	return repos.OutboxRepo().Save(ctx, entries...)
}

// eventCarrier is the slice of aggregate behavior the outbox drain needs.
type eventCarrier interface {
	GetDomainEvents() []shared.DomainEvent
	ClearDomainEvents()
}

// drainToOutbox stages an aggregate's pending events and clears them.
func drainToOutbox(ctx context.Context, repos TransactionalRepositories, aggregate eventCarrier) error {
	events := aggregate.GetDomainEvents()
	if len(events) == 0 {
		return nil
	}
	aggregate.ClearDomainEvents()
	return stageOutbox(ctx, repos, events...)
}
