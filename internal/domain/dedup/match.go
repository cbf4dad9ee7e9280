package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// CandidateLookup is the canonical side of the identity index. It answers
// which active customer currently holds a normalized identifier value.
// customer.Repository satisfies it.
type CandidateLookup interface {
	FindByIdentifier(ctx context.Context, kind identity.Kind, value string) (*customer.Customer, error)
}

// Match is a resolved canonical customer together with the strongest
// identifier kind that produced it.
type Match struct {
	Customer  *customer.Customer
	MatchedBy identity.Kind
}

// Candidate names one canonical customer hit during match evaluation.
type Candidate struct {
	CustomerID uuid.UUID
	MatchedBy  identity.Kind
}

// AmbiguousMatchError reports that a group's identifiers point at more than
// one distinct canonical customer. Such groups are held out for manual
// review, never auto-resolved.
type AmbiguousMatchError struct {
	Candidates []Candidate
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("identifiers match %d distinct customers", len(e.Candidates))
}

// Detail renders the conflicting candidates for the decision ledger.
// Identifier values stay out of it; the ledger is not a place for raw PII.
func (e *AmbiguousMatchError) Detail() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = fmt.Sprintf("%s via %s", c.CustomerID, c.MatchedBy)
	}
	return "conflicting candidates: " + strings.Join(parts, ", ")
}

// EvaluateMatch queries every match key against the canonical book, strongest
// kind first, and attributes the match to the first kind that produced a
// candidate. Every key is evaluated even after a hit: a second distinct
// customer surfacing under any kind makes the result ambiguous. No match at
// all returns (nil, nil).
func EvaluateMatch(ctx context.Context, lookup CandidateLookup, keys []identity.Identifier) (*Match, error) {
	var (
		match      *Match
		candidates []Candidate
		seen       = make(map[uuid.UUID]bool)
	)
	for _, key := range keys {
		cust, err := lookup.FindByIdentifier(ctx, key.Kind, key.Value)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("lookup by %s: %w", key.Kind, err)
		}
		if seen[cust.ID] {
			continue
		}
		seen[cust.ID] = true
		candidates = append(candidates, Candidate{CustomerID: cust.ID, MatchedBy: key.Kind})
		if match == nil {
			match = &Match{Customer: cust, MatchedBy: key.Kind}
		}
	}
	if len(candidates) > 1 {
		return nil, &AmbiguousMatchError{Candidates: candidates}
	}
	return match, nil
}
