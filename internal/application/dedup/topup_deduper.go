package dedup

import (
	"context"
	"sort"

	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/offer"
)

// TopupCarrier pairs a materialized Top-up offer with the incoming record
// that carried it into the batch.
type TopupCarrier struct {
	Offer  *offer.Offer
	Record *dedup.IncomingRecord
}

// TopupResult summarizes one Top-up dedup pass.
type TopupResult struct {
	Primaries   int
	Secondaries int
}

// TopupDeduper collapses duplicate Top-up offers within a single batch.
// Top-up offers are grouped transitively by the strong identifiers of their
// carrying records only; the live book is never consulted and non-Top-up
// offers never participate. This runs regardless of how the customer-level
// resolution went, so Top-up duplicates collapse even in held-out groups.
type TopupDeduper struct {
	scope TransactionScope
}

// NewTopupDeduper creates a new TopupDeduper
func NewTopupDeduper(scope TransactionScope) *TopupDeduper {
	return &TopupDeduper{scope: scope}
}

// Dedupe marks one representative per duplicate cluster as primary and
// collapses the rest into secondaries pointing at it. Clusters of one are
// left alone: an offer with no duplicate keeps its not-deduped status.
// The whole pass runs in one transaction.
func (d *TopupDeduper) Dedupe(ctx context.Context, carriers []TopupCarrier) (*TopupResult, error) {
	topups := make([]TopupCarrier, 0, len(carriers))
	for _, c := range carriers {
		if c.Offer != nil && c.Record != nil && c.Offer.IsTopup() {
			topups = append(topups, c)
		}
	}
	result := &TopupResult{}
	if len(topups) < 2 {
		return result, nil
	}

	// representative selection mirrors record grouping: earliest carrying
	// record wins, ties broken by offer source ref. Both are stable across
	// reruns, so reprocessing picks the same primaries.
	sort.Slice(topups, func(i, j int) bool {
		ri, rj := topups[i].Record, topups[j].Record
		if !ri.IngestedAt.Equal(rj.IngestedAt) {
			return ri.IngestedAt.Before(rj.IngestedAt)
		}
		return topups[i].Offer.SourceRef < topups[j].Offer.SourceRef
	})

	uf := dedup.NewUnionFind(len(topups))
	for _, kind := range identity.StrongKinds() {
		anchors := make(map[string]int)
		for i, c := range topups {
			value := c.Record.Signature.Get(kind)
			if value == "" {
				continue
			}
			if anchor, ok := anchors[value]; ok {
				uf.Union(anchor, i)
			} else {
				anchors[value] = i
			}
		}
	}

	clusters := make(map[int][]int)
	for i := range topups {
		root := uf.Find(i)
		clusters[root] = append(clusters[root], i)
	}
	roots := make([]int, 0, len(clusters))
	for root, members := range clusters {
		if len(members) > 1 {
			roots = append(roots, root)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return clusters[roots[i]][0] < clusters[roots[j]][0]
	})

	err := d.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		for _, root := range roots {
			members := clusters[root]
			primary := topups[members[0]].Offer

			version := primary.Version
			if err := primary.MarkPrimary(); err != nil {
				return err
			}
			if primary.Version != version {
				if err := repos.OfferRepo().Save(ctx, primary); err != nil {
					return err
				}
				if err := drainToOutbox(ctx, repos, primary); err != nil {
					return err
				}
			}
			result.Primaries++

			for _, idx := range members[1:] {
				secondary := topups[idx].Offer
				version := secondary.Version
				if err := secondary.MarkSecondary(primary.ID); err != nil {
					return err
				}
				if secondary.Version != version {
					if err := repos.OfferRepo().Save(ctx, secondary); err != nil {
						return err
					}
					if err := drainToOutbox(ctx, repos, secondary); err != nil {
						return err
					}
				}
				result.Secondaries++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
