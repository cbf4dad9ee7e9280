package dedup

import (
	"sort"

	"github.com/offerbook/dedup/internal/domain/identity"
)

// Group is a set of incoming records transitively connected through shared
// strong identifiers. Members are ordered by ingestion timestamp, ties broken
// by record ref, and the first member is the representative.
type Group struct {
	Representative *IncomingRecord
	Members        []*IncomingRecord
	// LinkedBy names, per member ref, the strongest identifier kind the
	// member shares with another group member. Singleton groups have none.
	LinkedBy map[string]identity.Kind
}

// MemberRefs returns the refs of all members in group order.
func (g *Group) MemberRefs() []string {
	refs := make([]string, len(g.Members))
	for i, m := range g.Members {
		refs[i] = m.Ref
	}
	return refs
}

// Size returns the number of member records.
func (g *Group) Size() int {
	return len(g.Members)
}

// MatchKeys returns the identifiers the group matches the canonical book
// with: every distinct strong identifier across all members, strongest kind
// first. Only when no member carries a strong identifier does the
// representative's name+birthdate key stand in.
func (g *Group) MatchKeys() []identity.Identifier {
	var keys []identity.Identifier
	for _, kind := range identity.StrongKinds() {
		seen := make(map[string]bool)
		for _, m := range g.Members {
			value := m.Signature.Get(kind)
			if value == "" || seen[value] {
				continue
			}
			seen[value] = true
			keys = append(keys, identity.Identifier{Kind: kind, Value: value})
		}
	}
	if len(keys) > 0 {
		return keys
	}
	if weak := g.Representative.Signature.Get(identity.KindNameBirth); weak != "" {
		return []identity.Identifier{{Kind: identity.KindNameBirth, Value: weak}}
	}
	return nil
}

// GroupRecords partitions a batch into duplicate groups by closing shared
// strong identifiers transitively. Weak name+birthdate keys never connect
// records. Refs must be unique within the batch; output order is stable for
// identical input so reprocessing resolves groups identically.
func GroupRecords(records []*IncomingRecord) []*Group {
	if len(records) == 0 {
		return nil
	}

	ix := NewBatchIndex(records)
	uf := NewUnionFind(len(records))
	pos := make(map[string]int, len(records))
	for i, rec := range records {
		pos[rec.Ref] = i
	}

	for _, kind := range identity.StrongKinds() {
		for _, bucket := range ix.Buckets(kind) {
			anchor := pos[bucket.Records[0].Ref]
			for _, rec := range bucket.Records[1:] {
				uf.Union(anchor, pos[rec.Ref])
			}
		}
	}

	byRoot := make(map[int][]*IncomingRecord)
	for i, rec := range records {
		root := uf.Find(i)
		byRoot[root] = append(byRoot[root], rec)
	}

	groups := make([]*Group, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Slice(members, func(i, j int) bool {
			if !members[i].IngestedAt.Equal(members[j].IngestedAt) {
				return members[i].IngestedAt.Before(members[j].IngestedAt)
			}
			return members[i].Ref < members[j].Ref
		})

		group := &Group{
			Representative: members[0],
			Members:        members,
			LinkedBy:       make(map[string]identity.Kind),
		}
		if len(members) > 1 {
			for _, m := range members {
				for _, kind := range identity.StrongKinds() {
					value := m.Signature.Get(kind)
					if value != "" && len(ix.Lookup(kind, value)) > 1 {
						group.LinkedBy[m.Ref] = kind
						break
					}
				}
			}
		}
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool {
		ri, rj := groups[i].Representative, groups[j].Representative
		if !ri.IngestedAt.Equal(rj.IngestedAt) {
			return ri.IngestedAt.Before(rj.IngestedAt)
		}
		return ri.Ref < rj.Ref
	})
	return groups
}
