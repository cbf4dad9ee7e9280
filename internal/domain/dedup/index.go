package dedup

import (
	"sort"

	"github.com/offerbook/dedup/internal/domain/identity"
)

// IndexBucket is the set of records in a batch sharing one identifier value.
// Records keep their batch order.
type IndexBucket struct {
	Value   string
	Records []*IncomingRecord
}

// BatchIndex is an in-memory identifier index scoped to a single batch. It
// answers value lookups per identifier kind and exposes its buckets in a
// deterministic order so grouping produces stable output for the same input.
type BatchIndex struct {
	byKind map[identity.Kind]map[string][]*IncomingRecord
}

// NewBatchIndex builds the index over every matchable identifier of the given
// records. The weak fallback key is indexed too but only enters a record's
// bucket set when the record carries no strong identifier.
func NewBatchIndex(records []*IncomingRecord) *BatchIndex {
	ix := &BatchIndex{
		byKind: make(map[identity.Kind]map[string][]*IncomingRecord),
	}
	for _, rec := range records {
		for _, id := range rec.Signature.Matchable() {
			bucket := ix.byKind[id.Kind]
			if bucket == nil {
				bucket = make(map[string][]*IncomingRecord)
				ix.byKind[id.Kind] = bucket
			}
			bucket[id.Value] = append(bucket[id.Value], rec)
		}
	}
	return ix
}

// Lookup returns the records carrying the given identifier value, in batch
// order, or nil when the value is unseen.
func (ix *BatchIndex) Lookup(kind identity.Kind, value string) []*IncomingRecord {
	if value == "" {
		return nil
	}
	return ix.byKind[kind][value]
}

// Buckets returns all value buckets for one identifier kind, sorted by value.
func (ix *BatchIndex) Buckets(kind identity.Kind) []IndexBucket {
	values := ix.byKind[kind]
	if len(values) == 0 {
		return nil
	}
	buckets := make([]IndexBucket, 0, len(values))
	for value, records := range values {
		buckets = append(buckets, IndexBucket{Value: value, Records: records})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Value < buckets[j].Value
	})
	return buckets
}
