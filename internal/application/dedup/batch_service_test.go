package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/offerbook/dedup/internal/domain/shared"
)

func newBatchService(scope TransactionScope) *BatchService {
	return NewBatchService(scope, NewLiveBookMatcher(scope), NewTopupDeduper(scope))
}

func validSubmission() *BatchSubmission {
	return &BatchSubmission{
		Channel: "branch",
		Records: []RecordSubmission{
			{Ref: "r-1", IngestedAt: matcherBase, TaxID: "AB123456", GivenName: "Anna", FamilyName: "Nowak"},
			{Ref: "r-2", IngestedAt: matcherBase.Add(time.Minute), Phone: "48601222333"},
		},
		Offers: []OfferSubmission{
			{SourceRef: "of-1", RecordRef: "r-1", ProductType: "standard", Amount: decimal.NewFromInt(120000), Currency: "PLN"},
		},
	}
}

func TestBatchService_StageBatch(t *testing.T) {
	scope, _, _, _, batches, outbox := testScope()
	service := newBatchService(scope)

	batch, err := service.StageBatch(context.Background(), validSubmission())
	require.NoError(t, err)

	assert.Equal(t, dedup.BatchStatusPending, batch.Status)
	assert.Equal(t, "branch", batch.Channel)
	assert.Equal(t, 2, batch.RecordCount)
	assert.Equal(t, 1, batch.OfferCount)

	stored, err := batches.FindByID(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, stored.ID)

	// the staged payload replays to the original submission
	decoded, err := DecodeBatchPayload(batch.Payload)
	require.NoError(t, err)
	assert.Equal(t, "branch", decoded.Channel)
	require.Len(t, decoded.Records, 2)
	assert.Equal(t, "r-1", decoded.Records[0].Ref)

	assert.Equal(t, []string{dedup.EventTypeBatchReceived}, outbox.EventTypes())
}

func TestBatchService_StageBatch_RejectsInvalidSubmissions(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(s *BatchSubmission)
		wantCode string
	}{
		{
			name:     "no records",
			mutate:   func(s *BatchSubmission) { s.Records = nil },
			wantCode: "INVALID_SUBMISSION",
		},
		{
			name:     "missing channel",
			mutate:   func(s *BatchSubmission) { s.Channel = "" },
			wantCode: "INVALID_SUBMISSION",
		},
		{
			name:     "duplicate record ref",
			mutate:   func(s *BatchSubmission) { s.Records[1].Ref = "r-1" },
			wantCode: "DUPLICATE_RECORD_REF",
		},
		{
			name:     "duplicate offer source ref",
			mutate: func(s *BatchSubmission) {
				s.Offers = append(s.Offers, OfferSubmission{
					SourceRef: "of-1", RecordRef: "r-2", ProductType: "topup",
					Amount: decimal.NewFromInt(50000), Currency: "PLN",
				})
			},
			wantCode: "DUPLICATE_OFFER_REF",
		},
		{
			name:     "offer references unknown record",
			mutate:   func(s *BatchSubmission) { s.Offers[0].RecordRef = "r-99" },
			wantCode: "UNKNOWN_RECORD_REF",
		},
		{
			name:     "unknown product type",
			mutate:   func(s *BatchSubmission) { s.Offers[0].ProductType = "mortgage" },
			wantCode: "INVALID_SUBMISSION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, _, _, _, batches, _ := testScope()
			service := newBatchService(scope)

			submission := validSubmission()
			tt.mutate(submission)

			batch, err := service.StageBatch(context.Background(), submission)
			require.Error(t, err)
			assert.Nil(t, batch)

			var domainErr *shared.DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, tt.wantCode, domainErr.Code)

			counts, err := batches.CountByStatus(context.Background())
			require.NoError(t, err)
			assert.Empty(t, counts)
		})
	}
}

func TestBatchService_ProcessBatch_FullPipeline(t *testing.T) {
	scope, customers, offers, ledger, _, outbox := testScope()
	service := newBatchService(scope)

	// r-1 and r-2 are the same person reached through different channels'
	// field conventions; r-3 is somebody else entirely
	submission := &BatchSubmission{
		Channel: "branch",
		Records: []RecordSubmission{
			{Ref: "r-1", IngestedAt: matcherBase, TaxID: "AB123456", Phone: "48601222333", GivenName: "Anna", FamilyName: "Nowak"},
			{Ref: "r-2", IngestedAt: matcherBase.Add(time.Minute), Phone: "+48 601 222 333", NationalID: "90010112345"},
			{Ref: "r-3", IngestedAt: matcherBase.Add(2 * time.Minute), TaxID: "CD999999", GivenName: "Piotr", FamilyName: "Zielinski"},
		},
		Offers: []OfferSubmission{
			{SourceRef: "of-1", RecordRef: "r-1", ProductType: "topup", Amount: decimal.NewFromInt(50000), Currency: "PLN"},
			{SourceRef: "of-2", RecordRef: "r-2", ProductType: "topup", Amount: decimal.NewFromInt(50000), Currency: "PLN"},
			{SourceRef: "of-3", RecordRef: "r-3", ProductType: "standard", Amount: decimal.NewFromInt(200000), Currency: "PLN"},
		},
	}

	batch, err := service.StageBatch(context.Background(), submission)
	require.NoError(t, err)

	summary, err := service.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, dedup.BatchSummary{
		Records:          3,
		Groups:           2,
		CustomersCreated: 2,
		RecordsMerged:    1,
		Offers:           3,
		TopupPrimaries:   1,
		TopupSecondaries: 1,
	}, *summary)

	assert.Equal(t, dedup.BatchStatusCompleted, batch.Status)
	require.NotNil(t, batch.CompletedAt)
	require.NotNil(t, batch.Summary)
	assert.Equal(t, *summary, *batch.Summary)

	// r-1 and r-2 folded into one customer carrying the union of identifiers
	require.Len(t, customers.All(), 2)
	merged, err := customers.FindByIdentifier(context.Background(), identity.KindTaxID, "AB123456")
	require.NoError(t, err)
	assert.Equal(t, "48601222333", merged.Phone)
	assert.Equal(t, "90010112345", merged.NationalID)
	other, err := customers.FindByIdentifier(context.Background(), identity.KindTaxID, "CD999999")
	require.NoError(t, err)
	assert.Equal(t, "Piotr", other.GivenName)

	newCount, err := ledger.CountByOutcome(context.Background(), dedup.OutcomeNew)
	require.NoError(t, err)
	assert.EqualValues(t, 2, newCount)
	mergedCount, err := ledger.CountByOutcome(context.Background(), dedup.OutcomeMerged)
	require.NoError(t, err)
	assert.EqualValues(t, 1, mergedCount)

	// the two 50000 Top-ups collapsed: earliest stays primary, the other is
	// kept as a deduped secondary pointing back at it
	primary := offers.BySourceRef("branch", "of-1")
	secondary := offers.BySourceRef("branch", "of-2")
	require.NotNil(t, primary)
	require.NotNil(t, secondary)
	assert.Equal(t, offer.DedupPrimary, primary.DedupStatus)
	assert.Equal(t, offer.StatusActive, primary.Status)
	assert.Equal(t, offer.DedupSecondary, secondary.DedupStatus)
	assert.Equal(t, offer.StatusDeduped, secondary.Status)
	require.NotNil(t, secondary.OriginalOfferID)
	assert.Equal(t, primary.ID, *secondary.OriginalOfferID)
	require.NotNil(t, secondary.CustomerID)
	assert.Equal(t, merged.ID, *secondary.CustomerID)

	standard := offers.BySourceRef("branch", "of-3")
	require.NotNil(t, standard)
	assert.Equal(t, offer.DedupNone, standard.DedupStatus)
	assert.Equal(t, offer.StatusActive, standard.Status)

	types := outbox.EventTypes()
	assert.Contains(t, types, dedup.EventTypeBatchReceived)
	assert.Contains(t, types, dedup.EventTypeBatchCompleted)
	assert.Contains(t, types, offer.EventTypeOfferDeduped)
}

func TestBatchService_ProcessBatch_AmbiguousGroupCompletesBatch(t *testing.T) {
	scope, customers, _, ledger, _, _ := testScope()
	service := newBatchService(scope)

	seedCustomer(t, customers, customer.Attributes{TaxID: "AA111111"})
	seedCustomer(t, customers, customer.Attributes{Phone: "48555666777"})

	submission := &BatchSubmission{
		Channel: "branch",
		Records: []RecordSubmission{
			{Ref: "r-1", IngestedAt: matcherBase, TaxID: "AA111111", Phone: "48555666777"},
			{Ref: "r-2", IngestedAt: matcherBase.Add(time.Minute), TaxID: "EF777777"},
		},
	}

	batch, err := service.StageBatch(context.Background(), submission)
	require.NoError(t, err)

	summary, err := service.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)

	// ambiguity is a recorded outcome, not a fault: the batch completes
	assert.Equal(t, dedup.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 1, summary.RecordsRejected)
	assert.Equal(t, 1, summary.CustomersCreated)

	rejected, err := ledger.CountByOutcome(context.Background(), dedup.OutcomeRejectedAmbiguous)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rejected)
	require.Len(t, customers.All(), 3)
}

func TestBatchService_ProcessBatch_GroupFaultDoesNotAbortRest(t *testing.T) {
	scope, customers, _, ledger, _, _ := testScope()
	service := newBatchService(scope)

	// the first group's insert keeps hitting a store conflict that never
	// resolves; the second group must still go through
	customers.OnCreate(func(c *customer.Customer) error {
		if c.TaxID == "FAIL99" {
			return shared.ErrDuplicateIdentifier
		}
		return nil
	})

	submission := &BatchSubmission{
		Channel: "branch",
		Records: []RecordSubmission{
			{Ref: "bad-1", IngestedAt: matcherBase, TaxID: "FAIL99"},
			{Ref: "good-1", IngestedAt: matcherBase.Add(time.Minute), TaxID: "GOOD11"},
		},
	}

	batch, err := service.StageBatch(context.Background(), submission)
	require.NoError(t, err)

	summary, err := service.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Contains(t, err.Error(), "1 of 2 groups failed")

	// the healthy group resolved and its writes stand
	require.Len(t, customers.All(), 1)
	assert.Equal(t, "GOOD11", customers.All()[0].TaxID)
	require.Len(t, ledger.ByRecordRef("good-1"), 1)
	assert.Empty(t, ledger.ByRecordRef("bad-1"))

	// the batch is scheduled for another run
	assert.Equal(t, dedup.BatchStatusFailed, batch.Status)
	assert.Equal(t, 1, batch.RetryCount)
	require.NotNil(t, batch.NextRetryAt)
	assert.Contains(t, batch.LastError, "groups failed")

	// the retry run re-matches the resolved group and picks up the faulted one
	customers.OnCreate(nil)
	summary, err = service.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, dedup.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 1, summary.CustomersCreated)
	assert.Equal(t, 1, summary.RecordsMerged)
	require.Len(t, customers.All(), 2)
	require.Len(t, ledger.ByRecordRef("bad-1"), 1)
	assert.Equal(t, dedup.OutcomeNew, ledger.ByRecordRef("bad-1")[0].Outcome)
}

func TestBatchService_ProcessBatch_StoreTimeoutFailsWholeBatch(t *testing.T) {
	scope, customers, _, ledger, _, _ := testScope()
	service := newBatchService(scope)

	customers.FailFinds(context.DeadlineExceeded)

	batch, err := service.StageBatch(context.Background(), validSubmission())
	require.NoError(t, err)

	summary, err := service.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, err.Error(), "groups failed")

	// the run stopped at the first group; nothing was resolved
	assert.Empty(t, ledger.Entries())
	assert.Empty(t, customers.All())
	assert.Equal(t, dedup.BatchStatusFailed, batch.Status)
	require.NotNil(t, batch.NextRetryAt)
}

func TestBatchService_ProcessBatch_MalformedPayloadFails(t *testing.T) {
	scope, _, _, _, batches, _ := testScope()
	service := newBatchService(scope)

	batch, err := dedup.NewBatch("branch", []byte("{not json"), 1, 0)
	require.NoError(t, err)
	require.NoError(t, batches.Create(context.Background(), batch))

	summary, err := service.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Nil(t, summary)

	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "MALFORMED_PAYLOAD", domainErr.Code)
	assert.Equal(t, dedup.BatchStatusFailed, batch.Status)
}

func TestBatchService_RequeueBatch(t *testing.T) {
	scope, _, _, _, batches, _ := testScope()
	service := newBatchService(scope)

	batch, err := dedup.NewBatch("branch", []byte("{not json"), 1, 0)
	require.NoError(t, err)
	require.NoError(t, batches.Create(context.Background(), batch))

	// burn through the retry budget
	for i := 0; i < dedup.DefaultBatchMaxRetries; i++ {
		_, err = service.ProcessBatch(context.Background(), batch)
		require.Error(t, err)
	}
	require.Equal(t, dedup.BatchStatusDead, batch.Status)

	require.NoError(t, service.RequeueBatch(context.Background(), batch))

	assert.Equal(t, dedup.BatchStatusPending, batch.Status)
	assert.Equal(t, 0, batch.RetryCount)
	assert.Empty(t, batch.LastError)
	assert.Nil(t, batch.NextRetryAt)
}
