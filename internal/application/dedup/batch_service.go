package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/infrastructure/telemetry"
)

// BatchService drives the dedup pipeline for staged intake batches:
// decode, normalize, group, resolve each group against the live book,
// collapse Top-up duplicates, and record the run on the batch itself.
type BatchService struct {
	scope   TransactionScope
	matcher *LiveBookMatcher
	topup   *TopupDeduper
}

// NewBatchService creates a new BatchService
func NewBatchService(scope TransactionScope, matcher *LiveBookMatcher, topup *TopupDeduper) *BatchService {
	return &BatchService{
		scope:   scope,
		matcher: matcher,
		topup:   topup,
	}
}

// StageBatch validates a channel submission and stages it for processing.
// The raw payload is kept verbatim so retries reprocess the original input.
func (s *BatchService) StageBatch(ctx context.Context, submission *BatchSubmission) (*dedup.Batch, error) {
	if err := submission.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}
	batch, err := dedup.NewBatch(submission.Channel, payload, len(submission.Records), len(submission.Offers))
	if err != nil {
		return nil, err
	}

	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.BatchRepo().Create(ctx, batch); err != nil {
			return err
		}
		return drainToOutbox(ctx, repos, batch)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// ProcessBatch runs the full dedup pipeline over one batch. On success the
// batch is marked completed with its summary; on failure it is marked failed
// with a retry schedule (or dead once retries are spent) and the error is
// returned to the caller.
//
// One group's fault does not abort the rest of the batch: the remaining
// groups still resolve, then the batch as a whole is marked failed so the
// faulted groups get another run. Reprocessing is idempotent, so groups that
// already resolved simply re-match to the same canonical customer. A store
// timeout stops the run immediately; there is no point resolving further
// groups against an unreachable store.
func (s *BatchService) ProcessBatch(ctx context.Context, batch *dedup.Batch) (*dedup.BatchSummary, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "dedup", "process_batch",
		telemetry.WithAttribute(telemetry.SpanAttrBatchID, batch.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrChannel, batch.Channel),
	)
	defer span.End()

	if batch.Status != dedup.BatchStatusProcessing {
		if err := batch.MarkProcessing(); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		if err := s.persistBatch(ctx, batch); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	submission, err := DecodeBatchPayload(batch.Payload)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.failBatch(ctx, batch, err)
	}

	records := submission.toRecords()
	recordsByRef := make(map[string]*dedup.IncomingRecord, len(records))
	for _, rec := range records {
		recordsByRef[rec.Ref] = rec
	}
	offersByRecord := submission.offersByRecord()
	groups := dedup.GroupRecords(records)
	telemetry.SetAttributes(span,
		telemetry.SpanAttrRecordCount, len(records),
		"group_count", len(groups),
	)

	summary := dedup.BatchSummary{
		Records: len(records),
		Groups:  len(groups),
		Offers:  len(submission.Offers),
	}
	var (
		carriers  []TopupCarrier
		groupErrs []error
	)
	for _, group := range groups {
		resolution, err := s.matcher.ResolveGroup(ctx, batch.ID, group, collectGroupOffers(group, offersByRecord))
		if err != nil {
			if transientFailure(err) {
				telemetry.RecordError(span, err)
				return nil, s.failBatch(ctx, batch, err)
			}
			groupErrs = append(groupErrs, fmt.Errorf("group %s: %w", group.Representative.Ref, err))
			continue
		}

		switch resolution.Outcome {
		case dedup.OutcomeNew:
			summary.CustomersCreated++
			summary.RecordsMerged += group.Size() - 1
		case dedup.OutcomeMerged:
			summary.RecordsMerged += group.Size()
		case dedup.OutcomeRejectedAmbiguous:
			summary.RecordsRejected += group.Size()
		}

		for _, off := range resolution.Offers {
			if off.IsTopup() {
				carriers = append(carriers, TopupCarrier{Offer: off, Record: recordsByRef[off.RecordRef]})
			}
		}
	}

	if len(groupErrs) > 0 {
		err := fmt.Errorf("%d of %d groups failed, first: %w", len(groupErrs), len(groups), groupErrs[0])
		telemetry.RecordError(span, err)
		return nil, s.failBatch(ctx, batch, err)
	}

	topupResult, err := s.topup.Dedupe(ctx, carriers)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.failBatch(ctx, batch, err)
	}
	summary.TopupPrimaries = topupResult.Primaries
	summary.TopupSecondaries = topupResult.Secondaries

	if err := batch.MarkCompleted(summary); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.persistBatch(ctx, batch); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.AddEvent(span, "batch_completed",
		"customers_created", summary.CustomersCreated,
		"records_merged", summary.RecordsMerged,
		"records_rejected", summary.RecordsRejected,
		"topup_secondaries", summary.TopupSecondaries,
	)
	return &summary, nil
}

// RequeueBatch puts a dead batch back in line for a full rerun.
func (s *BatchService) RequeueBatch(ctx context.Context, batch *dedup.Batch) error {
	if err := batch.ResetForRetry(); err != nil {
		return err
	}
	return s.persistBatch(ctx, batch)
}

// failBatch records the failure on the batch and hands the cause back.
func (s *BatchService) failBatch(ctx context.Context, batch *dedup.Batch, cause error) error {
	batch.MarkFailed(cause.Error())
	if err := s.persistBatch(ctx, batch); err != nil {
		return fmt.Errorf("%w (recording batch failure also failed: %v)", cause, err)
	}
	return cause
}

// persistBatch saves the batch together with its pending events.
func (s *BatchService) persistBatch(ctx context.Context, batch *dedup.Batch) error {
	return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.BatchRepo().SaveWithLock(ctx, batch); err != nil {
			return err
		}
		return drainToOutbox(ctx, repos, batch)
	})
}

// transientFailure reports whether the error is an infrastructure failure
// that warrants a whole-batch retry rather than a per-group fault.
func transientFailure(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// collectGroupOffers gathers the incoming offers riding on any member of the
// group, in member order.
func collectGroupOffers(group *dedup.Group, byRecord map[string][]dedup.IncomingOffer) []dedup.IncomingOffer {
	if len(byRecord) == 0 {
		return nil
	}
	var collected []dedup.IncomingOffer
	for _, member := range group.Members {
		collected = append(collected, byRecord[member.Ref]...)
	}
	return collected
}
