package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// BatchStatus represents the processing state of a staged intake batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusDead       BatchStatus = "dead"
)

// Batch retry configuration. Transient store failures retry the whole batch;
// idempotent matching makes the rerun safe.
const (
	DefaultBatchMaxRetries = 3
	DefaultBatchBackoff    = 10 * time.Second
	MaxBatchBackoff        = 10 * time.Minute
)

// BatchSummary holds the result counters of one completed processing run.
type BatchSummary struct {
	Records          int `json:"records"`
	Groups           int `json:"groups"`
	CustomersCreated int `json:"customers_created"`
	RecordsMerged    int `json:"records_merged"`
	RecordsRejected  int `json:"records_rejected"`
	Offers           int `json:"offers"`
	TopupPrimaries   int `json:"topup_primaries"`
	TopupSecondaries int `json:"topup_secondaries"`
}

// Batch is a staged intake submission: the raw records and offers of one
// channel delivery, plus the processing state the poller drives. The payload
// is kept verbatim so a retried or manually requeued batch reprocesses from
// the exact original input.
type Batch struct {
	shared.BaseAggregateRoot
	Channel     string
	Payload     []byte
	RecordCount int
	OfferCount  int
	Status      BatchStatus
	RetryCount  int
	MaxRetries  int
	LastError   string
	NextRetryAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Summary     *BatchSummary
}

// NewBatch stages a channel submission for processing.
func NewBatch(channel string, payload []byte, recordCount, offerCount int) (*Batch, error) {
	if channel == "" {
		return nil, shared.NewDomainError("EMPTY_CHANNEL", "Batch channel is required")
	}
	if recordCount <= 0 {
		return nil, shared.NewDomainError("EMPTY_BATCH", "Batch must contain at least one record")
	}

	batch := &Batch{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Channel:           channel,
		Payload:           payload,
		RecordCount:       recordCount,
		OfferCount:        offerCount,
		Status:            BatchStatusPending,
		MaxRetries:        DefaultBatchMaxRetries,
	}
	batch.AddDomainEvent(NewBatchReceivedEvent(batch))
	return batch, nil
}

// MarkProcessing transitions a pending or retryable batch into processing.
func (b *Batch) MarkProcessing() error {
	if b.Status != BatchStatusPending && b.Status != BatchStatusFailed {
		return shared.NewDomainError("INVALID_BATCH_STATE", "Only pending or failed batches can start processing")
	}
	now := time.Now()
	b.Status = BatchStatusProcessing
	b.StartedAt = &now
	b.IncrementVersion()
	return nil
}

// MarkCompleted records a successful run and its counters.
func (b *Batch) MarkCompleted(summary BatchSummary) error {
	if b.Status != BatchStatusProcessing {
		return shared.NewDomainError("INVALID_BATCH_STATE", "Only processing batches can complete")
	}
	now := time.Now()
	b.Status = BatchStatusCompleted
	b.CompletedAt = &now
	b.Summary = &summary
	b.LastError = ""
	b.NextRetryAt = nil
	b.IncrementVersion()
	b.AddDomainEvent(NewBatchCompletedEvent(b))
	return nil
}

// MarkFailed records a failed run and schedules the next retry with
// exponential backoff, or parks the batch as dead once retries are spent.
func (b *Batch) MarkFailed(errMsg string) {
	b.RetryCount++
	b.LastError = errMsg
	b.IncrementVersion()

	if b.RetryCount >= b.MaxRetries {
		b.Status = BatchStatusDead
		b.NextRetryAt = nil
		b.AddDomainEvent(NewBatchFailedEvent(b))
		return
	}
	b.Status = BatchStatusFailed
	backoff := DefaultBatchBackoff * time.Duration(1<<uint(b.RetryCount-1))
	if backoff > MaxBatchBackoff {
		backoff = MaxBatchBackoff
	}
	nextRetry := time.Now().Add(backoff)
	b.NextRetryAt = &nextRetry
}

// ResetForRetry requeues a dead batch for another full run.
func (b *Batch) ResetForRetry() error {
	if b.Status != BatchStatusDead {
		return shared.NewDomainError("INVALID_BATCH_STATE", "Only dead batches can be requeued")
	}
	b.Status = BatchStatusPending
	b.RetryCount = 0
	b.LastError = ""
	b.NextRetryAt = nil
	b.IncrementVersion()
	return nil
}

// BatchRepository defines persistence for staged intake batches.
type BatchRepository interface {
	// Create persists a newly staged batch
	Create(ctx context.Context, batch *Batch) error
	// FindByID retrieves a batch by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	// ClaimDue atomically flips due batches (pending, or failed with an
	// elapsed retry time) into processing and returns them
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Batch, error)
	// SaveWithLock updates a batch with optimistic concurrency control
	SaveWithLock(ctx context.Context, batch *Batch) error
	// FindByStatus retrieves batches in the given status, oldest first
	FindByStatus(ctx context.Context, status BatchStatus, limit int) ([]*Batch, error)
	// CountByStatus returns batch counts per status
	CountByStatus(ctx context.Context) (map[BatchStatus]int64, error)
	// DeleteCompletedBefore removes completed batches older than the cutoff
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}
