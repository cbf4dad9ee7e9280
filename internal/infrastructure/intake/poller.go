package intake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/offerbook/dedup/internal/infrastructure/logger"
	"github.com/offerbook/dedup/internal/infrastructure/telemetry"
)

// claimKeyPrefix namespaces batch claim leases in the idempotency store.
const claimKeyPrefix = "batch-claim:"

const (
	defaultCleanupRetention = 30 * 24 * time.Hour
	defaultCleanupInterval  = time.Hour
)

// BatchProcessor runs the dedup pipeline over one claimed batch. Satisfied
// by application/dedup.BatchService.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch *dedup.Batch) (*dedup.BatchSummary, error)
}

// PollerConfig holds configuration for the staging poller
type PollerConfig struct {
	PollInterval time.Duration
	ClaimLimit   int
	BatchTimeout time.Duration
	ClaimTTL     time.Duration

	// CleanupEnabled turns on the retention sweep over completed batches.
	// Completed rows keep their full submission payload, so without the
	// sweep the staging table grows without bound.
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultPollerConfig returns default configuration
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		PollInterval:     10 * time.Second,
		ClaimLimit:       5,
		BatchTimeout:     5 * time.Minute,
		ClaimTTL:         10 * time.Minute,
		CleanupRetention: defaultCleanupRetention,
		CleanupInterval:  defaultCleanupInterval,
	}
}

// Poller drains the intake staging table. Each tick it atomically claims due
// batches (pending, or failed with an elapsed retry time), takes a lease per
// batch in the idempotency store so a second poller instance never drives the
// same batch, and runs the pipeline under a per-batch timeout. Failure
// bookkeeping (backoff, dead-lettering) lives on the batch aggregate; the
// poller only decides when a batch runs.
type Poller struct {
	batches   dedup.BatchRepository
	processor BatchProcessor
	claims    shared.IdempotencyStore
	config    PollerConfig
	logger    *zap.Logger
	metrics   *telemetry.BusinessMetrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a new staging poller. Unset cleanup fields get defaults.
func NewPoller(
	batches dedup.BatchRepository,
	processor BatchProcessor,
	claims shared.IdempotencyStore,
	config PollerConfig,
	log *zap.Logger,
) *Poller {
	if config.CleanupRetention <= 0 {
		config.CleanupRetention = defaultCleanupRetention
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}

	return &Poller{
		batches:   batches,
		processor: processor,
		claims:    claims,
		config:    config,
		logger:    log,
	}
}

// SetMetrics attaches business metrics recording to batch runs. Runs are not
// recorded when no metrics are set.
func (p *Poller) SetMetrics(bm *telemetry.BusinessMetrics) {
	p.metrics = bm
}

// Start starts the background polling loop
func (p *Poller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.pollLoop(ctx)

	if p.config.CleanupEnabled {
		p.wg.Add(1)
		go p.cleanupLoop(ctx)
	}

	p.logger.Info("intake poller started",
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Int("claim_limit", p.config.ClaimLimit),
		zap.Duration("batch_timeout", p.config.BatchTimeout),
	)

	return nil
}

// Stop stops the poller, waiting for the in-flight batch to finish.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("intake poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain claims one round of due batches and runs them sequentially. Batches
// already claimed by another instance are skipped by ClaimDue's row locking;
// sequential execution keeps one poller from competing with itself for the
// canonical store.
func (p *Poller) drain(ctx context.Context) {
	claimed, err := p.batches.ClaimDue(ctx, time.Now(), p.config.ClaimLimit)
	if err != nil {
		p.logger.Error("failed to claim due batches", zap.Error(err))
		return
	}

	for _, batch := range claimed {
		if ctx.Err() != nil {
			return
		}
		p.runBatch(ctx, batch)
	}
}

func (p *Poller) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanup(ctx)
		}
	}
}

// cleanup sweeps completed batches past the retention window. Failed and
// dead batches are kept: they are the operator's requeue surface.
func (p *Poller) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupRetention)
	deleted, err := p.batches.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to clean up completed batches", zap.Error(err))
		return
	}

	if deleted > 0 {
		p.logger.Info("cleaned up completed batches",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
}

// runBatch takes the claim lease and drives the pipeline over one batch.
// The run owns the root span, so the lease bookkeeping and the pipeline
// show up under one trace and the outcome logs carry its trace ID.
func (p *Poller) runBatch(ctx context.Context, batch *dedup.Batch) {
	ctx, span := telemetry.StartServiceSpan(ctx, "intake", "run_batch",
		telemetry.WithAttribute(telemetry.SpanAttrBatchID, batch.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrChannel, batch.Channel),
	)
	defer span.End()

	ctx, log := logger.WithBatchID(ctx, p.logger, batch.ID.String())
	ctx, log = logger.WithChannel(ctx, log, batch.Channel)
	log = logger.WithTraceContext(ctx, log)

	leased, err := p.claims.MarkProcessed(ctx, claimKey(batch.ID), p.config.ClaimTTL)
	if err != nil {
		// Proceed without the lease: the database row claim plus optimistic
		// locking still prevent conflicting writes, and stalling intake on a
		// store outage would be worse than a redundant run.
		log.Warn("failed to take batch claim lease, processing anyway", zap.Error(err))
	} else if !leased {
		log.Warn("batch claim lease held elsewhere, skipping",
			zap.Int("retry_count", batch.RetryCount),
		)
		return
	} else {
		// Release on completion so the retry schedule, not the lease TTL,
		// decides when a failed batch runs again.
		defer func() {
			if err := p.claims.Release(ctx, claimKey(batch.ID)); err != nil {
				log.Warn("failed to release batch claim lease", zap.Error(err))
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, p.config.BatchTimeout)
	defer cancel()

	started := time.Now()
	var (
		summary *dedup.BatchSummary
		runErr  error
	)
	telemetry.WithProfilingLabels(runCtx, telemetry.BatchRunLabels("process_batch", batch.Channel), func(c context.Context) {
		summary, runErr = p.processor.ProcessBatch(c, batch)
	})
	elapsed := time.Since(started)
	p.recordRun(ctx, batch, summary, runErr, elapsed)
	if runErr != nil {
		telemetry.RecordError(span, runErr)
		log.Error("batch run failed",
			zap.String("status", string(batch.Status)),
			zap.Int("retry_count", batch.RetryCount),
			zap.Duration("elapsed", elapsed),
			zap.Error(runErr),
		)
		return
	}

	log.Info("batch completed",
		zap.Int("records", summary.Records),
		zap.Int("groups", summary.Groups),
		zap.Int("customers_created", summary.CustomersCreated),
		zap.Int("records_merged", summary.RecordsMerged),
		zap.Int("records_rejected", summary.RecordsRejected),
		zap.Int("topup_secondaries", summary.TopupSecondaries),
		zap.Duration("elapsed", elapsed),
	)
}

// recordRun feeds the batch outcome into business metrics when configured.
func (p *Poller) recordRun(ctx context.Context, batch *dedup.Batch, summary *dedup.BatchSummary, runErr error, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	if runErr != nil || summary == nil {
		p.metrics.RecordBatchRun(ctx, batch.Channel, telemetry.BatchResultFailed, elapsed)
		return
	}
	p.metrics.RecordBatchRun(ctx, batch.Channel, telemetry.BatchResultCompleted, elapsed)
	p.metrics.RecordResolvedRecords(ctx, batch.Channel, string(dedup.OutcomeNew), int64(summary.CustomersCreated))
	p.metrics.RecordResolvedRecords(ctx, batch.Channel, string(dedup.OutcomeMerged), int64(summary.RecordsMerged))
	p.metrics.RecordResolvedRecords(ctx, batch.Channel, string(dedup.OutcomeRejectedAmbiguous), int64(summary.RecordsRejected))
	p.metrics.RecordTopupSecondaries(ctx, batch.Channel, int64(summary.TopupSecondaries))
}

func claimKey(batchID uuid.UUID) string {
	return claimKeyPrefix + batchID.String()
}
