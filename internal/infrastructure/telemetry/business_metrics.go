// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BusinessMetrics provides business metrics for the dedup service.
// It tracks batch throughput, per-record resolution outcomes, and the
// staging/outbox backlog.
type BusinessMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	batchesTotal          *Counter
	recordsTotal          *Counter
	topupSecondariesTotal *Counter
	eventDeliveriesTotal  *Counter

	// Distribution metrics
	batchDuration *Histogram

	// Gauge metrics (point-in-time values)
	intakeBacklog *Gauge
	outboxBacklog *Gauge
	offersByDedup *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	// Data provider for periodic collection
	storeProvider StoreMetricsProvider
}

// StoreMetricsProvider provides staging-store state for periodic metrics
// collection. This interface allows the telemetry layer to query backlog
// counts without depending on the persistence layer directly.
type StoreMetricsProvider interface {
	// GetBatchCountByStatus returns the number of intake batches per status
	GetBatchCountByStatus(ctx context.Context) (map[string]int64, error)

	// GetOutboxCountByStatus returns the number of outbox events per status
	GetOutboxCountByStatus(ctx context.Context) (map[string]int64, error)

	// GetOfferCountByDedupStatus returns the number of offers per dedup status
	GetOfferCountByDedupStatus(ctx context.Context) (map[string]int64, error)
}

// BusinessMetricsConfig holds configuration for business metrics.
type BusinessMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 5 minutes
	StoreProvider   StoreMetricsProvider
}

// NewBusinessMetrics creates a new BusinessMetrics instance.
func NewBusinessMetrics(cfg BusinessMetricsConfig) (*BusinessMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BusinessMetrics{
		meter:         cfg.Meter,
		logger:        logger,
		stopChan:      make(chan struct{}),
		storeProvider: cfg.StoreProvider,
	}

	// Initialize counter metrics
	var err error

	// Batch metrics
	bm.batchesTotal, err = NewCounter(
		cfg.Meter,
		"dedup_batches_total",
		"Total number of intake batches processed",
		"{batches}",
	)
	if err != nil {
		return nil, err
	}

	bm.recordsTotal, err = NewCounter(
		cfg.Meter,
		"dedup_records_total",
		"Total number of intake records resolved, by outcome",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	bm.topupSecondariesTotal, err = NewCounter(
		cfg.Meter,
		"dedup_topup_secondaries_total",
		"Total number of topup offers folded into an earlier primary",
		"{offers}",
	)
	if err != nil {
		return nil, err
	}

	bm.eventDeliveriesTotal, err = NewCounter(
		cfg.Meter,
		"dedup_event_deliveries_total",
		"Total bus deliveries of outbox events, by result",
		"{deliveries}",
	)
	if err != nil {
		return nil, err
	}

	bm.batchDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "dedup_batch_duration_seconds",
		Description: "End-to-end batch processing duration",
		Unit:        "s",
		Boundaries:  BatchDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	// Backlog gauge metrics
	bm.intakeBacklog, err = NewGauge(
		cfg.Meter,
		"dedup_intake_backlog",
		"Current number of intake batches per status",
		"{batches}",
	)
	if err != nil {
		return nil, err
	}

	bm.outboxBacklog, err = NewGauge(
		cfg.Meter,
		"dedup_outbox_backlog",
		"Current number of outbox events per status",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	bm.offersByDedup, err = NewGauge(
		cfg.Meter,
		"dedup_offers_by_dedup_status",
		"Current number of offers per dedup status",
		"{offers}",
	)
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// =============================================================================
// Batch Metrics
// =============================================================================

// BatchResult labels a finished batch run for metrics purposes.
type BatchResult string

const (
	BatchResultCompleted BatchResult = "completed"
	BatchResultFailed    BatchResult = "failed"
)

// RecordBatchProcessed records a finished batch run.
// This should be called once per attempt, whatever the outcome.
func (bm *BusinessMetrics) RecordBatchProcessed(ctx context.Context, channel string, result BatchResult) {
	bm.batchesTotal.Inc(ctx,
		AttrChannel.String(channel),
		AttrBatchStatus.String(string(result)),
	)
}

// RecordBatchDuration records the wall-clock duration of a batch run.
func (bm *BusinessMetrics) RecordBatchDuration(ctx context.Context, channel string, elapsed time.Duration) {
	bm.batchDuration.RecordDuration(ctx, elapsed,
		AttrChannel.String(channel),
	)
}

// RecordBatchRun is a convenience method that records both the batch counter
// and its duration.
func (bm *BusinessMetrics) RecordBatchRun(ctx context.Context, channel string, result BatchResult, elapsed time.Duration) {
	bm.RecordBatchProcessed(ctx, channel, result)
	bm.RecordBatchDuration(ctx, channel, elapsed)
}

// =============================================================================
// Resolution Metrics
// =============================================================================

// RecordResolvedRecords records how many records in a batch resolved to a
// given ledger outcome ("new", "merged", "rejected_ambiguous").
func (bm *BusinessMetrics) RecordResolvedRecords(ctx context.Context, channel, outcome string, count int64) {
	if count <= 0 {
		return
	}
	bm.recordsTotal.Add(ctx, count,
		AttrChannel.String(channel),
		AttrOutcome.String(outcome),
	)
}

// RecordTopupSecondaries records topup offers that were folded into an
// earlier primary rather than stored as independent offers.
func (bm *BusinessMetrics) RecordTopupSecondaries(ctx context.Context, channel string, count int64) {
	if count <= 0 {
		return
	}
	bm.topupSecondariesTotal.Add(ctx, count,
		AttrChannel.String(channel),
	)
}

// =============================================================================
// Event Delivery Metrics
// =============================================================================

// EventDeliveryResult labels one bus delivery of an outbox event.
type EventDeliveryResult string

const (
	EventDeliveryProcessed EventDeliveryResult = "processed"
	EventDeliveryDuplicate EventDeliveryResult = "duplicate"
	EventDeliveryFailed    EventDeliveryResult = "failed"
)

// RecordEventDelivery records one delivery of an outbox event to a
// subscriber, as seen by the idempotency wrapper.
func (bm *BusinessMetrics) RecordEventDelivery(ctx context.Context, eventType string, result EventDeliveryResult) {
	bm.eventDeliveriesTotal.Inc(ctx,
		AttrEventType.String(eventType),
		AttrDeliveryStatus.String(string(result)),
	)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection starts periodic collection of gauge metrics.
// It collects backlog metrics every interval (default: 5 minutes).
// This is non-blocking - use Stop() to stop collection.
func (bm *BusinessMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	bm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go bm.runPeriodicCollection(ctx, interval)
	})
}

// runPeriodicCollection runs the periodic collection loop.
func (bm *BusinessMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	bm.collectStoreMetrics(ctx)

	for {
		select {
		case <-bm.stopChan:
			bm.logger.Info("Stopping periodic business metrics collection")
			return
		case <-ctx.Done():
			bm.logger.Info("Context cancelled, stopping periodic business metrics collection")
			return
		case <-ticker.C:
			bm.collectStoreMetrics(ctx)
		}
	}
}

// collectStoreMetrics collects backlog gauge metrics from the store.
func (bm *BusinessMetrics) collectStoreMetrics(ctx context.Context) {
	if bm.storeProvider == nil {
		bm.logger.Debug("No store provider configured, skipping backlog metrics collection")
		return
	}

	batchCounts, err := bm.storeProvider.GetBatchCountByStatus(ctx)
	if err != nil {
		bm.logger.Warn("Failed to get intake batch counts", zap.Error(err))
	} else {
		for status, count := range batchCounts {
			bm.intakeBacklog.Record(ctx, count, AttrBatchStatus.String(status))
		}
	}

	outboxCounts, err := bm.storeProvider.GetOutboxCountByStatus(ctx)
	if err != nil {
		bm.logger.Warn("Failed to get outbox event counts", zap.Error(err))
	} else {
		for status, count := range outboxCounts {
			bm.outboxBacklog.Record(ctx, count, AttrOutboxStatus.String(status))
		}
	}

	offerCounts, err := bm.storeProvider.GetOfferCountByDedupStatus(ctx)
	if err != nil {
		bm.logger.Warn("Failed to get offer dedup counts", zap.Error(err))
	} else {
		for status, count := range offerCounts {
			bm.offersByDedup.Record(ctx, count, AttrDedupStatus.String(status))
		}
	}
}

// Stop stops the periodic collection.
func (bm *BusinessMetrics) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewBusinessMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// =============================================================================
// Attribute Key Constants
// =============================================================================

// Business metrics attribute keys not already defined in metrics.go
var (
	AttrOutboxStatus   = attribute.Key("outbox_status")
	AttrDedupStatus    = attribute.Key("dedup_status")
	AttrEventType      = attribute.Key("event_type")
	AttrDeliveryStatus = attribute.Key("delivery_status")
)
