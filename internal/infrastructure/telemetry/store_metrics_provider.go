// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"

	"gorm.io/gorm"
)

// GormStoreMetricsProvider implements StoreMetricsProvider using GORM.
// It queries the staging and offer tables directly for aggregated counts.
type GormStoreMetricsProvider struct {
	db *gorm.DB
}

// NewGormStoreMetricsProvider creates a new GormStoreMetricsProvider.
func NewGormStoreMetricsProvider(db *gorm.DB) *GormStoreMetricsProvider {
	return &GormStoreMetricsProvider{db: db}
}

// GetBatchCountByStatus returns the number of intake batches per status.
func (p *GormStoreMetricsProvider) GetBatchCountByStatus(ctx context.Context) (map[string]int64, error) {
	return p.countByColumn(ctx, "intake_batches", "status")
}

// GetOutboxCountByStatus returns the number of outbox events per status.
func (p *GormStoreMetricsProvider) GetOutboxCountByStatus(ctx context.Context) (map[string]int64, error) {
	return p.countByColumn(ctx, "outbox_events", "status")
}

// GetOfferCountByDedupStatus returns the number of offers per dedup status.
func (p *GormStoreMetricsProvider) GetOfferCountByDedupStatus(ctx context.Context) (map[string]int64, error) {
	return p.countByColumn(ctx, "offers", "dedup_status")
}

func (p *GormStoreMetricsProvider) countByColumn(ctx context.Context, table, column string) (map[string]int64, error) {
	type result struct {
		Status string `gorm:"column:status"`
		Total  int64  `gorm:"column:total"`
	}

	var results []result
	err := p.db.WithContext(ctx).
		Table(table).
		Select(column + " as status, COUNT(*) as total").
		Group(column).
		Find(&results).Error

	if err != nil {
		return nil, err
	}

	m := make(map[string]int64, len(results))
	for _, r := range results {
		m[r.Status] = r.Total
	}

	return m, nil
}
