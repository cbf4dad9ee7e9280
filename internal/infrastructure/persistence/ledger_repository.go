package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/infrastructure/persistence/models"
)

// GormLedgerRepository implements dedup.LedgerRepository using GORM. The
// ledger is append-only; this repository deliberately exposes no update or
// delete operation.
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewGormLedgerRepository creates a new GormLedgerRepository
func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// Append inserts decision entries
func (r *GormLedgerRepository) Append(ctx context.Context, entries ...*dedup.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	entryModels := make([]*models.LedgerEntryModel, len(entries))
	for i, e := range entries {
		entryModels[i] = models.LedgerEntryModelFromDomain(e)
	}
	return r.db.WithContext(ctx).Create(entryModels).Error
}

// FindByBatch retrieves the entries recorded for an intake batch, in
// insertion order
func (r *GormLedgerRepository) FindByBatch(ctx context.Context, batchID uuid.UUID) ([]*dedup.LedgerEntry, error) {
	var entryModels []models.LedgerEntryModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC, record_ref ASC").
		Find(&entryModels).Error; err != nil {
		return nil, err
	}
	return toDomainEntries(entryModels), nil
}

// FindByCustomer retrieves the entries that resolved onto a canonical
// customer, oldest first. This is the audit trail of how the customer's
// records accumulated.
func (r *GormLedgerRepository) FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]*dedup.LedgerEntry, error) {
	var entryModels []models.LedgerEntryModel
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC").
		Find(&entryModels).Error; err != nil {
		return nil, err
	}
	return toDomainEntries(entryModels), nil
}

// FindByOutcome retrieves the most recent entries with the given outcome
func (r *GormLedgerRepository) FindByOutcome(ctx context.Context, outcome dedup.Outcome, limit int) ([]*dedup.LedgerEntry, error) {
	var entryModels []models.LedgerEntryModel
	query := r.db.WithContext(ctx).
		Where("outcome = ?", outcome).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entryModels).Error; err != nil {
		return nil, err
	}
	return toDomainEntries(entryModels), nil
}

// CountByOutcome counts entries with the given outcome
func (r *GormLedgerRepository) CountByOutcome(ctx context.Context, outcome dedup.Outcome) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Where("outcome = ?", outcome).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func toDomainEntries(entryModels []models.LedgerEntryModel) []*dedup.LedgerEntry {
	entries := make([]*dedup.LedgerEntry, len(entryModels))
	for i := range entryModels {
		entries[i] = entryModels[i].ToDomain()
	}
	return entries
}

// Ensure GormLedgerRepository implements dedup.LedgerRepository
var _ dedup.LedgerRepository = (*GormLedgerRepository)(nil)
