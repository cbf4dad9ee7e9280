package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/offerbook/dedup/internal/infrastructure/persistence/models"
)

// GormIntakeBatchRepository implements dedup.BatchRepository using GORM
type GormIntakeBatchRepository struct {
	db *gorm.DB
}

// NewGormIntakeBatchRepository creates a new GormIntakeBatchRepository
func NewGormIntakeBatchRepository(db *gorm.DB) *GormIntakeBatchRepository {
	return &GormIntakeBatchRepository{db: db}
}

// Create persists a newly staged batch
func (r *GormIntakeBatchRepository) Create(ctx context.Context, batch *dedup.Batch) error {
	model := models.IntakeBatchModelFromDomain(batch)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// FindByID retrieves a batch by ID
func (r *GormIntakeBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*dedup.Batch, error) {
	var model models.IntakeBatchModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ClaimDue atomically flips due batches into processing and returns them.
// Due means pending, or failed with an elapsed retry time. Rows are locked
// with FOR UPDATE SKIP LOCKED so concurrent pollers never claim the same
// batch; each one simply skips rows another poller is holding.
func (r *GormIntakeBatchRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*dedup.Batch, error) {
	if limit <= 0 {
		return nil, nil
	}

	var batchModels []models.IntakeBatchModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{
				Strength: "UPDATE",
				Options:  "SKIP LOCKED",
			}).
			Where("status = ? OR (status = ? AND next_retry_at <= ?)",
				dedup.BatchStatusPending, dedup.BatchStatusFailed, now).
			Order("created_at ASC").
			Limit(limit).
			Find(&batchModels).Error; err != nil {
			return err
		}

		if len(batchModels) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(batchModels))
		for i, m := range batchModels {
			ids[i] = m.ID
		}

		startedAt := time.Now()
		if err := tx.Model(&models.IntakeBatchModel{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     dedup.BatchStatusProcessing,
				"started_at": startedAt,
				"updated_at": startedAt,
				"version":    gorm.Expr("version + 1"),
			}).Error; err != nil {
			return err
		}

		// Mirror the claim into the in-memory rows so the returned batches
		// carry the post-claim state and version
		for i := range batchModels {
			batchModels[i].Status = string(dedup.BatchStatusProcessing)
			batchModels[i].StartedAt = &startedAt
			batchModels[i].UpdatedAt = startedAt
			batchModels[i].Version++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	batches := make([]*dedup.Batch, len(batchModels))
	for i := range batchModels {
		batches[i] = batchModels[i].ToDomain()
	}
	return batches, nil
}

// SaveWithLock updates a batch with optimistic locking (version check).
// Returns shared.ErrConcurrencyConflict if the version has changed.
func (r *GormIntakeBatchRepository) SaveWithLock(ctx context.Context, batch *dedup.Batch) error {
	model := models.IntakeBatchModelFromDomain(batch)
	result := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND version = ?", batch.ID, batch.Version-1).
		Updates(model)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// FindByStatus retrieves batches in the given status, oldest first
func (r *GormIntakeBatchRepository) FindByStatus(ctx context.Context, status dedup.BatchStatus, limit int) ([]*dedup.Batch, error) {
	var batchModels []models.IntakeBatchModel
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&batchModels).Error; err != nil {
		return nil, err
	}

	batches := make([]*dedup.Batch, len(batchModels))
	for i := range batchModels {
		batches[i] = batchModels[i].ToDomain()
	}
	return batches, nil
}

// CountByStatus returns batch counts per status
func (r *GormIntakeBatchRepository) CountByStatus(ctx context.Context) (map[dedup.BatchStatus]int64, error) {
	type statusCount struct {
		Status dedup.BatchStatus
		Count  int64
	}

	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.IntakeBatchModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[dedup.BatchStatus]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// DeleteCompletedBefore removes completed batches older than the cutoff
func (r *GormIntakeBatchRepository) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", dedup.BatchStatusCompleted, before).
		Delete(&models.IntakeBatchModel{})
	return result.RowsAffected, result.Error
}

// Ensure GormIntakeBatchRepository implements dedup.BatchRepository
var _ dedup.BatchRepository = (*GormIntakeBatchRepository)(nil)
