package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/offerbook/dedup/internal/infrastructure/persistence/models"
)

// GormOfferRepository implements offer.Repository using GORM
type GormOfferRepository struct {
	db *gorm.DB
}

// NewGormOfferRepository creates a new GormOfferRepository
func NewGormOfferRepository(db *gorm.DB) *GormOfferRepository {
	return &GormOfferRepository{db: db}
}

// FindBySourceRef finds an offer by its channel-scoped source reference
func (r *GormOfferRepository) FindBySourceRef(ctx context.Context, channel, sourceRef string) (*offer.Offer, error) {
	if sourceRef == "" {
		return nil, shared.NewDomainError("INVALID_SOURCE_REF", "Offer source reference cannot be empty")
	}
	var model models.OfferModel
	if err := r.db.WithContext(ctx).
		Where("channel = ? AND source_ref = ?", channel, sourceRef).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByCustomer finds offers owned by a canonical customer
func (r *GormOfferRepository) FindByCustomer(ctx context.Context, customerID uuid.UUID, filter shared.Filter) ([]offer.Offer, error) {
	var offerModels []models.OfferModel
	query := r.applyFilter(
		r.db.WithContext(ctx).Model(&models.OfferModel{}).Where("customer_id = ?", customerID),
		filter,
	)

	if err := query.Find(&offerModels).Error; err != nil {
		return nil, err
	}

	offers := make([]offer.Offer, len(offerModels))
	for i, model := range offerModels {
		offers[i] = *model.ToDomain()
	}
	return offers, nil
}

// FindByBatch finds all offers that entered through an intake batch, in
// insertion order
func (r *GormOfferRepository) FindByBatch(ctx context.Context, batchID uuid.UUID) ([]offer.Offer, error) {
	var offerModels []models.OfferModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC, source_ref ASC").
		Find(&offerModels).Error; err != nil {
		return nil, err
	}

	offers := make([]offer.Offer, len(offerModels))
	for i, model := range offerModels {
		offers[i] = *model.ToDomain()
	}
	return offers, nil
}

// Save creates or updates an offer
func (r *GormOfferRepository) Save(ctx context.Context, o *offer.Offer) error {
	model := models.OfferModelFromDomain(o)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// CountByDedupStatus counts offers per dedup tri-state
func (r *GormOfferRepository) CountByDedupStatus(ctx context.Context, status offer.DedupStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.OfferModel{}).
		Where("dedup_status = ?", status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// applyFilter adds the search term, field constraints, ordering and
// pagination. The sort field must pass the allow list before it reaches
// the ORDER BY.
func (r *GormOfferRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if filter.Search != "" {
		searchPattern := "%" + filter.Search + "%"
		query = query.Where("source_ref ILIKE ? OR record_ref ILIKE ?", searchPattern, searchPattern)
	}

	for key, value := range filter.Filters {
		switch key {
		case "status":
			query = query.Where("status = ?", value)
		case "dedup_status":
			query = query.Where("dedup_status = ?", value)
		case "product_type":
			query = query.Where("product_type = ?", value)
		case "channel":
			query = query.Where("channel = ?", value)
		}
	}

	sortField := ValidateSortField(filter.OrderBy, OfferSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(fmt.Sprintf("%s %s", sortField, sortOrder))

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	return query
}

// Ensure GormOfferRepository implements offer.Repository
var _ offer.Repository = (*GormOfferRepository)(nil)
