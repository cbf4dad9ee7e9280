package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/offerbook/dedup/internal/infrastructure/persistence/models"
)

// GormCustomerRepository implements customer.Repository using GORM
type GormCustomerRepository struct {
	db *gorm.DB
}

// NewGormCustomerRepository creates a new GormCustomerRepository
func NewGormCustomerRepository(db *gorm.DB) *GormCustomerRepository {
	return &GormCustomerRepository{db: db}
}

// identifierColumn maps an identifier kind to its lookup column
func identifierColumn(kind identity.Kind) (string, error) {
	switch kind {
	case identity.KindTaxID:
		return "tax_id", nil
	case identity.KindPhone:
		return "phone", nil
	case identity.KindNationalID:
		return "national_id", nil
	case identity.KindNameBirth:
		return "name_birth_key", nil
	default:
		return "", shared.NewDomainError("UNKNOWN_IDENTIFIER_KIND", fmt.Sprintf("No lookup column for identifier kind %q", kind))
	}
}

// FindByID finds a customer by its ID
func (r *GormCustomerRepository) FindByID(ctx context.Context, id uuid.UUID) (*customer.Customer, error) {
	var model models.CustomerModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIdentifier finds the active customer holding the normalized
// identifier value. Strong kinds are unique among active customers; the weak
// name-birth key may be shared, in which case the earliest-created customer
// wins so repeated lookups stay deterministic.
func (r *GormCustomerRepository) FindByIdentifier(ctx context.Context, kind identity.Kind, value string) (*customer.Customer, error) {
	if value == "" {
		return nil, shared.NewDomainError("EMPTY_IDENTIFIER", "Identifier value cannot be empty")
	}
	column, err := identifierColumn(kind)
	if err != nil {
		return nil, err
	}

	var model models.CustomerModel
	if err := r.db.WithContext(ctx).
		Where(column+" = ? AND status = ?", value, customer.StatusActive).
		Order("created_at ASC, id ASC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll finds all customers matching the filter
func (r *GormCustomerRepository) FindAll(ctx context.Context, filter shared.Filter) ([]customer.Customer, error) {
	var customerModels []models.CustomerModel
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.CustomerModel{}), filter)

	if err := query.Find(&customerModels).Error; err != nil {
		return nil, err
	}

	customers := make([]customer.Customer, len(customerModels))
	for i, model := range customerModels {
		customers[i] = *model.ToDomain()
	}
	return customers, nil
}

// Create inserts a new customer. A unique-index violation on one of the
// identifier columns means another active customer claimed the value since
// matching ran; it surfaces as shared.ErrDuplicateIdentifier so the caller
// can retry as a merge.
func (r *GormCustomerRepository) Create(ctx context.Context, c *customer.Customer) error {
	model := models.CustomerModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrDuplicateIdentifier
		}
		return err
	}
	return nil
}

// SaveWithLock saves a customer with optimistic locking (version check).
// Returns shared.ErrConcurrencyConflict if the version has changed, and
// shared.ErrDuplicateIdentifier if a newly filled identifier collided with
// another active customer.
func (r *GormCustomerRepository) SaveWithLock(ctx context.Context, c *customer.Customer) error {
	model := models.CustomerModelFromDomain(c)
	result := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND version = ?", c.ID, c.Version-1).
		Updates(model)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return shared.ErrDuplicateIdentifier
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Count counts customers matching the filter
func (r *GormCustomerRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	var count int64
	query := r.applyFilterWithoutPagination(r.db.WithContext(ctx).Model(&models.CustomerModel{}), filter)

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountByStatus counts customers by lifecycle status
func (r *GormCustomerRepository) CountByStatus(ctx context.Context, status customer.Status) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.CustomerModel{}).
		Where("status = ?", status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// applyFilter adds ordering and pagination on top of the filter constraints.
// The sort field must pass the allow list before it reaches the ORDER BY.
func (r *GormCustomerRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	query = r.applyFilterWithoutPagination(query, filter)

	sortField := ValidateSortField(filter.OrderBy, CustomerSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(fmt.Sprintf("%s %s", sortField, sortOrder))

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	return query
}

// applyFilterWithoutPagination applies the search term and field constraints
func (r *GormCustomerRepository) applyFilterWithoutPagination(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if filter.Search != "" {
		searchPattern := "%" + filter.Search + "%"
		query = query.Where("given_name ILIKE ? OR family_name ILIKE ? OR email ILIKE ?",
			searchPattern, searchPattern, searchPattern)
	}

	for key, value := range filter.Filters {
		switch key {
		case "status":
			query = query.Where("status = ?", value)
		case "segment":
			query = query.Where("segment = ?", value)
		case "source_channel":
			query = query.Where("source_channel = ?", value)
		case "has_birthdate":
			if b, ok := value.(bool); ok && b {
				query = query.Where("birthdate IS NOT NULL")
			} else {
				query = query.Where("birthdate IS NULL")
			}
		}
	}

	return query
}

// Ensure GormCustomerRepository implements customer.Repository
var _ customer.Repository = (*GormCustomerRepository)(nil)
