package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/offerbook/dedup/internal/domain/shared"
)

// BaseModel carries the columns every table shares. IDs are assigned by the
// domain, never by the database, so there is no autoincrement here.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// AggregateModel adds the version column that optimistic locking compares.
type AggregateModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

// toBaseAggregateRoot rebuilds the embedded domain aggregate state from the
// row. Each model's ToDomain starts from this.
func (m *AggregateModel) toBaseAggregateRoot() shared.BaseAggregateRoot {
	return shared.BaseAggregateRoot{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Version: m.Version,
	}
}

// fromBaseAggregateRoot copies the embedded domain aggregate state into the
// row columns.
func (m *AggregateModel) fromBaseAggregateRoot(a shared.BaseAggregateRoot) {
	m.ID = a.ID
	m.CreatedAt = a.CreatedAt
	m.UpdatedAt = a.UpdatedAt
	m.Version = a.Version
}
