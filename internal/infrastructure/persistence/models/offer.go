package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/offerbook/dedup/internal/domain/offer"
)

// OfferModel is the GORM persistence model for loan offers. The composite
// unique index on (channel, source_ref) makes re-submitted batches land on the
// same rows instead of duplicating offers.
type OfferModel struct {
	AggregateModel
	CustomerID      *uuid.UUID      `gorm:"type:uuid;index"`
	BatchID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	Channel         string          `gorm:"type:varchar(50);not null;uniqueIndex:uidx_offers_channel_source_ref,priority:1"`
	SourceRef       string          `gorm:"type:varchar(100);not null;uniqueIndex:uidx_offers_channel_source_ref,priority:2"`
	RecordRef       string          `gorm:"type:varchar(100);not null"`
	ProductType     string          `gorm:"type:varchar(20);not null;default:'standard'"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency        string          `gorm:"type:varchar(3);not null"`
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	Status          string     `gorm:"type:varchar(20);not null;default:'pending';index"`
	DedupStatus     string     `gorm:"type:varchar(20);not null;default:'none';index"`
	OriginalOfferID *uuid.UUID `gorm:"type:uuid"`
}

// TableName specifies the table name
func (OfferModel) TableName() string {
	return "offers"
}

// ToDomain converts the persistence model to a domain Offer entity.
func (m *OfferModel) ToDomain() *offer.Offer {
	return &offer.Offer{
		BaseAggregateRoot: m.toBaseAggregateRoot(),
		CustomerID:        m.CustomerID,
		BatchID:           m.BatchID,
		Channel:           m.Channel,
		SourceRef:         m.SourceRef,
		RecordRef:         m.RecordRef,
		ProductType:       offer.ProductType(m.ProductType),
		Amount:            m.Amount,
		Currency:          m.Currency,
		ValidFrom:         derefTime(m.ValidFrom),
		ValidUntil:        derefTime(m.ValidUntil),
		Status:            offer.Status(m.Status),
		DedupStatus:       offer.DedupStatus(m.DedupStatus),
		OriginalOfferID:   m.OriginalOfferID,
	}
}

// FromDomain populates the persistence model from a domain Offer entity.
// Open validity edges (zero times) are stored as NULL.
func (m *OfferModel) FromDomain(o *offer.Offer) {
	m.fromBaseAggregateRoot(o.BaseAggregateRoot)
	m.CustomerID = o.CustomerID
	m.BatchID = o.BatchID
	m.Channel = o.Channel
	m.SourceRef = o.SourceRef
	m.RecordRef = o.RecordRef
	m.ProductType = string(o.ProductType)
	m.Amount = o.Amount
	m.Currency = o.Currency
	m.ValidFrom = nullableTime(o.ValidFrom)
	m.ValidUntil = nullableTime(o.ValidUntil)
	m.Status = string(o.Status)
	m.DedupStatus = string(o.DedupStatus)
	m.OriginalOfferID = o.OriginalOfferID
}

// OfferModelFromDomain creates a new persistence model from a domain Offer entity.
func OfferModelFromDomain(o *offer.Offer) *OfferModel {
	m := &OfferModel{}
	m.FromDomain(o)
	return m
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}
