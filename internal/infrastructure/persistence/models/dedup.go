package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/identity"
)

// IntakeBatchModel is the GORM persistence model for staged intake batches.
// The raw payload is stored verbatim so retried batches reprocess the exact
// original submission.
type IntakeBatchModel struct {
	AggregateModel
	Channel     string     `gorm:"type:varchar(50);not null;index"`
	Payload     []byte     `gorm:"type:jsonb;not null"`
	RecordCount int        `gorm:"not null"`
	OfferCount  int        `gorm:"not null"`
	Status      string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_intake_batches_due,priority:1"`
	RetryCount  int        `gorm:"not null;default:0"`
	MaxRetries  int        `gorm:"not null;default:3"`
	LastError   string     `gorm:"type:text"`
	NextRetryAt *time.Time `gorm:"index:idx_intake_batches_due,priority:2"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	Summary     *string `gorm:"type:jsonb"`
}

// TableName specifies the table name
func (IntakeBatchModel) TableName() string {
	return "intake_batches"
}

// ToDomain converts the persistence model to a domain Batch entity.
func (m *IntakeBatchModel) ToDomain() *dedup.Batch {
	batch := &dedup.Batch{
		BaseAggregateRoot: m.toBaseAggregateRoot(),
		Channel:           m.Channel,
		Payload:           m.Payload,
		RecordCount:       m.RecordCount,
		OfferCount:        m.OfferCount,
		Status:            dedup.BatchStatus(m.Status),
		RetryCount:        m.RetryCount,
		MaxRetries:        m.MaxRetries,
		LastError:         m.LastError,
		NextRetryAt:       m.NextRetryAt,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
	}

	if m.Summary != nil && *m.Summary != "" {
		var summary dedup.BatchSummary
		if err := json.Unmarshal([]byte(*m.Summary), &summary); err == nil {
			batch.Summary = &summary
		}
	}

	return batch
}

// FromDomain populates the persistence model from a domain Batch entity.
func (m *IntakeBatchModel) FromDomain(b *dedup.Batch) {
	m.fromBaseAggregateRoot(b.BaseAggregateRoot)
	m.Channel = b.Channel
	m.Payload = b.Payload
	m.RecordCount = b.RecordCount
	m.OfferCount = b.OfferCount
	m.Status = string(b.Status)
	m.RetryCount = b.RetryCount
	m.MaxRetries = b.MaxRetries
	m.LastError = b.LastError
	m.NextRetryAt = b.NextRetryAt
	m.StartedAt = b.StartedAt
	m.CompletedAt = b.CompletedAt

	m.Summary = nil
	if b.Summary != nil {
		if jsonBytes, err := json.Marshal(b.Summary); err == nil {
			s := string(jsonBytes)
			m.Summary = &s
		}
	}
}

// IntakeBatchModelFromDomain creates a new persistence model from a domain Batch entity.
func IntakeBatchModelFromDomain(b *dedup.Batch) *IntakeBatchModel {
	m := &IntakeBatchModel{}
	m.FromDomain(b)
	return m
}

// LedgerEntryModel is the GORM persistence model for dedup ledger entries.
// The ledger is append-only: rows are only ever inserted.
type LedgerEntryModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primary_key"`
	BatchID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	RecordRef         string     `gorm:"type:varchar(100);not null"`
	RepresentativeRef string     `gorm:"type:varchar(100)"`
	CustomerID        *uuid.UUID `gorm:"type:uuid;index"`
	Outcome           string     `gorm:"type:varchar(30);not null;index"`
	MatchedBy         string     `gorm:"type:varchar(20)"`
	Detail            string     `gorm:"type:text"`
	CreatedAt         time.Time  `gorm:"not null;index"`
}

// TableName specifies the table name
func (LedgerEntryModel) TableName() string {
	return "dedup_ledger"
}

// ToDomain converts the persistence model to a domain LedgerEntry.
func (m *LedgerEntryModel) ToDomain() *dedup.LedgerEntry {
	return &dedup.LedgerEntry{
		ID:                m.ID,
		BatchID:           m.BatchID,
		RecordRef:         m.RecordRef,
		RepresentativeRef: m.RepresentativeRef,
		CustomerID:        m.CustomerID,
		Outcome:           dedup.Outcome(m.Outcome),
		MatchedBy:         identity.Kind(m.MatchedBy),
		Detail:            m.Detail,
		CreatedAt:         m.CreatedAt,
	}
}

// LedgerEntryModelFromDomain creates a new persistence model from a domain LedgerEntry.
func LedgerEntryModelFromDomain(e *dedup.LedgerEntry) *LedgerEntryModel {
	return &LedgerEntryModel{
		ID:                e.ID,
		BatchID:           e.BatchID,
		RecordRef:         e.RecordRef,
		RepresentativeRef: e.RepresentativeRef,
		CustomerID:        e.CustomerID,
		Outcome:           string(e.Outcome),
		MatchedBy:         string(e.MatchedBy),
		Detail:            e.Detail,
		CreatedAt:         e.CreatedAt,
	}
}
