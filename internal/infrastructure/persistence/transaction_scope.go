package persistence

import (
	"context"

	"gorm.io/gorm"

	appdedup "github.com/offerbook/dedup/internal/application/dedup"
	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// One duplicate-group resolution runs entirely inside a single scope: the
// customer mutation, offer re-pointing, ledger append and outbox insert
// commit or roll back together.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appdedup.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := &gormTransactionalRepositories{tx: tx}
		return fn(repos)
	})
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// CustomerRepo returns the canonical customer repository scoped to the current transaction.
func (r *gormTransactionalRepositories) CustomerRepo() customer.Repository {
	return NewGormCustomerRepository(r.tx)
}

// OfferRepo returns the offer repository scoped to the current transaction.
func (r *gormTransactionalRepositories) OfferRepo() offer.Repository {
	return NewGormOfferRepository(r.tx)
}

// LedgerRepo returns the decision ledger repository scoped to the current transaction.
func (r *gormTransactionalRepositories) LedgerRepo() dedup.LedgerRepository {
	return NewGormLedgerRepository(r.tx)
}

// BatchRepo returns the intake batch repository scoped to the current transaction.
func (r *gormTransactionalRepositories) BatchRepo() dedup.BatchRepository {
	return NewGormIntakeBatchRepository(r.tx)
}

// OutboxRepo returns the outbox repository scoped to the current transaction.
func (r *gormTransactionalRepositories) OutboxRepo() shared.OutboxRepository {
	return NewGormOutboxRepository(r.tx)
}

// Ensure GormTransactionScope implements TransactionScope
var _ appdedup.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appdedup.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
