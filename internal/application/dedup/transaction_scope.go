package dedup

import (
	"context"

	"github.com/offerbook/dedup/internal/domain/customer"
	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/offer"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// TransactionScope provides transactional access to the repositories one
// group resolution touches. Everything executed within a scope commits or
// rolls back atomically: the customer mutation, the offer re-pointing, the
// ledger entries and the outbox events of a group stand or fall together.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to the dedup repositories within
// one transaction. All repositories returned share the same underlying
// database transaction.
type TransactionalRepositories interface {
	// CustomerRepo returns the canonical customer repository scoped to the
	// current transaction
	CustomerRepo() customer.Repository
	// OfferRepo returns the offer repository scoped to the current transaction
	OfferRepo() offer.Repository
	// LedgerRepo returns the decision ledger repository scoped to the
	// current transaction
	LedgerRepo() dedup.LedgerRepository
	// BatchRepo returns the intake batch repository scoped to the current
	// transaction
	BatchRepo() dedup.BatchRepository
	// OutboxRepo returns the outbox repository scoped to the current
	// transaction
	OutboxRepo() shared.OutboxRepository
}

// NoOpTransactionScope runs scope functions without a real transaction.
// Useful for tests and for stores without transaction support.
type NoOpTransactionScope struct {
	customerRepo customer.Repository
	offerRepo    offer.Repository
	ledgerRepo   dedup.LedgerRepository
	batchRepo    dedup.BatchRepository
	outboxRepo   shared.OutboxRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope over the given
// repositories.
func NewNoOpTransactionScope(
	customerRepo customer.Repository,
	offerRepo offer.Repository,
	ledgerRepo dedup.LedgerRepository,
	batchRepo dedup.BatchRepository,
	outboxRepo shared.OutboxRepository,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		customerRepo: customerRepo,
		offerRepo:    offerRepo,
		ledgerRepo:   ledgerRepo,
		batchRepo:    batchRepo,
		outboxRepo:   outboxRepo,
	}
}

// Execute runs the function without transaction boundaries.
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// CustomerRepo returns the customer repository.
func (s *NoOpTransactionScope) CustomerRepo() customer.Repository {
	return s.customerRepo
}

// OfferRepo returns the offer repository.
func (s *NoOpTransactionScope) OfferRepo() offer.Repository {
	return s.offerRepo
}

// LedgerRepo returns the ledger repository.
func (s *NoOpTransactionScope) LedgerRepo() dedup.LedgerRepository {
	return s.ledgerRepo
}

// BatchRepo returns the intake batch repository.
func (s *NoOpTransactionScope) BatchRepo() dedup.BatchRepository {
	return s.batchRepo
}

// OutboxRepo returns the outbox repository.
func (s *NoOpTransactionScope) OutboxRepo() shared.OutboxRepository {
	return s.outboxRepo
}

// Ensure NoOpTransactionScope implements both interfaces
var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
