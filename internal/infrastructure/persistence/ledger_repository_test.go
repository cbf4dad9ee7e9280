package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/offerbook/dedup/internal/domain/dedup"
	"github.com/offerbook/dedup/internal/domain/identity"
)

// newMockLedgerRepository creates a GormLedgerRepository with a mocked SQL connection
func newMockLedgerRepository(t *testing.T) (*GormLedgerRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormLedgerRepository(gormDB), mock, mockDB
}

func TestGormLedgerRepository_Append(t *testing.T) {
	t.Run("appends decision entries", func(t *testing.T) {
		repo, mock, mockDB := newMockLedgerRepository(t)
		defer mockDB.Close()

		batchID := uuid.New()
		customerID := uuid.New()
		entries := []*dedup.LedgerEntry{
			dedup.NewCreationEntry(batchID, "R-1", customerID, "opened new customer"),
			dedup.NewMergeEntry(batchID, "R-2", "R-1", customerID, identity.KindTaxID, "matched canonical customer"),
		}

		mock.ExpectExec(`INSERT INTO "dedup_ledger"`).
			WillReturnResult(sqlmock.NewResult(1, 2))

		err := repo.Append(context.Background(), entries...)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil for no entries", func(t *testing.T) {
		repo, _, mockDB := newMockLedgerRepository(t)
		defer mockDB.Close()

		err := repo.Append(context.Background())

		assert.NoError(t, err)
	})
}

func TestGormLedgerRepository_FindByBatch(t *testing.T) {
	t.Run("finds entries in insertion order", func(t *testing.T) {
		repo, mock, mockDB := newMockLedgerRepository(t)
		defer mockDB.Close()

		batchID := uuid.New()
		customerID := uuid.New()
		now := time.Now()

		rows := sqlmock.NewRows([]string{"id", "batch_id", "record_ref", "representative_ref", "customer_id", "outcome", "matched_by", "detail", "created_at"}).
			AddRow(uuid.New(), batchID, "R-1", "R-1", customerID, "new", "", "opened new customer", now).
			AddRow(uuid.New(), batchID, "R-2", "R-1", customerID, "merged", "tax_id", "matched canonical customer", now)

		mock.ExpectQuery(`SELECT \* FROM "dedup_ledger" WHERE batch_id = \$1 ORDER BY created_at ASC, record_ref ASC`).
			WithArgs(batchID).
			WillReturnRows(rows)

		entries, err := repo.FindByBatch(context.Background(), batchID)

		assert.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, dedup.OutcomeNew, entries[0].Outcome)
		assert.Equal(t, dedup.OutcomeMerged, entries[1].Outcome)
		assert.Equal(t, identity.KindTaxID, entries[1].MatchedBy)
		assert.Equal(t, "R-1", entries[1].RepresentativeRef)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormLedgerRepository_FindByCustomer(t *testing.T) {
	t.Run("finds entries for a customer oldest first", func(t *testing.T) {
		repo, mock, mockDB := newMockLedgerRepository(t)
		defer mockDB.Close()

		customerID := uuid.New()
		now := time.Now()

		rows := sqlmock.NewRows([]string{"id", "batch_id", "record_ref", "customer_id", "outcome", "created_at"}).
			AddRow(uuid.New(), uuid.New(), "R-1", customerID, "new", now)

		mock.ExpectQuery(`SELECT \* FROM "dedup_ledger" WHERE customer_id = \$1 ORDER BY created_at ASC`).
			WithArgs(customerID).
			WillReturnRows(rows)

		entries, err := repo.FindByCustomer(context.Background(), customerID)

		assert.NoError(t, err)
		require.Len(t, entries, 1)
		require.NotNil(t, entries[0].CustomerID)
		assert.Equal(t, customerID, *entries[0].CustomerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormLedgerRepository_FindByOutcome(t *testing.T) {
	t.Run("finds most recent entries with the outcome", func(t *testing.T) {
		repo, mock, mockDB := newMockLedgerRepository(t)
		defer mockDB.Close()

		now := time.Now()

		rows := sqlmock.NewRows([]string{"id", "batch_id", "record_ref", "outcome", "detail", "created_at"}).
			AddRow(uuid.New(), uuid.New(), "R-7", "rejected_ambiguous", "identifiers matched 2 distinct customers", now)

		mock.ExpectQuery(`SELECT \* FROM "dedup_ledger" WHERE outcome = \$1 ORDER BY created_at DESC LIMIT \$2`).
			WithArgs(dedup.OutcomeRejectedAmbiguous, 10).
			WillReturnRows(rows)

		entries, err := repo.FindByOutcome(context.Background(), dedup.OutcomeRejectedAmbiguous, 10)

		assert.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, dedup.OutcomeRejectedAmbiguous, entries[0].Outcome)
		assert.Nil(t, entries[0].CustomerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("omits limit when non-positive", func(t *testing.T) {
		repo, mock, mockDB := newMockLedgerRepository(t)
		defer mockDB.Close()

		rows := sqlmock.NewRows([]string{"id", "batch_id", "record_ref", "outcome", "created_at"})

		mock.ExpectQuery(`SELECT \* FROM "dedup_ledger" WHERE outcome = \$1 ORDER BY created_at DESC`).
			WithArgs(dedup.OutcomeMerged).
			WillReturnRows(rows)

		entries, err := repo.FindByOutcome(context.Background(), dedup.OutcomeMerged, 0)

		assert.NoError(t, err)
		assert.Empty(t, entries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormLedgerRepository_CountByOutcome(t *testing.T) {
	t.Run("counts entries with the outcome", func(t *testing.T) {
		repo, mock, mockDB := newMockLedgerRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT count\(\*\) FROM "dedup_ledger" WHERE outcome = \$1`).
			WithArgs(dedup.OutcomeMerged).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

		count, err := repo.CountByOutcome(context.Background(), dedup.OutcomeMerged)

		assert.NoError(t, err)
		assert.Equal(t, int64(12), count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
