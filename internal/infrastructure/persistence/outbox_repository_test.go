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

	"github.com/offerbook/dedup/internal/domain/shared"
)

// newMockOutboxRepository creates a GormOutboxRepository with a mocked SQL connection
func newMockOutboxRepository(t *testing.T) (*GormOutboxRepository, sqlmock.Sqlmock, *sql.DB) {
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

	return NewGormOutboxRepository(gormDB), mock, mockDB
}

func newTestOutboxEntry() *shared.OutboxEntry {
	event := shared.NewBaseDomainEvent("CustomerCreated", "Customer", uuid.New())
	return shared.NewOutboxEntry(&event, []byte(`{"test": true}`))
}

func TestGormOutboxRepository_Save(t *testing.T) {
	t.Run("persists a new entry", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		entry := newTestOutboxEntry()

		// retry_count is zero on a fresh entry, so the insert fetches it back
		mock.ExpectQuery(`INSERT INTO "outbox_events"`).
			WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(0))

		err := repo.Save(context.Background(), entry)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil for no entries", func(t *testing.T) {
		repo, _, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		err := repo.Save(context.Background())

		assert.NoError(t, err)
	})
}

func TestGormOutboxRepository_FindPending(t *testing.T) {
	t.Run("finds pending entries oldest first", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		entryID := uuid.New()
		eventID := uuid.New()
		aggID := uuid.New()
		now := time.Now()

		rows := sqlmock.NewRows([]string{
			"id", "event_id", "event_type", "aggregate_id", "aggregate_type",
			"payload", "status", "retry_count", "max_retries", "last_error",
			"next_retry_at", "processed_at", "created_at", "updated_at",
		}).AddRow(
			entryID, eventID, "CustomerCreated", aggID, "Customer",
			[]byte(`{}`), "PENDING", 0, 5, "",
			nil, nil, now, now,
		)

		mock.ExpectQuery(`SELECT \* FROM "outbox_events" WHERE status = \$1 ORDER BY created_at ASC LIMIT \$2`).
			WithArgs(shared.OutboxStatusPending, 10).
			WillReturnRows(rows)

		entries, err := repo.FindPending(context.Background(), 10)

		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, entryID, entries[0].ID)
		assert.Equal(t, "CustomerCreated", entries[0].EventType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormOutboxRepository_FindRetryable(t *testing.T) {
	t.Run("finds failed entries due for retry", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		before := time.Now()
		rows := sqlmock.NewRows([]string{
			"id", "event_id", "event_type", "aggregate_id", "aggregate_type",
			"payload", "status", "retry_count", "max_retries", "last_error",
			"next_retry_at", "processed_at", "created_at", "updated_at",
		})

		mock.ExpectQuery(`SELECT \* FROM "outbox_events" WHERE status = \$1 AND next_retry_at <= \$2 ORDER BY next_retry_at ASC LIMIT \$3`).
			WithArgs(shared.OutboxStatusFailed, before, 10).
			WillReturnRows(rows)

		entries, err := repo.FindRetryable(context.Background(), before, 10)

		require.NoError(t, err)
		assert.Len(t, entries, 0)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormOutboxRepository_MarkProcessing(t *testing.T) {
	t.Run("claims entries and flips them to processing", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		id1 := uuid.New()
		id2 := uuid.New()
		now := time.Now()

		rows := sqlmock.NewRows([]string{"id", "event_id", "event_type", "aggregate_id", "aggregate_type", "payload", "status", "retry_count", "max_retries", "created_at", "updated_at"}).
			AddRow(id1, uuid.New(), "CustomerCreated", uuid.New(), "Customer", []byte(`{}`), "PENDING", 0, 5, now, now).
			AddRow(id2, uuid.New(), "OfferDeduped", uuid.New(), "Offer", []byte(`{}`), "FAILED", 1, 5, now, now)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "outbox_events" WHERE id IN \(\$1,\$2\) AND status IN \(\$3,\$4\) FOR UPDATE SKIP LOCKED`).
			WithArgs(id1, id2, shared.OutboxStatusPending, shared.OutboxStatusFailed).
			WillReturnRows(rows)
		mock.ExpectExec(`UPDATE "outbox_events" SET`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		entries, err := repo.MarkProcessing(context.Background(), []uuid.UUID{id1, id2})

		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, shared.OutboxStatusProcessing, entries[0].Status)
		assert.Equal(t, shared.OutboxStatusProcessing, entries[1].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nothing when entries are already claimed", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		id1 := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "event_id", "event_type", "status"})

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "outbox_events" WHERE id IN \(\$1\) AND status IN \(\$2,\$3\) FOR UPDATE SKIP LOCKED`).
			WithArgs(id1, shared.OutboxStatusPending, shared.OutboxStatusFailed).
			WillReturnRows(rows)
		mock.ExpectCommit()

		entries, err := repo.MarkProcessing(context.Background(), []uuid.UUID{id1})

		assert.NoError(t, err)
		assert.Empty(t, entries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips the query for no ids", func(t *testing.T) {
		repo, _, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		entries, err := repo.MarkProcessing(context.Background(), nil)

		assert.NoError(t, err)
		assert.Nil(t, entries)
	})
}

func TestGormOutboxRepository_Update(t *testing.T) {
	t.Run("updates an entry", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		entry := newTestOutboxEntry()
		entry.MarkSent()

		mock.ExpectExec(`UPDATE "outbox_events" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Update(context.Background(), entry)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormOutboxRepository_DeleteOlderThan(t *testing.T) {
	t.Run("deletes old sent entries", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		before := time.Now().Add(-7 * 24 * time.Hour)

		mock.ExpectExec(`DELETE FROM "outbox_events" WHERE status = \$1 AND processed_at < \$2`).
			WithArgs(shared.OutboxStatusSent, before).
			WillReturnResult(sqlmock.NewResult(0, 5))

		deleted, err := repo.DeleteOlderThan(context.Background(), before)

		require.NoError(t, err)
		assert.Equal(t, int64(5), deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormOutboxRepository_FindDead(t *testing.T) {
	t.Run("finds dead entries with pagination", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		entryID := uuid.New()
		now := time.Now()

		mock.ExpectQuery(`SELECT count\(\*\) FROM "outbox_events" WHERE status = \$1`).
			WithArgs(shared.OutboxStatusDead).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

		rows := sqlmock.NewRows([]string{"id", "event_id", "event_type", "status", "retry_count", "max_retries", "created_at", "updated_at"}).
			AddRow(entryID, uuid.New(), "BatchFailed", "DEAD", 5, 5, now, now)

		mock.ExpectQuery(`SELECT \* FROM "outbox_events" WHERE status = \$1 ORDER BY updated_at DESC LIMIT \$2 OFFSET \$3`).
			WithArgs(shared.OutboxStatusDead, 10, 10).
			WillReturnRows(rows)

		entries, total, err := repo.FindDead(context.Background(), 2, 10)

		require.NoError(t, err)
		assert.Equal(t, int64(12), total)
		require.Len(t, entries, 1)
		assert.Equal(t, shared.OutboxStatusDead, entries[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormOutboxRepository_FindByID(t *testing.T) {
	t.Run("finds existing entry", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		entryID := uuid.New()
		now := time.Now()

		rows := sqlmock.NewRows([]string{"id", "event_id", "event_type", "status", "retry_count", "max_retries", "created_at", "updated_at"}).
			AddRow(entryID, uuid.New(), "CustomerCreated", "PENDING", 0, 5, now, now)

		mock.ExpectQuery(`SELECT \* FROM "outbox_events" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(entryID, 1).
			WillReturnRows(rows)

		entry, err := repo.FindByID(context.Background(), entryID)

		require.NoError(t, err)
		assert.Equal(t, entryID, entry.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns error for non-existent entry", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		entryID := uuid.New()

		mock.ExpectQuery(`SELECT \* FROM "outbox_events" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(entryID, 1).
			WillReturnError(gorm.ErrRecordNotFound)

		entry, err := repo.FindByID(context.Background(), entryID)

		assert.Error(t, err)
		assert.Nil(t, entry)
		assert.Equal(t, shared.ErrNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormOutboxRepository_CountByStatus(t *testing.T) {
	t.Run("returns counts keyed by status", func(t *testing.T) {
		repo, mock, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		rows := sqlmock.NewRows([]string{"status", "count"}).
			AddRow("PENDING", 4).
			AddRow("DEAD", 1)

		mock.ExpectQuery(`SELECT status, count\(\*\) as count FROM "outbox_events" GROUP BY .*`).
			WillReturnRows(rows)

		counts, err := repo.CountByStatus(context.Background())

		require.NoError(t, err)
		assert.Equal(t, int64(4), counts[shared.OutboxStatusPending])
		assert.Equal(t, int64(1), counts[shared.OutboxStatusDead])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormOutboxRepository_WithTx(t *testing.T) {
	t.Run("returns a new repository bound to the transaction", func(t *testing.T) {
		repo, _, mockDB := newMockOutboxRepository(t)
		defer mockDB.Close()

		newRepo := repo.WithTx(repo.db)

		assert.NotNil(t, newRepo)
		assert.NotSame(t, repo, newRepo)
	})
}
