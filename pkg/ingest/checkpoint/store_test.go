package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestGormStoreSaveUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	mock.ExpectExec(`INSERT INTO "ingest_checkpoints" .* ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), model.Checkpoint{
		RunID:            "run-1",
		Source:           "accounts",
		LastCommittedKey: "K-050",
		BatchIndex:       4,
		UpdatedAt:        time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreLoadFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	rows := sqlmock.NewRows([]string{"run_id", "source", "last_committed_key", "batch_index", "updated_at"}).
		AddRow("run-1", "accounts", "K-050", 4, time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	mock.ExpectQuery(`SELECT \* FROM "ingest_checkpoints" WHERE run_id = .*`).
		WithArgs("run-1", 1).
		WillReturnRows(rows)

	cp, found, err := store.Load(context.Background(), "run-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "K-050", cp.LastCommittedKey)
	assert.Equal(t, 4, cp.BatchIndex)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreLoadMissing(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	mock.ExpectQuery(`SELECT \* FROM "ingest_checkpoints" WHERE run_id = .*`).
		WithArgs("run-x", 1).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}))

	_, found, err := store.Load(context.Background(), "run-x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGormStoreClear(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	mock.ExpectExec(`DELETE FROM "ingest_checkpoints" WHERE run_id = .*`).
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Clear(context.Background(), "run-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, found, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, found)

	cp := model.Checkpoint{RunID: "run-1", LastCommittedKey: "B", BatchIndex: 0}
	require.NoError(t, store.Save(ctx, cp))

	got, found, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "B", got.LastCommittedKey)

	require.NoError(t, store.Clear(ctx, "run-1"))
	_, found, err = store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, found)
}
