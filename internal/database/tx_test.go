package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"innkeeper/internal/pkg/logger"
)

type counterRow struct {
	ID    int64 `gorm:"primaryKey"`
	Value int
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:database_test_%s?mode=memory&cache=shared", t.Name())
	db, err := Connect(dsn, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&counterRow{}))
	return db
}

func TestRunInTx_CommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)

	err := RunInTx(context.Background(), db, 3, func(tx *gorm.DB) error {
		return tx.Create(&counterRow{Value: 7}).Error
	})
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&counterRow{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	boom := errors.New("boom")

	err := RunInTx(context.Background(), db, 3, func(tx *gorm.DB) error {
		if err := tx.Create(&counterRow{Value: 1}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int64
	require.NoError(t, db.Model(&counterRow{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestRunInTx_RetriesConflictsThenSurfaces(t *testing.T) {
	db := openTestDB(t)

	calls := 0
	err := RunInTx(context.Background(), db, 3, func(tx *gorm.DB) error {
		calls++
		return ErrConcurrencyConflict
	})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, 3, calls)
}

func TestRunInTx_RecoversAfterTransientConflict(t *testing.T) {
	db := openTestDB(t)

	calls := 0
	err := RunInTx(context.Background(), db, 3, func(tx *gorm.DB) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: sqlStateSerializationFailure}
		}
		return tx.Create(&counterRow{Value: calls}).Error
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("validation failed")))
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", ErrConcurrencyConflict)))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: sqlStateDeadlockDetected}))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: sqlStateLockNotAvailable}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsRetryable(errors.New("UNIQUE constraint failed: payments.payment_reference")))
	assert.True(t, IsRetryable(errors.New("database is locked (5) (SQLITE_BUSY)")))
}

func TestIsPostgresDSN(t *testing.T) {
	assert.True(t, IsPostgresDSN("postgres://u@h/db"))
	assert.True(t, IsPostgresDSN("postgresql://u@h/db"))
	assert.False(t, IsPostgresDSN("file::memory:"))
}

func TestWithSQLitePragmas(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", withSQLitePragmas("a.db"))
	assert.Equal(t, "file:x?mode=memory&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", withSQLitePragmas("file:x?mode=memory"))
	assert.Equal(t, "a.db?_pragma=journal_mode(WAL)", withSQLitePragmas("a.db?_pragma=journal_mode(WAL)"))
}
