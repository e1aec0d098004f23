package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreGetHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	firstSeen := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`SELECT params_hash, status_code, envelope, first_seen_at`).
		WithArgs("gmail.send_email", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"params_hash", "status_code", "envelope", "first_seen_at"}).
			AddRow("abc", 200, []byte(`{"ok":true}`), firstSeen))

	s := NewPostgresStore(db, 24*time.Hour)
	rec, ok, err := s.Get(context.Background(), "gmail.send_email", "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"ok":true}`), rec.Envelope)
	assert.Equal(t, 200, rec.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT params_hash, status_code, envelope, first_seen_at`).
		WithArgs("gmail.send_email", "absent").
		WillReturnRows(sqlmock.NewRows([]string{"params_hash", "status_code", "envelope", "first_seen_at"}))

	s := NewPostgresStore(db, 24*time.Hour)
	_, ok, err := s.Get(context.Background(), "gmail.send_email", "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetExpiredDeletesRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stale := time.Now().Add(-48 * time.Hour)
	mock.ExpectQuery(`SELECT params_hash, status_code, envelope, first_seen_at`).
		WithArgs("b", "k").
		WillReturnRows(sqlmock.NewRows([]string{"params_hash", "status_code", "envelope", "first_seen_at"}).
			AddRow("abc", 200, []byte(`{}`), stale))
	mock.ExpectExec(`DELETE FROM idempotency_records`).
		WithArgs("b", "k").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStore(db, 24*time.Hour)
	_, ok, err := s.Get(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePutUsesConflictDoNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := &Record{
		Brick:       "b",
		Key:         "k",
		ParamsHash:  "abc",
		StatusCode:  200,
		Envelope:    []byte(`{"ok":true}`),
		FirstSeenAt: time.Now(),
	}
	mock.ExpectExec(`(?s)INSERT INTO idempotency_records.*ON CONFLICT \(brick, key\) DO NOTHING`).
		WithArgs(rec.Brick, rec.Key, rec.ParamsHash, rec.StatusCode, rec.Envelope, rec.FirstSeenAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPostgresStore(db, 24*time.Hour)
	require.NoError(t, s.Put(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCleanup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM idempotency_records WHERE first_seen_at`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	s := NewPostgresStore(db, 24*time.Hour)
	require.NoError(t, s.Cleanup(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
