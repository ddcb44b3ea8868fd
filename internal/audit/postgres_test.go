package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auditColumns = []string{
	"id", "correlation_id", "patient_hash", "file_sha256",
	"drugs", "risk_labels", "error_count", "mean_confidence",
	"kb_version", "created_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectPing()
	store, err := NewPostgresStore(context.Background(), db)
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), nil)
	assert.Error(t, err)
}

func TestNewPostgresStore_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	_, err = NewPostgresStore(context.Background(), db)
	assert.ErrorContains(t, err, "failed to ping database")
}

func TestPostgresStore_Record(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord("PATIENT_1", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	rec.ID = "fixed-id"

	mock.ExpectExec("INSERT INTO analysis_audit").
		WithArgs("fixed-id", "corr-1", rec.PatientHash, "ab12",
			`["CODEINE","WARFARIN"]`, `["Adjust Dosage","Safe"]`,
			0, 0.82, "2024.1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Record(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO analysis_audit").WillReturnError(errors.New("disk full"))

	err := store.Record(context.Background(), sampleRecord("P", time.Time{}))
	assert.ErrorContains(t, err, "failed to save audit entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM analysis_audit WHERE id").
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(auditColumns).AddRow(
			"abc", "corr", "hash", "sha", []byte(`["CODEINE"]`), []byte(`["Safe"]`),
			0, 0.95, "2024.1", created,
		))

	rec, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"CODEINE"}, rec.Drugs)
	assert.Equal(t, []string{"Safe"}, rec.RiskLabels)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM analysis_audit WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(auditColumns))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListAndCount(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM analysis_audit ORDER BY").
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(auditColumns).
			AddRow("b", "", "h", "s", []byte(`[]`), []byte(`[]`), 1, 0.0, "v", now).
			AddRow("a", "", "h", "s", []byte(`["CODEINE"]`), []byte(`["Toxic"]`), 0, 0.9, "v", now.Add(-time.Hour)))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	list, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, 1, list[0].ErrorCount)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Purge(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM analysis_audit").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := store.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
