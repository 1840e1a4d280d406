package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/nurse-call-api/internal/model"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
)

var columns = []string{
	"id", "patient_name", "contact_number", "room_number", "bed_number", "disease",
	"description", "priority", "status", "assigned_nurse_id", "created_at", "completed_at",
}

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestSave_Upserts(t *testing.T) {
	db, mock := setupMockDB(t)
	archive := NewRequestArchive(db)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	nurse := "n-1"
	req := model.Request{
		ID:              "r-1",
		PatientName:     "Asha",
		ContactNumber:   "555",
		RoomNumber:      "4B",
		Disease:         "Fever",
		Priority:        model.PriorityMedium,
		Status:          model.RequestStatusAssigned,
		AssignedNurseID: &nurse,
		CreatedAt:       created,
	}

	mock.ExpectExec(`INSERT INTO requests .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("r-1", "Asha", "555", "4B", nil, "Fever", "", "medium", "assigned", "n-1", created, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, archive.Save(context.Background(), req))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_WrapsErrors(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(`INSERT INTO requests`).WillReturnError(errors.New("connection reset"))

	err := NewRequestArchive(db).Save(context.Background(), model.Request{ID: "r-1"})
	assert.ErrorContains(t, err, "r-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT .* FROM requests WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := NewRequestArchive(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.NotFoundErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive(t *testing.T) {
	db, mock := setupMockDB(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(columns).
		AddRow("r-1", "Asha", "555", "4B", nil, "Chest pain", "", "critical", "pending", nil, created, nil).
		AddRow("r-2", "Ben", "556", "5", "2", "Fever", "since noon", "medium", "assigned", "n-1", created.Add(time.Minute), nil)
	mock.ExpectQuery(`WHERE status IN \('pending', 'assigned'\)`).WillReturnRows(rows)

	reqs, err := NewRequestArchive(db).ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, model.PriorityCritical, reqs[0].Priority)
	assert.Nil(t, reqs[0].BedNumber)
	assert.Nil(t, reqs[0].AssignedNurseID)

	assert.Equal(t, model.RequestStatusAssigned, reqs[1].Status)
	require.NotNil(t, reqs[1].BedNumber)
	assert.Equal(t, "2", *reqs[1].BedNumber)
	assert.Equal(t, "n-1", reqs[1].NurseID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCompleted(t *testing.T) {
	db, mock := setupMockDB(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	done := created.Add(time.Hour)

	rows := sqlmock.NewRows(columns).
		AddRow("r-1", "Asha", "555", "4B", nil, "Fever", "", "medium", "completed", "n-1", created, done)
	mock.ExpectQuery(`WHERE status = 'completed'\s+ORDER BY completed_at DESC`).WillReturnRows(rows)

	reqs, err := NewRequestArchive(db).ListCompleted(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].CompletedAt)
	assert.True(t, done.Equal(*reqs[0].CompletedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS requests`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_requests_status_created`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_requests_completed_at`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_RollsBackOnError(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS requests`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	assert.Error(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
