package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"dharani-backend/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(sqlx.NewDb(db, "postgres"))
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestRecordStep_AppendsEntryAndAdvancesStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE service_requests SET")).
		WithArgs("WR_2025_001", "analyzing", 2, fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(seq), 0) + 1 FROM request_timeline")).
		WithArgs("WR_2025_001").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_timeline")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry := &models.TimelineEntry{
		RequestID:        "WR_2025_001",
		Step:             models.StepAnalyzing,
		Message:          "Analyzing your photos",
		SubmitterVisible: true,
		OversightVisible: true,
	}
	err := s.RecordStep(context.Background(), entry, models.StatusAnalyzing, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, entry.Seq)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, fixedNow.Unix(), entry.CreatedAt)
	assert.NotNil(t, entry.Context)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStep_WritesPatchInSameTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	worker := "worker-1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE service_requests SET")).
		WithArgs("WR_2025_002", "assigned", 4, fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("assigned_worker_id = COALESCE($4, assigned_worker_id)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM request_timeline")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_timeline")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry := &models.TimelineEntry{RequestID: "WR_2025_002", Step: models.StepAssigned}
	patch := &RequestPatch{
		AssignedWorkerID: &worker,
		Assignment:       &models.Assignment{WorkerID: worker, DistanceKm: 1.2},
	}
	require.NoError(t, s.RecordStep(context.Background(), entry, models.StatusAssigned, patch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStep_RejectsBackwardsTransition(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE service_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("WR_2025_003").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	entry := &models.TimelineEntry{RequestID: "WR_2025_003", Step: models.StepSubmitted}
	err := s.RecordStep(context.Background(), entry, models.StatusSubmitted, nil)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, entry.Seq, "no entry is appended on a rejected transition")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStep_SecondEntryForSameStepIsRejected(t *testing.T) {
	s, mock := newMockStore(t)
	worker := "worker-2"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE service_requests SET")).
		WithArgs("WR_2025_004", "assigned", 4, fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("assigned_worker_id = COALESCE($4, assigned_worker_id)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM request_timeline")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(5))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_timeline")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_request_timeline_step_once"})
	mock.ExpectRollback()

	entry := &models.TimelineEntry{RequestID: "WR_2025_004", Step: models.StepAssigned}
	err := s.RecordStep(context.Background(), entry, models.StatusAssigned, &RequestPatch{AssignedWorkerID: &worker})

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStep_UnknownRequest(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE service_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := s.RecordStep(context.Background(), &models.TimelineEntry{RequestID: "nope"}, models.StatusAnalyzing, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordStep_UnknownStatus(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.RecordStep(context.Background(), &models.TimelineEntry{RequestID: "x"}, models.RequestStatus("paused"), nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecordCollection_StaleFillLevelConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	expected := 80

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bins SET")).
		WithArgs("BIN_X_TES_001", fixedNow.Unix(), 12.5, int64(80)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM bins")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.RecordCollection(context.Background(), models.BinCollection{
		BinID:            "BIN_X_TES_001",
		WorkerID:         "w1",
		WasteCollectedKg: 12.5,
		CollectedAt:      fixedNow.Unix(),
	}, &expected)

	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCollection_MissingBin(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bins SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM bins")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := s.RecordCollection(context.Background(), models.BinCollection{BinID: "missing", CollectedAt: 1}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAverageDailyWaste(t *testing.T) {
	day := int64(86400)
	assert.Equal(t, 0.0, AverageDailyWaste(0, 0, 0, 0))
	assert.Equal(t, 14.0, AverageDailyWaste(1, 14, 100, 100))
	assert.Equal(t, 30.0, AverageDailyWaste(2, 30, 0, day/2), "history shorter than a day counts as one day")
	assert.Equal(t, 8.33, AverageDailyWaste(4, 25, 0, 3*day))
}

func TestCountBinsInArea(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bins")).
		WithArgs("Test Colony", "Bhimavaram").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := s.CountBinsInArea(context.Background(), "Test Colony", "Bhimavaram")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestListRequests_BuildsFilters(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("AND user_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3")).
		WithArgs("u1", "completed", 50).
		WillReturnRows(sqlmock.NewRows([]string{"request_id", "status"}).AddRow("WR_2025_001", "completed"))

	out, err := s.ListRequests(context.Background(), RequestFilter{UserID: "u1", Status: "completed"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.StatusCompleted, out[0].Status)
}

func TestListRequests_OldestFirstResumesAfterCursor(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("AND status = $1 AND (created_at, request_id) > ($2, $3) ORDER BY created_at, request_id LIMIT $4")).
		WithArgs("submitted", int64(1754000000), "WR_2025_200", 200).
		WillReturnRows(sqlmock.NewRows([]string{"request_id", "status"}).AddRow("WR_2025_201", "submitted"))

	out, err := s.ListRequests(context.Background(), RequestFilter{
		Status:      "submitted",
		Limit:       200,
		OldestFirst: true,
		After:       &RequestCursor{CreatedAt: 1754000000, RequestID: "WR_2025_200"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "WR_2025_201", out[0].RequestID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRequest_DuplicateID(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO service_requests").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.CreateRequest(context.Background(), &models.ServiceRequest{
		RequestID: "WR_2025_007",
		Status:    models.StatusSubmitted,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestStatusTotals_GroupsByStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM service_requests WHERE 1=1 AND assigned_worker_id = $1")).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{
			"status", "requests", "waste_collected_kg", "co2_saved_kg", "trees_equivalent",
			"water_saved_liters", "recycling_value", "environmental_score",
		}).
			AddRow("assigned", 1, "0", "0", "0", "0", "0", "0").
			AddRow("completed", 2, "3.6", "9.00", "0.42", "54", "12.5", "14.9"))

	rows, err := s.RequestStatusTotals(context.Background(), RequestFilter{WorkerID: "w1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "completed", rows[1].Status)
	assert.Equal(t, 2, rows[1].Requests)
	assert.Equal(t, "3.6", rows[1].WasteCollectedKg.String())
	assert.Equal(t, "14.9", rows[1].EnvironmentalScore.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWorkerLocation(t *testing.T) {
	s, mock := newMockStore(t)
	available := false

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET")).
		WithArgs("w1", 16.71, 81.09, "Gandhi Nagar", "Eluru", false, fixedNow.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "area", "city", "latitude", "longitude", "is_available"}).
			AddRow("w1", "worker", "Gandhi Nagar", "Eluru", 16.71, 81.09, false))

	u, err := s.UpdateWorkerLocation(context.Background(), "w1", models.WorkerLocationUpdate{
		Latitude: 16.71, Longitude: 81.09, Area: "Gandhi Nagar", City: "Eluru", IsAvailable: &available,
	})
	require.NoError(t, err)
	assert.Equal(t, "Eluru", u.City)
	assert.False(t, u.IsAvailable)
	require.NotNil(t, u.Latitude)
	assert.Equal(t, 16.71, *u.Latitude)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWorkerLocation_UnknownWorker(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET")).WillReturnError(sql.ErrNoRows)

	_, err := s.UpdateWorkerLocation(context.Background(), "c1", models.WorkerLocationUpdate{Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}
