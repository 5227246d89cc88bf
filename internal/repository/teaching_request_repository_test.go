package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/substitute-api/internal/models"
)

var teachingRequestRowColumns = []string{
	"id", "school_id", "teacher_id", "subject", "schedule_date", "schedule_time", "grade_level", "minimum_rating",
	"status", "timeout_at", "fallback_teachers", "notes", "meeting_link", "cancellation_reason", "cancelled_by", "cancelled_at",
	"version", "created_at", "updated_at",
}

func TestTeachingRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingRequestRepository(db)

	timeout := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO teaching_requests").
		WithArgs(sqlmock.AnyArg(), "school-1", "t1", "Math", "2024-05-02", "09:00", 5, nil, models.RequestStatusPending, timeout,
			`{"t2","t3"}`, nil, 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.TeachingRequest{
		SchoolID: "school-1", TeacherID: "t1", Subject: "Math", ScheduleDate: "2024-05-02", ScheduleTime: "09:00",
		GradeLevel: 5, TimeoutAt: timeout, FallbackTeachers: models.FallbackQueue{"t2", "t3"},
	}
	require.NoError(t, repo.Create(context.Background(), req))
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, 1, req.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingRequestRepositoryListDue(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingRequestRepository(db)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(teachingRequestRowColumns).
		AddRow("r1", "school-1", "t1", "Math", "2024-05-02", "09:00", 5, nil, "pending", now.Add(-time.Minute), []byte(`{t2,t3}`),
			nil, nil, nil, nil, nil, 1, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' AND timeout_at <= $1")).
		WithArgs(now, 10).
		WillReturnRows(rows)

	items, err := repo.ListDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.FallbackQueue{"t2", "t3"}, items[0].FallbackTeachers)
	assert.Nil(t, items[0].MinimumRating)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingRequestRepositoryEscalateConditional(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingRequestRepository(db)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("WHERE id = $5 AND status = 'pending' AND version = $6")
	mock.ExpectExec(query).
		WithArgs("t2", `{"t3"}`, now.Add(2*time.Hour), now, "r1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs("t2", `{"t3"}`, now.Add(2*time.Hour), now, "r1", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	params := EscalateParams{ID: "r1", ExpectedVersion: 3, TeacherID: "t2", Fallback: models.FallbackQueue{"t3"}, TimeoutAt: now.Add(2 * time.Hour), UpdatedAt: now}
	require.NoError(t, repo.Escalate(context.Background(), params))
	err := repo.Escalate(context.Background(), params)
	assert.True(t, errors.Is(err, ErrVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingRequestRepositoryMarkFailed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingRequestRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed', version = version + 1")).
		WithArgs(now, "r1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), "r1", 2, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingRequestRepositoryTransitionAccept(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingRequestRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE teaching_requests SET status = $1, updated_at = $2, version = version + 1 WHERE id = $3 AND version = $4 AND status IN ($5) AND teacher_id = $6")).
		WithArgs(models.RequestStatusAccepted, now, "r1", 1, models.RequestStatusPending, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Transition(context.Background(), TransitionParams{
		ID: "r1", ExpectedVersion: 1, To: models.RequestStatusAccepted, TeacherID: "t1", At: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingRequestRepositoryTransitionCancelLostRace(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingRequestRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("cancellation_reason = $3, cancelled_by = $4, cancelled_at = $5 WHERE id = $6 AND version = $7 AND status IN ($8,$9)")).
		WithArgs(models.RequestStatusCancelled, now, "no longer needed", "school-1", now, "r1", 4, models.RequestStatusPending, models.RequestStatusAccepted).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Transition(context.Background(), TransitionParams{
		ID: "r1", ExpectedVersion: 4, To: models.RequestStatusCancelled,
		From:   []models.RequestStatus{models.RequestStatusPending, models.RequestStatusAccepted},
		Reason: ptr("no longer needed"), CancelledBy: ptr("school-1"), At: now,
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingRequestRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingRequestRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(teachingRequestRowColumns).
		AddRow("r1", "school-1", "t1", "Math", "2024-05-02", "09:00", 5, 4.0, "accepted", now, []byte(`{}`),
			nil, "https://meet.example/abc", nil, nil, nil, 2, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM teaching_requests WHERE school_id = $1 AND status IN ($2) ORDER BY created_at DESC, id ASC LIMIT 20 OFFSET 0")).
		WithArgs("school-1", models.RequestStatusAccepted).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM teaching_requests WHERE school_id = $1 AND status IN ($2)")).
		WithArgs("school-1", models.RequestStatusAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.TeachingRequestFilter{
		SchoolID: "school-1", Status: []models.RequestStatus{models.RequestStatusAccepted},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, total)
	require.NotNil(t, items[0].MeetingLink)
	require.NotNil(t, items[0].MinimumRating)
	assert.Equal(t, 4.0, *items[0].MinimumRating)
	assert.NoError(t, mock.ExpectationsWereMet())
}
