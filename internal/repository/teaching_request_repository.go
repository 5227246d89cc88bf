package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/substitute-api/internal/models"
)

const teachingRequestColumns = `id, school_id, teacher_id, subject, schedule_date, schedule_time, grade_level, minimum_rating,
       status, timeout_at, fallback_teachers, notes, meeting_link, cancellation_reason, cancelled_by, cancelled_at,
       version, created_at, updated_at`

// TeachingRequestRepository persists teaching requests. Every state change is a
// conditional update keyed on id, status and version.
type TeachingRequestRepository struct {
	db *sqlx.DB
}

// NewTeachingRequestRepository constructs the repository.
func NewTeachingRequestRepository(db *sqlx.DB) *TeachingRequestRepository {
	return &TeachingRequestRepository{db: db}
}

// Create inserts a new teaching request row.
func (r *TeachingRequestRepository) Create(ctx context.Context, req *models.TeachingRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	if req.FallbackTeachers == nil {
		req.FallbackTeachers = models.FallbackQueue{}
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	if req.Version == 0 {
		req.Version = 1
	}
	const query = `INSERT INTO teaching_requests
	(id, school_id, teacher_id, subject, schedule_date, schedule_time, grade_level, minimum_rating, status, timeout_at,
	 fallback_teachers, notes, version, created_at, updated_at)
	VALUES (:id, :school_id, :teacher_id, :subject, :schedule_date, :schedule_time, :grade_level, :minimum_rating, :status, :timeout_at,
	 :fallback_teachers, :notes, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create teaching request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *TeachingRequestRepository) GetByID(ctx context.Context, id string) (*models.TeachingRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM teaching_requests WHERE id = $1", teachingRequestColumns)
	var req models.TeachingRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListDue returns up to limit pending requests whose deadline is at or before now,
// oldest deadline first.
func (r *TeachingRequestRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.TeachingRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM teaching_requests
	WHERE status = 'pending' AND timeout_at <= $1
	ORDER BY timeout_at ASC, id ASC LIMIT $2`, teachingRequestColumns)
	var items []models.TeachingRequest
	if err := r.db.SelectContext(ctx, &items, query, now, limit); err != nil {
		return nil, fmt.Errorf("list due teaching requests: %w", err)
	}
	return items, nil
}

// EscalateParams describes a reassignment to the next fallback candidate.
type EscalateParams struct {
	ID              string
	ExpectedVersion int
	TeacherID       string
	Fallback        models.FallbackQueue
	TimeoutAt       time.Time
	UpdatedAt       time.Time
}

// Escalate reassigns a pending request if it is still at ExpectedVersion.
func (r *TeachingRequestRepository) Escalate(ctx context.Context, params EscalateParams) error {
	if params.Fallback == nil {
		params.Fallback = models.FallbackQueue{}
	}
	const query = `UPDATE teaching_requests
	SET teacher_id = $1, fallback_teachers = $2, timeout_at = $3, version = version + 1, updated_at = $4
	WHERE id = $5 AND status = 'pending' AND version = $6`
	res, err := r.db.ExecContext(ctx, query, params.TeacherID, params.Fallback, params.TimeoutAt, params.UpdatedAt, params.ID, params.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("escalate teaching request: %w", err)
	}
	return expectOneRow(res, "escalate teaching request")
}

// MarkFailed moves a pending request at expectedVersion to failed without touching the assignee.
func (r *TeachingRequestRepository) MarkFailed(ctx context.Context, id string, expectedVersion int, at time.Time) error {
	const query = `UPDATE teaching_requests
	SET status = 'failed', version = version + 1, updated_at = $1
	WHERE id = $2 AND status = 'pending' AND version = $3`
	res, err := r.db.ExecContext(ctx, query, at, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("mark teaching request failed: %w", err)
	}
	return expectOneRow(res, "mark teaching request failed")
}

// TransitionParams describes a party-initiated status change.
type TransitionParams struct {
	ID              string
	ExpectedVersion int
	From            []models.RequestStatus
	To              models.RequestStatus
	// TeacherID, when set, additionally requires the request to be assigned to this teacher.
	TeacherID   string
	Reason      *string
	CancelledBy *string
	At          time.Time
}

// Transition applies a guarded status change for accept, reject and cancel actions.
func (r *TeachingRequestRepository) Transition(ctx context.Context, params TransitionParams) error {
	if len(params.From) == 0 {
		params.From = []models.RequestStatus{models.RequestStatusPending}
	}
	args := []interface{}{params.To, params.At}
	set := []string{"status = $1", "updated_at = $2", "version = version + 1"}
	if params.To == models.RequestStatusCancelled {
		args = append(args, params.Reason, params.CancelledBy, params.At)
		set = append(set, "cancellation_reason = $3", "cancelled_by = $4", "cancelled_at = $5")
	}

	args = append(args, params.ID)
	conditions := []string{fmt.Sprintf("id = $%d", len(args))}
	args = append(args, params.ExpectedVersion)
	conditions = append(conditions, fmt.Sprintf("version = $%d", len(args)))

	statusPlaceholders := make([]string, len(params.From))
	for i, status := range params.From {
		args = append(args, status)
		statusPlaceholders[i] = fmt.Sprintf("$%d", len(args))
	}
	conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(statusPlaceholders, ",")))
	if params.TeacherID != "" {
		args = append(args, params.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}

	query := fmt.Sprintf("UPDATE teaching_requests SET %s WHERE %s", strings.Join(set, ", "), strings.Join(conditions, " AND "))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition teaching request: %w", err)
	}
	return expectOneRow(res, "transition teaching request")
}

// SetMeetingLink stores the conferencing link of an accepted request.
func (r *TeachingRequestRepository) SetMeetingLink(ctx context.Context, id, link string) error {
	const query = `UPDATE teaching_requests SET meeting_link = $1, updated_at = $2 WHERE id = $3 AND status = 'accepted'`
	res, err := r.db.ExecContext(ctx, query, link, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set meeting link: %w", err)
	}
	return expectOneRow(res, "set meeting link")
}

// List returns requests matching the filter, newest first, with the total count.
func (r *TeachingRequestRepository) List(ctx context.Context, filter models.TeachingRequestFilter) ([]models.TeachingRequest, int, error) {
	var conditions []string
	var args []interface{}
	if filter.SchoolID != "" {
		args = append(args, filter.SchoolID)
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	base := "FROM teaching_requests"
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC, id ASC LIMIT %d OFFSET %d", teachingRequestColumns, base, size, offset)
	var items []models.TeachingRequest
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list teaching requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count teaching requests: %w", err)
	}
	return items, total, nil
}
