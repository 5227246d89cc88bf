package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/substitute-api/internal/models"
)

const rescheduleColumns = `id, request_id, proposed_by, proposer_role, old_date, old_time, new_date, new_time, status, reason,
       responded_by, responded_at, created_at`

// RescheduleRepository persists reschedule proposals.
type RescheduleRepository struct {
	db *sqlx.DB
}

// NewRescheduleRepository constructs the repository.
func NewRescheduleRepository(db *sqlx.DB) *RescheduleRepository {
	return &RescheduleRepository{db: db}
}

// Create inserts a pending proposal. A second pending proposal for the same
// request violates a partial unique index and yields ErrDuplicate.
func (r *RescheduleRepository) Create(ctx context.Context, proposal *models.RescheduleRequest) error {
	if proposal.ID == "" {
		proposal.ID = uuid.NewString()
	}
	if proposal.Status == "" {
		proposal.Status = models.RescheduleStatusPending
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO reschedule_requests
	(id, request_id, proposed_by, proposer_role, old_date, old_time, new_date, new_time, status, reason, created_at)
	VALUES (:id, :request_id, :proposed_by, :proposer_role, :old_date, :old_time, :new_date, :new_time, :status, :reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, proposal); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create reschedule request: %w", err)
	}
	return nil
}

// GetByID fetches a proposal by identifier.
func (r *RescheduleRepository) GetByID(ctx context.Context, id string) (*models.RescheduleRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM reschedule_requests WHERE id = $1", rescheduleColumns)
	var proposal models.RescheduleRequest
	if err := r.db.GetContext(ctx, &proposal, query, id); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// FindPending returns the open proposal for a request, or sql.ErrNoRows.
func (r *RescheduleRepository) FindPending(ctx context.Context, requestID string) (*models.RescheduleRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM reschedule_requests WHERE request_id = $1 AND status = 'pending'", rescheduleColumns)
	var proposal models.RescheduleRequest
	if err := r.db.GetContext(ctx, &proposal, query, requestID); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// ListByRequest returns proposals for a request, newest first.
func (r *RescheduleRepository) ListByRequest(ctx context.Context, requestID string) ([]models.RescheduleRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM reschedule_requests WHERE request_id = $1 ORDER BY created_at DESC", rescheduleColumns)
	var items []models.RescheduleRequest
	if err := r.db.SelectContext(ctx, &items, query, requestID); err != nil {
		return nil, fmt.Errorf("list reschedule requests: %w", err)
	}
	return items, nil
}

// ResolveParams describes the response to a pending proposal.
type ResolveParams struct {
	ID        string
	RequestID string
	Accept    bool
	// Expire closes the proposal as expired without touching the parent.
	Expire      bool
	RespondedBy string
	At          time.Time
	// ExpectedVersion guards the parent request when Accept is set.
	ExpectedVersion int
	NewDate         string
	NewTime         string
}

// Resolve closes a pending proposal. When accepted the parent request's slot is
// moved in the same transaction, guarded by its version.
func (r *RescheduleRepository) Resolve(ctx context.Context, params ResolveParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reschedule tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	status := models.RescheduleStatusRejected
	if params.Expire {
		status = models.RescheduleStatusExpired
	} else if params.Accept {
		status = models.RescheduleStatusAccepted
		const moveQuery = `UPDATE teaching_requests
		SET schedule_date = $1, schedule_time = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5 AND status IN ('pending', 'accepted')`
		res, execErr := tx.ExecContext(ctx, moveQuery, params.NewDate, params.NewTime, params.At, params.RequestID, params.ExpectedVersion)
		if execErr != nil {
			return fmt.Errorf("move teaching request schedule: %w", execErr)
		}
		if err = expectOneRow(res, "move teaching request schedule"); err != nil {
			return err
		}
	}

	const closeQuery = `UPDATE reschedule_requests SET status = $1, responded_by = $2, responded_at = $3
	WHERE id = $4 AND status = 'pending'`
	res, execErr := tx.ExecContext(ctx, closeQuery, status, params.RespondedBy, params.At, params.ID)
	if execErr != nil {
		return fmt.Errorf("close reschedule request: %w", execErr)
	}
	if err = expectOneRow(res, "close reschedule request"); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reschedule tx: %w", err)
	}
	return nil
}
