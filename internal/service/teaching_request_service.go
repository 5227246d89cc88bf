package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/repository"
	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
)

type requestReader interface {
	GetByID(ctx context.Context, id string) (*models.TeachingRequest, error)
}

type requestCreator interface {
	Create(ctx context.Context, criteria CreateRequestCriteria) (*models.TeachingRequest, error)
}

type teachingRequestRepository interface {
	GetByID(ctx context.Context, id string) (*models.TeachingRequest, error)
	Transition(ctx context.Context, params repository.TransitionParams) error
	List(ctx context.Context, filter models.TeachingRequestFilter) ([]models.TeachingRequest, int, error)
}

// RejectRequest carries an optional reason for declining.
type RejectRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

// CancelRequest carries the mandatory cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// TeachingRequestService implements the party actions around the matching engine
// and dispatches lifecycle notifications after each successful write.
type TeachingRequestService struct {
	engine    requestCreator
	repo      teachingRequestRepository
	notifier  EventNotifier
	meetings  MeetingScheduler
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	clock     func() time.Time
}

// NewTeachingRequestService constructs the service. notifier and meetings may be nil.
func NewTeachingRequestService(engine requestCreator, repo teachingRequestRepository, notifier EventNotifier, meetings MeetingScheduler, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *TeachingRequestService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if meetings == nil {
		meetings = noopScheduler{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeachingRequestService{
		engine:    engine,
		repo:      repo,
		notifier:  notifier,
		meetings:  meetings,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		clock:     time.Now,
	}
}

// Create runs automatic matching for the actor's school and notifies the first assignee.
func (s *TeachingRequestService) Create(ctx context.Context, actor Actor, criteria CreateRequestCriteria) (*models.TeachingRequest, error) {
	if actor.Role == models.RoleSchool {
		criteria.SchoolID = actor.ID
	} else if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only schools can create requests")
	}
	req, err := s.engine.Create(ctx, criteria)
	s.metrics.RecordRequestCreated(err)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, models.NewRequestEvent(models.EventRequestAssigned, req, s.clock()))
	return req, nil
}

// Get returns a request visible to the actor.
func (s *TeachingRequestService) Get(ctx context.Context, actor Actor, id string) (*models.TeachingRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canView(req) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a party of this request")
	}
	return req, nil
}

// List returns the actor's requests. Admins may filter freely.
func (s *TeachingRequestService) List(ctx context.Context, actor Actor, filter models.TeachingRequestFilter) ([]models.TeachingRequest, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleSchool:
		filter.SchoolID = actor.ID
	case models.RoleTeacher:
		filter.TeacherID = actor.ID
	case models.RoleAdmin:
	default:
		return nil, nil, appErrors.ErrForbidden
	}
	for _, status := range filter.Status {
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status "+string(status))
		}
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Persistence(err, "failed to list teaching requests")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListForSchool returns requests created by schoolID.
func (s *TeachingRequestService) ListForSchool(ctx context.Context, schoolID string, filter models.TeachingRequestFilter) ([]models.TeachingRequest, *models.Pagination, error) {
	return s.List(ctx, Actor{ID: schoolID, Role: models.RoleSchool}, filter)
}

// ListForTeacher returns requests currently assigned to teacherID.
func (s *TeachingRequestService) ListForTeacher(ctx context.Context, teacherID string, filter models.TeachingRequestFilter) ([]models.TeachingRequest, *models.Pagination, error) {
	return s.List(ctx, Actor{ID: teacherID, Role: models.RoleTeacher}, filter)
}

// Accept confirms the assignment for the current assignee.
func (s *TeachingRequestService) Accept(ctx context.Context, actor Actor, id string) (*models.TeachingRequest, error) {
	req, err := s.assigneeTransition(ctx, actor, id, models.RequestStatusAccepted)
	s.metrics.RecordPartyAction("accept", err)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, models.NewRequestEvent(models.EventRequestAccepted, req, req.UpdatedAt))
	s.meetings.ScheduleMeeting(ctx, req.ID)
	return req, nil
}

// Reject declines the assignment. Rejection is terminal and does not escalate.
func (s *TeachingRequestService) Reject(ctx context.Context, actor Actor, id string, body RejectRequest) (*models.TeachingRequest, error) {
	if err := s.validator.Struct(body); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reject payload")
	}
	req, err := s.assigneeTransition(ctx, actor, id, models.RequestStatusRejected)
	s.metrics.RecordPartyAction("reject", err)
	if err != nil {
		return nil, err
	}
	event := models.NewRequestEvent(models.EventRequestRejected, req, req.UpdatedAt)
	if body.Reason != nil {
		event.Attributes = map[string]string{"reason": *body.Reason}
	}
	s.notifier.Notify(ctx, event)
	return req, nil
}

// Cancel withdraws a pending or accepted request. Only the owning school or an admin may cancel.
func (s *TeachingRequestService) Cancel(ctx context.Context, actor Actor, id string, body CancelRequest) (*models.TeachingRequest, error) {
	body.Reason = strings.TrimSpace(body.Reason)
	if err := s.validator.Struct(body); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancel payload")
	}
	req, err := s.cancel(ctx, actor, id, body.Reason)
	s.metrics.RecordPartyAction("cancel", err)
	if err != nil {
		return nil, err
	}
	event := models.NewRequestEvent(models.EventRequestCancelled, req, req.UpdatedAt)
	event.Attributes = map[string]string{"reason": body.Reason}
	s.notifier.Notify(ctx, event)
	return req, nil
}

func (s *TeachingRequestService) cancel(ctx context.Context, actor Actor, id, reason string) (*models.TeachingRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.ownsAsSchool(req) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requesting school can cancel")
	}
	if req.Status != models.RequestStatusPending && req.Status != models.RequestStatusAccepted {
		return nil, appErrors.Clone(appErrors.ErrStaleState, "request can no longer be cancelled")
	}

	now := s.clock().UTC()
	cancelledBy := actor.ID
	err = s.repo.Transition(ctx, repository.TransitionParams{
		ID:              req.ID,
		ExpectedVersion: req.Version,
		From:            []models.RequestStatus{models.RequestStatusPending, models.RequestStatusAccepted},
		To:              models.RequestStatusCancelled,
		Reason:          &reason,
		CancelledBy:     &cancelledBy,
		At:              now,
	})
	if err != nil {
		return nil, mapWriteError(err, "failed to cancel request")
	}
	req.Status = models.RequestStatusCancelled
	req.CancellationReason = &reason
	req.CancelledBy = &cancelledBy
	req.CancelledAt = &now
	req.Version++
	req.UpdatedAt = now
	return req, nil
}

func (s *TeachingRequestService) assigneeTransition(ctx context.Context, actor Actor, id string, to models.RequestStatus) (*models.TeachingRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.assignedTeacher(req) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request is not assigned to you")
	}
	if req.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrStaleState, "request is no longer pending")
	}

	now := s.clock().UTC()
	err = s.repo.Transition(ctx, repository.TransitionParams{
		ID:              req.ID,
		ExpectedVersion: req.Version,
		To:              to,
		TeacherID:       actor.ID,
		At:              now,
	})
	if err != nil {
		return nil, mapWriteError(err, "failed to update request")
	}
	s.logger.Info("teaching request transitioned",
		zap.String("request_id", req.ID),
		zap.String("status", string(to)),
		zap.String("teacher_id", actor.ID),
	)
	req.Status = to
	req.Version++
	req.UpdatedAt = now
	return req, nil
}

func (s *TeachingRequestService) load(ctx context.Context, id string) (*models.TeachingRequest, error) {
	return loadTeachingRequest(ctx, s.repo, id)
}

func loadTeachingRequest(ctx context.Context, reader requestReader, id string) (*models.TeachingRequest, error) {
	req, err := reader.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching request not found")
		}
		return nil, appErrors.Persistence(err, "failed to load teaching request")
	}
	return req, nil
}

func mapWriteError(err error, message string) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return appErrors.Wrap(err, appErrors.ErrStaleState.Code, appErrors.ErrStaleState.Status, appErrors.ErrStaleState.Message)
	}
	return appErrors.Persistence(err, message)
}
