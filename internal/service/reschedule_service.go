package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/repository"
	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
)

type rescheduleRepository interface {
	Create(ctx context.Context, proposal *models.RescheduleRequest) error
	GetByID(ctx context.Context, id string) (*models.RescheduleRequest, error)
	FindPending(ctx context.Context, requestID string) (*models.RescheduleRequest, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.RescheduleRequest, error)
	Resolve(ctx context.Context, params repository.ResolveParams) error
}

// ProposeRescheduleRequest is the payload for proposing a new slot.
type ProposeRescheduleRequest struct {
	NewDate string  `json:"new_date" validate:"required"`
	NewTime string  `json:"new_time" validate:"required"`
	Reason  *string `json:"reason" validate:"omitempty,max=500"`
}

// RespondRescheduleRequest answers a pending proposal.
type RespondRescheduleRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

// RescheduleService lets the two parties of a request negotiate a new slot.
type RescheduleService struct {
	requests  requestReader
	repo      rescheduleRepository
	notifier  EventNotifier
	validator *validator.Validate
	logger    *zap.Logger
	clock     func() time.Time
}

// NewRescheduleService constructs the service.
func NewRescheduleService(requests requestReader, repo rescheduleRepository, notifier EventNotifier, validate *validator.Validate, logger *zap.Logger) *RescheduleService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RescheduleService{requests: requests, repo: repo, notifier: notifier, validator: validate, logger: logger, clock: time.Now}
}

// Propose opens a reschedule proposal from the school or the assigned teacher.
func (s *RescheduleService) Propose(ctx context.Context, actor Actor, requestID string, body ProposeRescheduleRequest) (*models.RescheduleRequest, error) {
	if err := s.validator.Struct(body); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	if err := validateSlot(body.NewDate, body.NewTime); err != nil {
		return nil, err
	}

	req, err := loadTeachingRequest(ctx, s.requests, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.ownsAsSchool(req) && !actor.assignedTeacher(req) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a party of this request")
	}
	if req.Status != models.RequestStatusPending && req.Status != models.RequestStatusAccepted {
		return nil, appErrors.Clone(appErrors.ErrStaleState, "request can no longer be rescheduled")
	}
	if body.NewDate == req.ScheduleDate && body.NewTime == req.ScheduleTime {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new slot equals current slot")
	}

	pending, err := s.repo.FindPending(ctx, req.ID)
	switch {
	case err == nil:
		if !proposerDetached(req, pending) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a reschedule proposal is already pending")
		}
		if err := s.expire(ctx, pending, actor.ID); err != nil {
			return nil, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Persistence(err, "failed to check reschedule proposals")
	}

	proposal := &models.RescheduleRequest{
		RequestID:    req.ID,
		ProposedBy:   actor.ID,
		ProposerRole: actor.Role,
		OldDate:      req.ScheduleDate,
		OldTime:      req.ScheduleTime,
		NewDate:      body.NewDate,
		NewTime:      body.NewTime,
		Status:       models.RescheduleStatusPending,
		Reason:       body.Reason,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.repo.Create(ctx, proposal); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a reschedule proposal is already pending")
		}
		return nil, appErrors.Persistence(err, "failed to create reschedule proposal")
	}

	event := models.NewRequestEvent(models.EventRescheduleProposed, req, proposal.CreatedAt)
	event.Attributes = map[string]string{
		"reschedule_id": proposal.ID,
		"proposed_by":   actor.ID,
		"new_date":      proposal.NewDate,
		"new_time":      proposal.NewTime,
	}
	s.notifier.Notify(ctx, event)
	return proposal, nil
}

// Respond accepts or rejects a pending proposal. A teacher's proposal is
// answered by the school or an admin, a school's by the assigned teacher.
// Accepting moves the request's slot atomically. A teacher proposal whose
// author has since been escalated away is expired instead.
func (s *RescheduleService) Respond(ctx context.Context, actor Actor, rescheduleID string, body RespondRescheduleRequest) (*models.RescheduleRequest, error) {
	if err := s.validator.Struct(body); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule response")
	}
	proposal, err := s.repo.GetByID(ctx, rescheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reschedule proposal not found")
		}
		return nil, appErrors.Persistence(err, "failed to load reschedule proposal")
	}
	if proposal.Status != models.RescheduleStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "reschedule proposal already resolved")
	}

	req, err := loadTeachingRequest(ctx, s.requests, proposal.RequestID)
	if err != nil {
		return nil, err
	}
	if !actor.canView(req) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a party of this request")
	}
	if proposerDetached(req, proposal) {
		if err := s.expire(ctx, proposal, actor.ID); err != nil {
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrStaleState, "proposer is no longer assigned to this request")
	}
	if !canRespond(actor, req, proposal) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the other party can respond to this proposal")
	}

	accept := *body.Accept
	now := s.clock().UTC()
	err = s.repo.Resolve(ctx, repository.ResolveParams{
		ID:              proposal.ID,
		RequestID:       req.ID,
		Accept:          accept,
		RespondedBy:     actor.ID,
		At:              now,
		ExpectedVersion: req.Version,
		NewDate:         proposal.NewDate,
		NewTime:         proposal.NewTime,
	})
	if err != nil {
		return nil, mapWriteError(err, "failed to resolve reschedule proposal")
	}

	responder := actor.ID
	proposal.RespondedBy = &responder
	proposal.RespondedAt = &now
	proposal.Status = models.RescheduleStatusRejected
	if accept {
		proposal.Status = models.RescheduleStatusAccepted
		req.ScheduleDate = proposal.NewDate
		req.ScheduleTime = proposal.NewTime
	}

	event := models.NewRequestEvent(models.EventRescheduleResponded, req, now)
	event.Attributes = map[string]string{
		"reschedule_id": proposal.ID,
		"status":        string(proposal.Status),
		"responded_by":  responder,
		"proposed_by":   proposal.ProposedBy,
	}
	s.notifier.Notify(ctx, event)
	s.logger.Info("reschedule resolved", zap.String("reschedule_id", proposal.ID), zap.String("status", string(proposal.Status)))
	return proposal, nil
}

func (s *RescheduleService) expire(ctx context.Context, proposal *models.RescheduleRequest, by string) error {
	err := s.repo.Resolve(ctx, repository.ResolveParams{
		ID:          proposal.ID,
		RequestID:   proposal.RequestID,
		Expire:      true,
		RespondedBy: by,
		At:          s.clock().UTC(),
	})
	if err != nil {
		return mapWriteError(err, "failed to expire reschedule proposal")
	}
	s.logger.Info("reschedule expired",
		zap.String("reschedule_id", proposal.ID),
		zap.String("proposed_by", proposal.ProposedBy),
	)
	return nil
}

// proposerDetached reports whether a teacher proposal outlived the author's assignment.
func proposerDetached(req *models.TeachingRequest, proposal *models.RescheduleRequest) bool {
	return proposal.ProposerRole == models.RoleTeacher && proposal.ProposedBy != req.TeacherID
}

func canRespond(actor Actor, req *models.TeachingRequest, proposal *models.RescheduleRequest) bool {
	if proposal.ProposerRole == models.RoleTeacher {
		return actor.IsAdmin() || actor.ownsAsSchool(req)
	}
	return actor.assignedTeacher(req)
}

// List returns proposals for a request the actor can see.
func (s *RescheduleService) List(ctx context.Context, actor Actor, requestID string) ([]models.RescheduleRequest, error) {
	req, err := loadTeachingRequest(ctx, s.requests, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.canView(req) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a party of this request")
	}
	items, err := s.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to list reschedule proposals")
	}
	return items, nil
}
