package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/repository"
	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
)

type reviewRepository interface {
	Create(ctx context.Context, review *models.Review) error
	ListByTeacher(ctx context.Context, teacherID string, page, size int) ([]models.Review, int, error)
}

type searchInvalidator interface {
	InvalidateSearch(ctx context.Context)
}

// CreateReviewRequest is the payload for rating an accepted request.
type CreateReviewRequest struct {
	Rating  int     `json:"rating" validate:"required,min=1,max=5"`
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

// ReviewService records school reviews of accepted assignments.
type ReviewService struct {
	requests    requestReader
	repo        reviewRepository
	invalidator searchInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewReviewService constructs the service. invalidator may be nil.
func NewReviewService(requests requestReader, repo reviewRepository, invalidator searchInvalidator, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{requests: requests, repo: repo, invalidator: invalidator, validator: validate, logger: logger}
}

// Create stores the owning school's review of an accepted request.
func (s *ReviewService) Create(ctx context.Context, actor Actor, requestID string, body CreateReviewRequest) (*models.Review, error) {
	if err := s.validator.Struct(body); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	req, err := loadTeachingRequest(ctx, s.requests, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.ownsAsSchool(req) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requesting school can review")
	}
	if req.Status != models.RequestStatusAccepted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only accepted requests can be reviewed")
	}

	review := &models.Review{
		RequestID: req.ID,
		SchoolID:  req.SchoolID,
		TeacherID: req.TeacherID,
		Rating:    body.Rating,
	}
	if body.Comment != nil {
		comment := strings.TrimSpace(*body.Comment)
		review.Comment = &comment
	}
	if err := s.repo.Create(ctx, review); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request already reviewed")
		}
		return nil, appErrors.Persistence(err, "failed to create review")
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateSearch(ctx)
	}
	s.logger.Info("review created", zap.String("request_id", req.ID), zap.String("teacher_id", req.TeacherID), zap.Int("rating", body.Rating))
	return review, nil
}

// ListForTeacher returns a page of reviews for a teacher.
func (s *ReviewService) ListForTeacher(ctx context.Context, teacherID string, page, size int) ([]models.Review, *models.Pagination, error) {
	reviews, total, err := s.repo.ListByTeacher(ctx, teacherID, page, size)
	if err != nil {
		return nil, nil, appErrors.Persistence(err, "failed to list reviews")
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	page, size = models.NormalizePage(page, size)
	return reviews, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
