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
	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
)

const (
	teacherSearchPrefix  = "teachers:search:"
	teacherSearchPattern = teacherSearchPrefix + "*"
)

type teacherRepository interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error)
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	UpdateProfile(ctx context.Context, teacher *models.Teacher) error
}

type searchCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// UpdateTeacherProfileRequest represents the editable profile fields.
type UpdateTeacherProfileRequest struct {
	FullName *string  `json:"full_name" validate:"omitempty,min=1,max=200"`
	Subjects []string `json:"subjects" validate:"omitempty,max=20,dive,required,max=100"`
	MaxGrade *int     `json:"max_grade" validate:"omitempty,min=1,max=12"`
	Bio      *string  `json:"bio" validate:"omitempty,max=2000"`
	Active   *bool    `json:"active"`
}

type teacherSearchPage struct {
	Items      []models.Teacher   `json:"items"`
	Pagination *models.Pagination `json:"pagination"`
}

// TeacherService serves the teacher directory.
type TeacherService struct {
	repo      teacherRepository
	cache     searchCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeacherService constructs a TeacherService. cache may be nil.
func NewTeacherService(repo teacherRepository, cache searchCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *TeacherService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// Search lists teachers matching the filter. Grade matches teachers whose
// max_grade is at least the requested grade, the same rule used for ranking.
func (s *TeacherService) Search(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, *models.Pagination, error) {
	filter.Subject = strings.TrimSpace(filter.Subject)
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	key := HashKey(teacherSearchPrefix, filter)

	if s.cache != nil {
		var cached teacherSearchPage
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached.Items, cached.Pagination, nil
		}
	}

	teachers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	if teachers == nil {
		teachers = []models.Teacher{}
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, teacherSearchPage{Items: teachers, Pagination: pagination}, s.cacheTTL)
	}
	return teachers, pagination, nil
}

// Get returns a teacher by id.
func (s *TeacherService) Get(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return teacher, nil
}

// UpdateProfile edits a profile. Teachers edit their own; only admins toggle active.
func (s *TeacherService) UpdateProfile(ctx context.Context, actor Actor, id string, req UpdateTeacherProfileRequest) (*models.Teacher, error) {
	if !actor.IsAdmin() && !(actor.Role == models.RoleTeacher && actor.ID == id) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot edit another teacher's profile")
	}
	if req.Active != nil && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can change active status")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}

	teacher, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.FullName != nil {
		teacher.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Subjects != nil {
		teacher.Subjects = normalizeSubjects(req.Subjects)
	}
	if req.MaxGrade != nil {
		teacher.MaxGrade = *req.MaxGrade
	}
	if req.Bio != nil {
		bio := strings.TrimSpace(*req.Bio)
		teacher.Bio = &bio
	}
	if req.Active != nil {
		teacher.Active = *req.Active
	}

	if err := s.repo.UpdateProfile(ctx, teacher); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update teacher")
	}
	s.InvalidateSearch(ctx)
	return teacher, nil
}

// InvalidateSearch drops cached directory pages.
func (s *TeacherService) InvalidateSearch(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, teacherSearchPattern); err != nil {
		s.logger.Warn("teacher search invalidation failed", zap.Error(err))
	}
}

func normalizeSubjects(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, subject := range raw {
		trimmed := strings.TrimSpace(subject)
		key := strings.ToLower(trimmed)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
