package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/repository"
	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
)

type candidateRanker interface {
	Rank(ctx context.Context, subject string, minGrade int, minRating *float64, limit int) ([]models.Candidate, error)
}

type teachingRequestStore interface {
	Create(ctx context.Context, req *models.TeachingRequest) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.TeachingRequest, error)
	Escalate(ctx context.Context, params repository.EscalateParams) error
	MarkFailed(ctx context.Context, id string, expectedVersion int, at time.Time) error
}

// CreateRequestCriteria is the input of an automatic teaching request.
type CreateRequestCriteria struct {
	SchoolID      string   `json:"school_id,omitempty" validate:"required"`
	Subject       string   `json:"subject" validate:"required,max=100"`
	ScheduleDate  string   `json:"schedule_date" validate:"required"`
	ScheduleTime  string   `json:"schedule_time" validate:"required"`
	GradeLevel    int      `json:"grade_level" validate:"required,min=1"`
	MinimumRating *float64 `json:"minimum_rating" validate:"omitempty,min=0,max=5"`
	Notes         *string  `json:"notes" validate:"omitempty,max=1000"`
}

// MatchingConfig tunes ranking and escalation.
type MatchingConfig struct {
	TimeoutWindow  time.Duration
	BatchSize      int
	CandidateLimit int
}

// SweepOutcome labels the effect of a sweep on one request.
type SweepOutcome string

const (
	SweepOutcomeEscalated SweepOutcome = "escalated"
	SweepOutcomeFailed    SweepOutcome = "failed"
	SweepOutcomeStale     SweepOutcome = "stale"
)

// SweepTransition records one written transition.
type SweepTransition struct {
	RequestID       string                  `json:"request_id"`
	Outcome         SweepOutcome            `json:"outcome"`
	PreviousTeacher string                  `json:"previous_teacher_id"`
	Request         *models.TeachingRequest `json:"request"`
}

// SweepResult summarises a sweep invocation. Processed counts written transitions.
// Skipped is set by the sweeper when another instance held the sweep lock.
type SweepResult struct {
	Processed   int               `json:"processed"`
	Escalated   int               `json:"escalated"`
	Failed      int               `json:"failed"`
	Stale       int               `json:"stale"`
	Skipped     bool              `json:"skipped,omitempty"`
	Transitions []SweepTransition `json:"transitions"`
}

// MatchingService ranks candidates for new requests and escalates lapsed ones.
// It performs no notification; callers react to the returned state.
type MatchingService struct {
	ranker    candidateRanker
	store     teachingRequestStore
	cfg       MatchingConfig
	clock     func() time.Time
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMatchingService constructs the engine.
func NewMatchingService(ranker candidateRanker, store teachingRequestStore, cfg MatchingConfig, validate *validator.Validate, logger *zap.Logger) *MatchingService {
	if cfg.TimeoutWindow <= 0 {
		cfg.TimeoutWindow = 2 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 3
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchingService{
		ranker:    ranker,
		store:     store,
		cfg:       cfg,
		clock:     time.Now,
		validator: validate,
		logger:    logger,
	}
}

// WithClock overrides the time source used by Create.
func (s *MatchingService) WithClock(clock func() time.Time) *MatchingService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Window returns the configured response window.
func (s *MatchingService) Window() time.Duration { return s.cfg.TimeoutWindow }

// Create ranks candidates for the criteria and persists a pending request
// assigned to the best one. Nothing is persisted when no teacher matches.
func (s *MatchingService) Create(ctx context.Context, criteria CreateRequestCriteria) (*models.TeachingRequest, error) {
	criteria.Subject = strings.TrimSpace(criteria.Subject)
	if err := s.validator.Struct(criteria); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request criteria")
	}
	if err := validateSlot(criteria.ScheduleDate, criteria.ScheduleTime); err != nil {
		return nil, err
	}

	candidates, err := s.ranker.Rank(ctx, criteria.Subject, criteria.GradeLevel, criteria.MinimumRating, s.cfg.CandidateLimit)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to rank teachers")
	}
	ids := uniqueCandidateIDs(candidates, s.cfg.CandidateLimit)
	if len(ids) == 0 {
		return nil, appErrors.ErrNoCandidates
	}

	now := s.clock().UTC()
	req := &models.TeachingRequest{
		SchoolID:         criteria.SchoolID,
		TeacherID:        ids[0],
		Subject:          criteria.Subject,
		ScheduleDate:     criteria.ScheduleDate,
		ScheduleTime:     criteria.ScheduleTime,
		GradeLevel:       criteria.GradeLevel,
		MinimumRating:    criteria.MinimumRating,
		Status:           models.RequestStatusPending,
		TimeoutAt:        now.Add(s.cfg.TimeoutWindow),
		FallbackTeachers: models.FallbackQueue(ids[1:]),
		Notes:            criteria.Notes,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, appErrors.Persistence(err, "failed to create teaching request")
	}

	s.logger.Info("teaching request created",
		zap.String("request_id", req.ID),
		zap.String("teacher_id", req.TeacherID),
		zap.Int("fallback", req.FallbackTeachers.Len()),
	)
	return req, nil
}

// Sweep escalates or fails up to one batch of pending requests whose deadline
// is at or before now. Each write is conditioned on the version read, so a row
// changed concurrently is counted as stale and left for the next sweep.
// Per-row storage failures do not stop the batch; they are joined into the
// returned error alongside the partial result.
func (s *MatchingService) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	now = now.UTC()
	due, err := s.store.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to load lapsed requests")
	}

	result := &SweepResult{Transitions: make([]SweepTransition, 0, len(due))}
	var errs []error
	seen := make(map[string]struct{}, len(due))

	for i := range due {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, ctxErr)
			break
		}
		req := due[i]
		if _, dup := seen[req.ID]; dup {
			continue
		}
		seen[req.ID] = struct{}{}
		if !req.Lapsed(now) {
			continue
		}

		transition, err := s.advance(ctx, &req, now)
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			result.Stale++
			s.logger.Debug("sweep lost race", zap.String("request_id", req.ID))
		case err != nil:
			errs = append(errs, err)
			s.logger.Warn("sweep transition failed", zap.String("request_id", req.ID), zap.Error(err))
		default:
			result.Processed++
			if transition.Outcome == SweepOutcomeEscalated {
				result.Escalated++
			} else {
				result.Failed++
			}
			result.Transitions = append(result.Transitions, transition)
		}
	}

	if len(errs) > 0 {
		return result, appErrors.Persistence(errors.Join(errs...), "sweep completed with errors")
	}
	return result, nil
}

func (s *MatchingService) advance(ctx context.Context, req *models.TeachingRequest, now time.Time) (SweepTransition, error) {
	previous := req.TeacherID
	head, rest, ok := req.FallbackTeachers.Pop()
	for ok && head == previous {
		head, rest, ok = rest.Pop()
	}

	if !ok {
		if err := s.store.MarkFailed(ctx, req.ID, req.Version, now); err != nil {
			return SweepTransition{}, err
		}
		req.Status = models.RequestStatusFailed
		req.FallbackTeachers = models.FallbackQueue{}
		req.Version++
		req.UpdatedAt = now
		return SweepTransition{RequestID: req.ID, Outcome: SweepOutcomeFailed, PreviousTeacher: previous, Request: req}, nil
	}

	timeoutAt := now.Add(s.cfg.TimeoutWindow)
	err := s.store.Escalate(ctx, repository.EscalateParams{
		ID:              req.ID,
		ExpectedVersion: req.Version,
		TeacherID:       head,
		Fallback:        rest,
		TimeoutAt:       timeoutAt,
		UpdatedAt:       now,
	})
	if err != nil {
		return SweepTransition{}, err
	}
	req.TeacherID = head
	req.FallbackTeachers = rest
	req.TimeoutAt = timeoutAt
	req.Version++
	req.UpdatedAt = now
	return SweepTransition{RequestID: req.ID, Outcome: SweepOutcomeEscalated, PreviousTeacher: previous, Request: req}, nil
}

func uniqueCandidateIDs(candidates []models.Candidate, limit int) []string {
	ids := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.TeacherID == "" {
			continue
		}
		if _, ok := seen[c.TeacherID]; ok {
			continue
		}
		seen[c.TeacherID] = struct{}{}
		ids = append(ids, c.TeacherID)
		if len(ids) == limit {
			break
		}
	}
	return ids
}

// validateSlot checks the syntax of a schedule slot. Past slots are accepted.
func validateSlot(date, clock string) error {
	if _, err := time.Parse(models.ScheduleDateLayout, date); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "schedule_date must be YYYY-MM-DD")
	}
	if _, err := time.Parse(models.ScheduleTimeLayout, clock); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "schedule_time must be HH:MM")
	}
	return nil
}
