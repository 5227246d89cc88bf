package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/pkg/calendar"
	"github.com/noah-isme/substitute-api/pkg/jobs"
)

const jobCalendarMeeting = "calendar.meeting"

type meetingCreator interface {
	CreateMeeting(ctx context.Context, meeting calendar.MeetingRequest) (*calendar.Meeting, error)
}

type meetingLinkStore interface {
	GetByID(ctx context.Context, id string) (*models.TeachingRequest, error)
	SetMeetingLink(ctx context.Context, id, link string) error
}

// CalendarConfig tunes meeting creation.
type CalendarConfig struct {
	Timezone         string
	MeetingDuration  time.Duration
	BreakerTimeout   time.Duration
	BreakerThreshold uint32
}

// CalendarService books a video meeting for every accepted request.
type CalendarService struct {
	queue    jobDispatcher
	client   meetingCreator
	requests meetingLinkStore
	teachers teacherFinder
	schools  schoolFinder
	breaker  *gobreaker.CircuitBreaker[*calendar.Meeting]
	location *time.Location
	duration time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewCalendarService registers the meeting job on queue.
func NewCalendarService(queue jobDispatcher, client meetingCreator, requests meetingLinkStore, teachers teacherFinder, schools schoolFinder, cfg CalendarConfig, metrics *MetricsService, logger *zap.Logger) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MeetingDuration <= 0 {
		cfg.MeetingDuration = time.Hour
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown calendar timezone, using UTC", zap.String("timezone", cfg.Timezone))
		location = time.UTC
	}

	svc := &CalendarService{
		queue:    queue,
		client:   client,
		requests: requests,
		teachers: teachers,
		schools:  schools,
		location: location,
		duration: cfg.MeetingDuration,
		metrics:  metrics,
		logger:   logger,
	}
	svc.breaker = gobreaker.NewCircuitBreaker[*calendar.Meeting](gobreaker.Settings{
		Name:        "google-calendar",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("calendar breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetCalendarBreakerState(int(to))
		},
	})
	queue.Register(jobCalendarMeeting, svc.handleMeeting)
	return svc
}

// ScheduleMeeting queues meeting creation for requestID.
func (s *CalendarService) ScheduleMeeting(_ context.Context, requestID string) {
	if err := s.queue.Enqueue(jobs.Job{ID: "meeting:" + requestID, Type: jobCalendarMeeting, Payload: requestID}); err != nil {
		s.logger.Warn("meeting job dropped", zap.String("request_id", requestID), zap.Error(err))
	}
}

func (s *CalendarService) handleMeeting(ctx context.Context, job jobs.Job) error {
	requestID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("job %s: unexpected payload %T", job.ID, job.Payload)
	}
	_, err := s.CreateMeeting(ctx, requestID)
	return err
}

// CreateMeeting books the meeting synchronously and stores its link. It
// returns an empty link when the request is no longer accepted or already has one.
func (s *CalendarService) CreateMeeting(ctx context.Context, requestID string) (string, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("load request %s: %w", requestID, err)
	}
	if req.Status != models.RequestStatusAccepted {
		s.logger.Debug("meeting skipped", zap.String("request_id", requestID), zap.String("status", string(req.Status)))
		return "", nil
	}
	if req.MeetingLink != nil && *req.MeetingLink != "" {
		return *req.MeetingLink, nil
	}

	start, err := time.ParseInLocation(models.ScheduleDateLayout+" "+models.ScheduleTimeLayout, req.ScheduleDate+" "+req.ScheduleTime, s.location)
	if err != nil {
		return "", fmt.Errorf("parse schedule of %s: %w", requestID, err)
	}

	meeting, err := s.breaker.Execute(func() (*calendar.Meeting, error) {
		return s.client.CreateMeeting(ctx, calendar.MeetingRequest{
			RequestID:   req.ID,
			Summary:     fmt.Sprintf("Substitute lesson: %s (grade %d)", req.Subject, req.GradeLevel),
			Description: notesOrEmpty(req.Notes),
			Start:       start,
			End:         start.Add(s.duration),
			Timezone:    s.location.String(),
			Attendees:   s.attendees(ctx, req),
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Warn("calendar unavailable", zap.String("request_id", requestID), zap.Error(err))
		}
		return "", err
	}

	if err := s.requests.SetMeetingLink(ctx, req.ID, meeting.Link); err != nil {
		return "", fmt.Errorf("store meeting link: %w", err)
	}
	s.logger.Info("meeting scheduled", zap.String("request_id", req.ID), zap.String("event_id", meeting.EventID))
	return meeting.Link, nil
}

func (s *CalendarService) attendees(ctx context.Context, req *models.TeachingRequest) []string {
	var emails []string
	if school, err := s.schools.FindByID(ctx, req.SchoolID); err == nil {
		emails = append(emails, school.Email)
	} else {
		s.logger.Warn("meeting attendee lookup failed", zap.String("school_id", req.SchoolID), zap.Error(err))
	}
	if teacher, err := s.teachers.FindByID(ctx, req.TeacherID); err == nil {
		emails = append(emails, teacher.Email)
	} else {
		s.logger.Warn("meeting attendee lookup failed", zap.String("teacher_id", req.TeacherID), zap.Error(err))
	}
	return emails
}

func notesOrEmpty(notes *string) string {
	if notes == nil {
		return ""
	}
	return *notes
}
