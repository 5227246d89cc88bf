package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/pkg/jobs"
	"github.com/noah-isme/substitute-api/pkg/mailer"
	"github.com/noah-isme/substitute-api/pkg/messaging"
)

const (
	jobNotificationPublish = "notification.publish"
	jobNotificationEmail   = "notification.email"

	channelAMQP  = "amqp"
	channelEmail = "email"
)

type jobDispatcher interface {
	Register(jobType string, handler jobs.Handler)
	Enqueue(job jobs.Job) error
}

type teacherFinder interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type schoolFinder interface {
	FindByID(ctx context.Context, id string) (*models.School, error)
}

// NotificationService fans request events out to the broker and email.
// Delivery runs on the job queue; failures are logged and retried there.
type NotificationService struct {
	queue     jobDispatcher
	publisher messaging.Publisher
	sender    mailer.Sender
	teachers  teacherFinder
	schools   schoolFinder
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewNotificationService registers its handlers on queue.
func NewNotificationService(queue jobDispatcher, publisher messaging.Publisher, sender mailer.Sender, teachers teacherFinder, schools schoolFinder, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = messaging.NewNoopPublisher(logger)
	}
	if sender == nil {
		sender = mailer.NewLogSender(logger)
	}
	svc := &NotificationService{
		queue:     queue,
		publisher: publisher,
		sender:    sender,
		teachers:  teachers,
		schools:   schools,
		metrics:   metrics,
		logger:    logger,
	}
	queue.Register(jobNotificationPublish, svc.handlePublish)
	queue.Register(jobNotificationEmail, svc.handleEmail)
	return svc
}

// Notify enqueues delivery of event. It never blocks on the broker.
func (s *NotificationService) Notify(_ context.Context, event models.RequestEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	for _, jobType := range []string{jobNotificationPublish, jobNotificationEmail} {
		err := s.queue.Enqueue(jobs.Job{ID: event.ID + ":" + jobType, Type: jobType, Payload: event})
		if err != nil {
			s.logger.Warn("notification dropped",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.String("job_type", jobType),
				zap.Error(err),
			)
		}
	}
}

func (s *NotificationService) handlePublish(ctx context.Context, job jobs.Job) error {
	event, err := eventPayload(job)
	if err != nil {
		return err
	}
	err = s.publisher.Publish(ctx, string(event.Type), event)
	s.metrics.RecordNotification(channelAMQP, err)
	return err
}

func (s *NotificationService) handleEmail(ctx context.Context, job jobs.Job) error {
	event, err := eventPayload(job)
	if err != nil {
		return err
	}
	email, ok, err := s.compose(ctx, event)
	if err != nil {
		s.metrics.RecordNotification(channelEmail, err)
		return err
	}
	if !ok {
		return nil
	}
	err = s.sender.Send(ctx, email)
	s.metrics.RecordNotification(channelEmail, err)
	return err
}

func eventPayload(job jobs.Job) (models.RequestEvent, error) {
	switch payload := job.Payload.(type) {
	case models.RequestEvent:
		return payload, nil
	case *models.RequestEvent:
		if payload != nil {
			return *payload, nil
		}
	}
	return models.RequestEvent{}, fmt.Errorf("job %s: unexpected payload %T", job.ID, job.Payload)
}

type recipient struct {
	name  string
	email string
}

// compose returns false when the event has nobody to email.
func (s *NotificationService) compose(ctx context.Context, event models.RequestEvent) (mailer.Email, bool, error) {
	toTeacher, toSchool := audience(event)

	var to recipient
	switch {
	case toTeacher && event.TeacherID != "":
		teacher, err := s.teachers.FindByID(ctx, event.TeacherID)
		if err != nil {
			return mailer.Email{}, false, fmt.Errorf("load teacher %s: %w", event.TeacherID, err)
		}
		to = recipient{name: teacher.FullName, email: teacher.Email}
	case toSchool && event.SchoolID != "":
		school, err := s.schools.FindByID(ctx, event.SchoolID)
		if err != nil {
			return mailer.Email{}, false, fmt.Errorf("load school %s: %w", event.SchoolID, err)
		}
		to = recipient{name: school.Name, email: school.Email}
	default:
		return mailer.Email{}, false, nil
	}
	if to.email == "" {
		return mailer.Email{}, false, nil
	}

	subject, body := emailContent(event)
	return mailer.Email{
		ToName:    to.name,
		ToAddress: to.email,
		Subject:   subject,
		PlainText: body,
		HTML:      htmlBody(body),
	}, true, nil
}

// htmlBody escapes body before turning its line breaks into markup.
func htmlBody(body string) string {
	return "<p>" + strings.ReplaceAll(html.EscapeString(body), "\n", "<br>") + "</p>"
}

// audience picks the party that should hear about event.
func audience(event models.RequestEvent) (teacher bool, school bool) {
	switch event.Type {
	case models.EventRequestAssigned, models.EventRequestEscalated, models.EventRequestCancelled:
		return true, false
	case models.EventRequestFailed, models.EventRequestAccepted, models.EventRequestRejected:
		return false, true
	case models.EventRescheduleProposed:
		proposer := event.Attributes["proposed_by"]
		return proposer == event.SchoolID, proposer != event.SchoolID
	case models.EventRescheduleResponded:
		proposer := event.Attributes["proposed_by"]
		return proposer != event.SchoolID, proposer == event.SchoolID
	}
	return false, false
}

func emailContent(event models.RequestEvent) (string, string) {
	slot := fmt.Sprintf("%s on %s at %s", event.Subject, event.ScheduleDate, event.ScheduleTime)
	switch event.Type {
	case models.EventRequestAssigned, models.EventRequestEscalated:
		return "New substitute request", fmt.Sprintf("You have been asked to cover %s.\nPlease accept or reject the request before it expires.", slot)
	case models.EventRequestFailed:
		return "No substitute found", fmt.Sprintf("No teacher accepted your request for %s.", slot)
	case models.EventRequestAccepted:
		return "Substitute confirmed", fmt.Sprintf("A teacher accepted your request for %s.", slot)
	case models.EventRequestRejected:
		return "Substitute request declined", fmt.Sprintf("The assigned teacher declined your request for %s.", slot)
	case models.EventRequestCancelled:
		return "Substitute request cancelled", fmt.Sprintf("The school cancelled the request for %s.", slot)
	case models.EventRescheduleProposed:
		return "Reschedule proposed", fmt.Sprintf("A new slot was proposed for %s: %s at %s.",
			slot, event.Attributes["new_date"], event.Attributes["new_time"])
	case models.EventRescheduleResponded:
		return "Reschedule " + event.Attributes["status"], fmt.Sprintf("Your reschedule proposal for %s was %s.", slot, event.Attributes["status"])
	}
	return "Request update", fmt.Sprintf("Request %s changed to %s.", event.RequestID, event.Status)
}
