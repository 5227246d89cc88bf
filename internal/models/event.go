package models

import "time"

// EventType names a request lifecycle event. It doubles as the AMQP routing key.
type EventType string

const (
	EventRequestAssigned     EventType = "request.assigned"
	EventRequestEscalated    EventType = "request.escalated"
	EventRequestFailed       EventType = "request.failed"
	EventRequestAccepted     EventType = "request.accepted"
	EventRequestRejected     EventType = "request.rejected"
	EventRequestCancelled    EventType = "request.cancelled"
	EventRescheduleProposed  EventType = "reschedule.proposed"
	EventRescheduleResponded EventType = "reschedule.responded"
)

// RequestEvent is the payload dispatched to notification collaborators.
type RequestEvent struct {
	ID           string            `json:"id"`
	Type         EventType         `json:"type"`
	RequestID    string            `json:"request_id"`
	SchoolID     string            `json:"school_id"`
	TeacherID    string            `json:"teacher_id,omitempty"`
	PrevTeacher  string            `json:"previous_teacher_id,omitempty"`
	Status       RequestStatus     `json:"status"`
	Subject      string            `json:"subject"`
	ScheduleDate string            `json:"schedule_date"`
	ScheduleTime string            `json:"schedule_time"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// NewRequestEvent builds an event snapshot of the given request.
func NewRequestEvent(eventType EventType, req *TeachingRequest, at time.Time) RequestEvent {
	return RequestEvent{
		Type:         eventType,
		RequestID:    req.ID,
		SchoolID:     req.SchoolID,
		TeacherID:    req.TeacherID,
		Status:       req.Status,
		Subject:      req.Subject,
		ScheduleDate: req.ScheduleDate,
		ScheduleTime: req.ScheduleTime,
		OccurredAt:   at.UTC(),
	}
}
