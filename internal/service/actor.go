package service

import (
	"context"

	"github.com/noah-isme/substitute-api/internal/models"
)

// Actor identifies the authenticated caller of a party action.
type Actor struct {
	ID   string
	Role models.UserRole
}

// IsAdmin reports whether the actor has administrative rights.
func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// ownsAsSchool reports whether the actor is the school that created req.
func (a Actor) ownsAsSchool(req *models.TeachingRequest) bool {
	return a.Role == models.RoleSchool && a.ID != "" && a.ID == req.SchoolID
}

// assignedTeacher reports whether the actor is the current assignee of req.
func (a Actor) assignedTeacher(req *models.TeachingRequest) bool {
	return a.Role == models.RoleTeacher && a.ID != "" && a.ID == req.TeacherID
}

// canView reports whether the actor may read req.
func (a Actor) canView(req *models.TeachingRequest) bool {
	return a.IsAdmin() || a.ownsAsSchool(req) || a.assignedTeacher(req)
}

// EventNotifier receives lifecycle events for fire-and-forget delivery.
type EventNotifier interface {
	Notify(ctx context.Context, event models.RequestEvent)
}

// MeetingScheduler creates conferencing for accepted requests in the background.
type MeetingScheduler interface {
	ScheduleMeeting(ctx context.Context, requestID string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, models.RequestEvent) {}

type noopScheduler struct{}

func (noopScheduler) ScheduleMeeting(context.Context, string) {}
