package models

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
)

// RequestStatus enumerates the lifecycle states of a teaching request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusAccepted  RequestStatus = "accepted"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusFailed    RequestStatus = "failed"
	// RequestStatusTimeout is kept for stored rows only; lapsed requests without fallback become failed.
	RequestStatusTimeout RequestStatus = "timeout"
)

// Terminal reports whether no further automatic transition can occur.
func (s RequestStatus) Terminal() bool {
	return s != RequestStatusPending
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusAccepted, RequestStatusRejected,
		RequestStatusCancelled, RequestStatusFailed, RequestStatusTimeout:
		return true
	}
	return false
}

const (
	// ScheduleDateLayout is the wire/storage layout of schedule dates.
	ScheduleDateLayout = "2006-01-02"
	// ScheduleTimeLayout is the wire/storage layout of schedule times.
	ScheduleTimeLayout = "15:04"
)

// FallbackQueue is the ordered list of remaining candidates for a request.
// Values are immutable: Pop returns a new queue.
type FallbackQueue []string

// Len returns the number of queued candidates.
func (q FallbackQueue) Len() int { return len(q) }

// Empty reports whether the queue has no candidates left.
func (q FallbackQueue) Empty() bool { return len(q) == 0 }

// Pop returns the head and the remaining queue. ok is false when empty.
func (q FallbackQueue) Pop() (head string, rest FallbackQueue, ok bool) {
	if len(q) == 0 {
		return "", FallbackQueue{}, false
	}
	rest = make(FallbackQueue, len(q)-1)
	copy(rest, q[1:])
	return q[0], rest, true
}

// Contains reports whether id is queued.
func (q FallbackQueue) Contains(id string) bool {
	for _, v := range q {
		if v == id {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer as a Postgres text[].
func (q FallbackQueue) Value() (driver.Value, error) {
	if q == nil {
		return pq.StringArray{}.Value()
	}
	return pq.StringArray(q).Value()
}

// Scan implements sql.Scanner for Postgres text[].
func (q *FallbackQueue) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*q = FallbackQueue(arr)
	if *q == nil {
		*q = FallbackQueue{}
	}
	return nil
}

// TeachingRequest is a school's request for a substitute teacher.
type TeachingRequest struct {
	ID                 string        `db:"id" json:"id"`
	SchoolID           string        `db:"school_id" json:"school_id"`
	TeacherID          string        `db:"teacher_id" json:"teacher_id"`
	Subject            string        `db:"subject" json:"subject"`
	ScheduleDate       string        `db:"schedule_date" json:"schedule_date"`
	ScheduleTime       string        `db:"schedule_time" json:"schedule_time"`
	GradeLevel         int           `db:"grade_level" json:"grade_level"`
	MinimumRating      *float64      `db:"minimum_rating" json:"minimum_rating,omitempty"`
	Status             RequestStatus `db:"status" json:"status"`
	TimeoutAt          time.Time     `db:"timeout_at" json:"timeout_at"`
	FallbackTeachers   FallbackQueue `db:"fallback_teachers" json:"fallback_teachers"`
	Notes              *string       `db:"notes" json:"notes,omitempty"`
	MeetingLink        *string       `db:"meeting_link" json:"meeting_link,omitempty"`
	CancellationReason *string       `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy        *string       `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Version            int           `db:"version" json:"version"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// Lapsed reports whether a pending request's deadline has passed at now.
func (r *TeachingRequest) Lapsed(now time.Time) bool {
	return r.Status == RequestStatusPending && !now.Before(r.TimeoutAt)
}

// InvolvesParty reports whether userID is the owning school or assigned teacher.
func (r *TeachingRequest) InvolvesParty(userID string) bool {
	return userID != "" && (r.SchoolID == userID || r.TeacherID == userID)
}

// TeachingRequestFilter captures list criteria.
type TeachingRequestFilter struct {
	SchoolID  string
	TeacherID string
	Status    []RequestStatus
	Page      int
	PageSize  int
}

// Candidate is one entry of a ranking result.
type Candidate struct {
	TeacherID string  `db:"id" json:"teacher_id"`
	Rating    float64 `db:"avg_rating" json:"rating"`
}
