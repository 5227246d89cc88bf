package models

import "time"

// Review is a school's rating of a completed assignment.
type Review struct {
	ID        string    `db:"id" json:"id"`
	RequestID string    `db:"request_id" json:"request_id"`
	SchoolID  string    `db:"school_id" json:"school_id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
