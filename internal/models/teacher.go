package models

import (
	"time"

	"github.com/lib/pq"
)

// Teacher represents a substitute teacher profile.
type Teacher struct {
	ID          string         `db:"id" json:"id"`
	Email       string         `db:"email" json:"email"`
	FullName    string         `db:"full_name" json:"full_name"`
	Subjects    pq.StringArray `db:"subjects" json:"subjects"`
	MaxGrade    int            `db:"max_grade" json:"max_grade"`
	AvgRating   float64        `db:"avg_rating" json:"avg_rating"`
	ReviewCount int            `db:"review_count" json:"review_count"`
	Bio         *string        `db:"bio" json:"bio,omitempty"`
	Active      bool           `db:"active" json:"active"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// TeacherFilter captures filtering options for the teacher directory.
type TeacherFilter struct {
	Subject   string   `json:"subject,omitempty"`
	Grade     int      `json:"grade,omitempty"`
	MinRating *float64 `json:"min_rating,omitempty"`
	Search    string   `json:"search,omitempty"`
	Active    *bool    `json:"active,omitempty"`
	Page      int      `json:"page"`
	PageSize  int      `json:"page_size"`
}
