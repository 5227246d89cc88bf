package models

import "time"

// RescheduleStatus enumerates proposal states.
type RescheduleStatus string

const (
	RescheduleStatusPending  RescheduleStatus = "pending"
	RescheduleStatusAccepted RescheduleStatus = "accepted"
	RescheduleStatusRejected RescheduleStatus = "rejected"
	// RescheduleStatusExpired closes a proposal whose proposer is no longer a party.
	RescheduleStatusExpired RescheduleStatus = "expired"
)

// RescheduleRequest is a proposal from one party to move a request's slot.
type RescheduleRequest struct {
	ID           string           `db:"id" json:"id"`
	RequestID    string           `db:"request_id" json:"request_id"`
	ProposedBy   string           `db:"proposed_by" json:"proposed_by"`
	ProposerRole UserRole         `db:"proposer_role" json:"proposer_role"`
	OldDate      string           `db:"old_date" json:"old_date"`
	OldTime      string           `db:"old_time" json:"old_time"`
	NewDate      string           `db:"new_date" json:"new_date"`
	NewTime      string           `db:"new_time" json:"new_time"`
	Status       RescheduleStatus `db:"status" json:"status"`
	Reason       *string          `db:"reason" json:"reason,omitempty"`
	RespondedBy  *string          `db:"responded_by" json:"responded_by,omitempty"`
	RespondedAt  *time.Time       `db:"responded_at" json:"responded_at,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}
