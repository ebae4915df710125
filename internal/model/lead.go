package model

import "time"

type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "new"
	LeadStatusContacted   LeadStatus = "contacted"
	LeadStatusQualified   LeadStatus = "qualified"
	LeadStatusBooked      LeadStatus = "booked"
	LeadStatusLost        LeadStatus = "lost"
	LeadStatusUnqualified LeadStatus = "unqualified"
)

// IsResolved reports whether the lead no longer needs follow-up.
func (s LeadStatus) IsResolved() bool {
	return s == LeadStatusBooked || s == LeadStatusLost || s == LeadStatusUnqualified
}

type Lead struct {
	ID               int64
	TenantID         int64
	Name             string
	BusinessName     string
	Phone            string
	Status           LeadStatus
	FollowupStage    int
	SMSAttemptCount  int
	CallAttemptCount int
	LastContactAt    *time.Time
	// JobID links the lead to a booked job when one exists. The terminal
	// follow-up stage only creates a payment link when this is set.
	JobID     *int64
	CreatedAt time.Time
}
