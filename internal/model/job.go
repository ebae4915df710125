package model

import (
	"strings"
	"time"
)

type Job struct {
	ID            int64
	TenantID      int64
	CustomerID    int64
	CustomerName  string
	CustomerPhone string
	OwnerPhone    string
	Description   string
	ScheduledDate *time.Time
	AmountCents   int64
	CreatedAt     time.Time
}

var urgencyKeywords = []string{"urgent", "asap", "emergency", "immediately", "today"}

// IsUrgent reports whether the job should use the short response timeout:
// same-day scheduling, or urgency keywords in the free-text description.
func (j Job) IsUrgent(now time.Time) bool {
	if j.ScheduledDate != nil {
		y1, m1, d1 := j.ScheduledDate.Date()
		y2, m2, d2 := now.Date()
		if y1 == y2 && m1 == m2 && d1 == d2 {
			return true
		}
	}
	desc := strings.ToLower(j.Description)
	for _, kw := range urgencyKeywords {
		if strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

type AssignmentStatus string

const (
	AssignmentStatusPending   AssignmentStatus = "pending"
	AssignmentStatusAccepted  AssignmentStatus = "accepted"
	AssignmentStatusDeclined  AssignmentStatus = "declined"
	AssignmentStatusCancelled AssignmentStatus = "cancelled"
)

// AssignmentRequest is one outstanding "will you take this job" offer to
// one worker. At most one request per job may ever be accepted.
type AssignmentRequest struct {
	ID         int64
	TenantID   int64
	JobID      int64
	AssigneeID int64
	Status     AssignmentStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Worker struct {
	ID       int64
	TenantID int64
	Name     string
	Phone    string
	Excluded bool
}
