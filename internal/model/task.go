package model

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusFailed    TaskStatus = "failed"
)

const (
	TaskTypeLeadFollowup       = "lead_followup"
	TaskTypeFollowupSecondCall = "lead_followup_second_call"
)

// ScheduledTask is a durable unit of deferred work. Key is unique among
// non-terminal tasks: re-scheduling with the same key overwrites the
// existing pending task instead of creating a second one.
type ScheduledTask struct {
	ID           int64
	TenantID     int64
	TaskType     string
	Key          string
	ScheduledFor time.Time
	Payload      json.RawMessage
	Status       TaskStatus
	ClaimToken   *string
	ClaimedAt    *time.Time
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsTerminal reports whether the task can no longer be claimed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusCancelled || s == TaskStatusFailed
}

// FollowupPayload is the payload carried by lead_followup tasks.
type FollowupPayload struct {
	TenantID int64 `json:"tenant_id"`
	LeadID   int64 `json:"lead_id"`
	Stage    int   `json:"stage"`
}
