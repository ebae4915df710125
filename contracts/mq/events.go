// Package mq holds the payload contracts for events published to the
// message bus. Dashboard and chat-ops consumers decode these.
package mq

import "time"

const (
	RoutingKeyFollowupSent       = "lead.followup.sent"
	RoutingKeyFollowupFailed     = "lead.followup.failed"
	RoutingKeyEscalationRaised   = "job.escalation.raised"
	RoutingKeyJobRebroadcast     = "job.rebroadcast"
	RoutingKeyAssignmentAccepted = "job.assignment.accepted"
)

type FollowupSentPayload struct {
	TenantID   int64     `json:"tenant_id"`
	LeadID     int64     `json:"lead_id"`
	Stage      int       `json:"stage"`
	Action     string    `json:"action"`
	ProviderID string    `json:"provider_id"`
	SentAt     time.Time `json:"sent_at"`
}

type FollowupFailedPayload struct {
	TenantID int64  `json:"tenant_id"`
	LeadID   int64  `json:"lead_id"`
	Stage    int    `json:"stage"`
	Action   string `json:"action"`
	Error    string `json:"error"`
}

type EscalationRaisedPayload struct {
	TenantID  int64     `json:"tenant_id"`
	JobID     int64     `json:"job_id"`
	EventType string    `json:"event_type"`
	Reason    string    `json:"reason"`
	Attempt   int       `json:"attempt,omitempty"`
	RaisedAt  time.Time `json:"raised_at"`
}

type JobRebroadcastPayload struct {
	TenantID     int64 `json:"tenant_id"`
	JobID        int64 `json:"job_id"`
	OffersOpened int64 `json:"offers_opened"`
}

type AssignmentAcceptedPayload struct {
	TenantID   int64 `json:"tenant_id"`
	JobID      int64 `json:"job_id"`
	AssigneeID int64 `json:"assignee_id"`
	RequestID  int64 `json:"request_id"`
}
