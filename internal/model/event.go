package model

import "time"

// Escalation event types. The event log is append-only; the existence
// check on (job_id, event_type, reason) is the dedup guard for alerts.
const (
	EventTypeUrgentReminder        = "urgent_reminder"
	EventTypeMaxAttemptsExhausted  = "max_attempts_exhausted"
	EventTypeOwnerAlert            = "owner_alert"
	EventTypeCustomerDelayNotice   = "customer_delay_notice"
	EventTypeCrewCancelled         = "crew_cancelled"
	EventTypeRebroadcast           = "rebroadcast"
	EventTypeCancellationOwnerAlert = "cancellation_owner_alert"

	EventTypeFollowupSent   = "followup_sent"
	EventTypeFollowupFailed = "followup_failed"
)

// Event sources.
const (
	SourceFollowupExecutor  = "followup_executor"
	SourceEscalationMonitor = "escalation_monitor"
	SourceEventAPI          = "event_api"
)

// EscalationEvent is one row of the append-only operational event log.
// JobID is zero for lead-scoped events.
type EscalationEvent struct {
	ID        int64
	TenantID  int64
	JobID     int64
	LeadID    int64
	Source    string
	EventType string
	Reason    string
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}
