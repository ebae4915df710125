// Package escalation implements the level-triggered timeout monitor over
// pending assignment requests and logged crew cancellations. Every pass
// recomputes the full picture from the store; the monitor keeps no state
// between ticks, so restarts and overlapping instances are harmless.
package escalation

import (
	"context"
	"fmt"
	"time"

	contracts "fieldops/contracts/mq"
	"fieldops/internal/config"
	"fieldops/internal/delivery"
	"fieldops/internal/model"
	"fieldops/pkg/metrics"

	"go.uber.org/zap"
)

type AssignmentStore interface {
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.AssignmentRequest, error)
	HasAccepted(ctx context.Context, jobID int64) (bool, error)
	DeclinePendingForJob(ctx context.Context, jobID int64) (int64, error)
	ReopenClosedForJob(ctx context.Context, jobID int64) (int64, error)
	CreateForWorkers(ctx context.Context, tenantID, jobID int64, workerIDs []int64) (int64, error)
}

type JobStore interface {
	GetByID(ctx context.Context, id int64) (model.Job, error)
}

type WorkerDirectory interface {
	ListEligible(ctx context.Context, tenantID int64, skipWorkerID int64) ([]model.Worker, error)
	GetByID(ctx context.Context, id int64) (model.Worker, error)
}

type EventLog interface {
	Insert(ctx context.Context, e *model.EscalationEvent) error
	Exists(ctx context.Context, jobID int64, eventType, reason string) (bool, error)
	CountByType(ctx context.Context, jobID int64, eventType string) (int, error)
	ListLatestByType(ctx context.Context, eventType string, since time.Time) ([]model.EscalationEvent, error)
}

// AlertGuard is the best-effort duplicate suppressor in front of the
// durable existence check. *util.Deduper satisfies it.
type AlertGuard interface {
	AcquireOnce(ctx context.Context, scope, key string) bool
}

type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

type TenantSettingsSource interface {
	Get(ctx context.Context, tenantID int64) (*config.TenantOverrides, error)
}

// cancellationLookback bounds how far back crew cancellations still drive
// rebroadcast rounds. Older cancellations are the owner's problem by then.
const cancellationLookback = 24 * time.Hour

type Monitor struct {
	assignments AssignmentStore
	jobs        JobStore
	workers     WorkerDirectory
	events      EventLog
	guard       AlertGuard
	publisher   EventPublisher
	tenants     TenantSettingsSource
	sms         delivery.TextSender
	chat        delivery.ChatSender
	cfg         config.OrchestrationConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewMonitor(
	assignments AssignmentStore,
	jobs JobStore,
	workers WorkerDirectory,
	events EventLog,
	guard AlertGuard,
	publisher EventPublisher,
	tenants TenantSettingsSource,
	sms delivery.TextSender,
	chat delivery.ChatSender,
	cfg config.OrchestrationConfig,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		assignments: assignments,
		jobs:        jobs,
		workers:     workers,
		events:      events,
		guard:       guard,
		publisher:   publisher,
		tenants:     tenants,
		sms:         sms,
		chat:        chat,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Start runs the monitor loop until the context is cancelled. Should be
// called in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("Starting escalation monitor",
		zap.Duration("interval", m.cfg.MonitorInterval),
	)

	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Escalation monitor stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs one full monitoring pass. Per-job failures are logged
// and skipped; one bad job never blocks the rest of the scan.
func (m *Monitor) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ObserveRunnerCycle("escalation_monitor", time.Since(start))
	}()

	now := m.now()
	m.scanStalePending(ctx, now)
	m.scanCancellations(ctx, now)
}

// scanStalePending handles response-timeout escalations: reminders, the
// exhaustion alert, the owner alert and the customer delay notice.
func (m *Monitor) scanStalePending(ctx context.Context, now time.Time) {
	// List everything pending. The effective timeout is per job and per
	// tenant, so filtering happens in escalateJob once the job's urgency
	// and tenant overrides are known. Pre-filtering here would both miss
	// tenants with timeouts below the global default and drop fresher
	// offers from a timed-out job's reminder round.
	pending, err := m.assignments.ListPendingOlderThan(ctx, now)
	if err != nil {
		m.logger.Error("Failed to scan pending assignment requests", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	byJob := make(map[int64][]model.AssignmentRequest)
	for _, req := range pending {
		byJob[req.JobID] = append(byJob[req.JobID], req)
	}

	for jobID, requests := range byJob {
		if err := m.escalateJob(ctx, now, jobID, requests); err != nil {
			m.logger.Error("Escalation pass failed for job",
				zap.Int64("job_id", jobID),
				zap.Error(err),
			)
		}
	}
}

func (m *Monitor) escalateJob(ctx context.Context, now time.Time, jobID int64, requests []model.AssignmentRequest) error {
	accepted, err := m.assignments.HasAccepted(ctx, jobID)
	if err != nil {
		return err
	}
	if accepted {
		// First accept won; the losers' offers are stale, close them out.
		if declined, err := m.assignments.DeclinePendingForJob(ctx, jobID); err == nil && declined > 0 {
			m.logger.Info("Declined leftover offers for accepted job",
				zap.Int64("job_id", jobID),
				zap.Int64("declined", declined),
			)
		}
		return nil
	}

	job, err := m.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	cfg := m.tenantConfig(ctx, job.TenantID)

	// Age counts from the oldest still-open offer.
	oldest := requests[0].CreatedAt
	for _, req := range requests[1:] {
		if req.CreatedAt.Before(oldest) {
			oldest = req.CreatedAt
		}
	}
	age := now.Sub(oldest)

	timeout := cfg.StandardResponseTimeout
	if job.IsUrgent(now) {
		timeout = cfg.UrgentResponseTimeout
	}
	if age < timeout {
		return nil
	}

	attempts, err := m.events.CountByType(ctx, jobID, model.EventTypeUrgentReminder)
	if err != nil {
		return err
	}
	if attempts < cfg.MaxFollowupAttempts {
		m.sendReminderRound(ctx, job, requests, attempts+1)
	} else {
		m.raiseOnce(ctx, job, model.EventTypeMaxAttemptsExhausted, "max_attempts",
			fmt.Sprintf("Job %d: %d reminder rounds sent with no crew response. Manual intervention needed.", jobID, attempts),
			map[string]any{"attempts": attempts},
			func() error {
				return m.chat.SendChatMessage(ctx, job.TenantID,
					fmt.Sprintf("No crew has accepted job %d for %s after %d reminders. Please assign manually.", jobID, job.CustomerName, attempts))
			})
	}

	if age >= cfg.OwnerAlertAfter {
		m.raiseOnce(ctx, job, model.EventTypeOwnerAlert, "response_timeout",
			fmt.Sprintf("Job %d unassigned for %s.", jobID, age.Round(time.Minute)),
			nil,
			func() error {
				return m.chat.SendChatMessage(ctx, job.TenantID,
					fmt.Sprintf("Heads up: job %d (%s) has had no crew response for over %s.", jobID, job.CustomerName, cfg.OwnerAlertAfter))
			})
	}

	if age >= cfg.CustomerNoticeAfter && job.CustomerPhone != "" {
		m.raiseOnce(ctx, job, model.EventTypeCustomerDelayNotice, "response_timeout",
			fmt.Sprintf("Customer notified of assignment delay on job %d.", jobID),
			nil,
			func() error {
				msg := fmt.Sprintf("Hi %s, we're still lining up the right crew for your job and will confirm shortly. Thanks for your patience!", job.CustomerName)
				_, err := m.sms.SendText(ctx, job.TenantID, job.CustomerPhone, msg)
				return err
			})
	}

	return nil
}

// sendReminderRound nags every pending assignee once and logs a single
// urgent_reminder event for the round. Each monitor pass while the job
// stays unanswered produces the next round, up to the attempt ceiling.
func (m *Monitor) sendReminderRound(ctx context.Context, job model.Job, requests []model.AssignmentRequest, attempt int) {
	reason := fmt.Sprintf("attempt_%d", attempt)
	if !m.guard.AcquireOnce(ctx, model.EventTypeUrgentReminder, fmt.Sprintf("job:%d:%s", job.ID, reason)) {
		return
	}
	if exists, err := m.events.Exists(ctx, job.ID, model.EventTypeUrgentReminder, reason); err != nil || exists {
		return
	}

	notified := 0
	for _, req := range requests {
		worker, err := m.workers.GetByID(ctx, req.AssigneeID)
		if err != nil {
			m.logger.Error("Failed to load worker for reminder",
				zap.Int64("worker_id", req.AssigneeID),
				zap.Error(err),
			)
			continue
		}
		msg := fmt.Sprintf("Reminder: job %d (%s) is still waiting for your response. Accept or decline in the app.", job.ID, job.Description)
		if _, err := m.sms.SendText(ctx, job.TenantID, worker.Phone, msg); err != nil {
			metrics.IncrementDeliveryAttempt("sms", "failed")
			m.logger.Error("Reminder delivery failed",
				zap.Int64("job_id", job.ID),
				zap.Int64("worker_id", worker.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.IncrementDeliveryAttempt("sms", "success")
		notified++
	}

	event := &model.EscalationEvent{
		TenantID:  job.TenantID,
		JobID:     job.ID,
		Source:    model.SourceEscalationMonitor,
		EventType: model.EventTypeUrgentReminder,
		Reason:    reason,
		Message:   fmt.Sprintf("Reminder round %d sent to %d pending assignees", attempt, notified),
		Metadata:  map[string]any{"attempt": attempt, "notified": notified},
	}
	if err := m.events.Insert(ctx, event); err != nil {
		m.logger.Error("Failed to log reminder round", zap.Int64("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.IncrementEscalationAction(model.EventTypeUrgentReminder)
	m.publishEscalation(job, model.EventTypeUrgentReminder, reason, attempt)
}

// scanCancellations drives the rebroadcast policy off logged crew
// cancellations: reopen offers at the rebroadcast threshold, alert the
// owner at the later one. Both are keyed to the specific cancellation
// event so a second cancellation starts fresh thresholds.
func (m *Monitor) scanCancellations(ctx context.Context, now time.Time) {
	cancellations, err := m.events.ListLatestByType(ctx, model.EventTypeCrewCancelled, now.Add(-cancellationLookback))
	if err != nil {
		m.logger.Error("Failed to list crew cancellations", zap.Error(err))
		return
	}

	for _, cancelled := range cancellations {
		accepted, err := m.assignments.HasAccepted(ctx, cancelled.JobID)
		if err != nil || accepted {
			continue
		}

		age := now.Sub(cancelled.CreatedAt)
		reason := fmt.Sprintf("cancellation_%d", cancelled.ID)

		if age >= m.cfg.RebroadcastAfter {
			m.rebroadcast(ctx, cancelled, reason)
		}
		if age >= m.cfg.CancelOwnerAlertAfter {
			m.cancellationOwnerAlert(ctx, cancelled, reason)
		}
	}
}

// rebroadcast reopens the job to the full eligible pool, including workers
// who declined earlier rounds. Cancellation is the one case that resets
// declines; ordinary timeout rounds never do.
func (m *Monitor) rebroadcast(ctx context.Context, cancelled model.EscalationEvent, reason string) {
	if !m.guard.AcquireOnce(ctx, model.EventTypeRebroadcast, fmt.Sprintf("job:%d:%s", cancelled.JobID, reason)) {
		return
	}
	if exists, err := m.events.Exists(ctx, cancelled.JobID, model.EventTypeRebroadcast, reason); err != nil || exists {
		return
	}

	job, err := m.jobs.GetByID(ctx, cancelled.JobID)
	if err != nil {
		m.logger.Error("Failed to load job for rebroadcast", zap.Int64("job_id", cancelled.JobID), zap.Error(err))
		return
	}

	reopened, err := m.assignments.ReopenClosedForJob(ctx, job.ID)
	if err != nil {
		return
	}

	skipWorkerID := metadataInt64(cancelled.Metadata, "worker_id")
	eligible, err := m.workers.ListEligible(ctx, job.TenantID, skipWorkerID)
	if err != nil {
		m.logger.Error("Failed to list eligible workers for rebroadcast", zap.Int64("job_id", job.ID), zap.Error(err))
		return
	}
	workerIDs := make([]int64, 0, len(eligible))
	for _, w := range eligible {
		workerIDs = append(workerIDs, w.ID)
	}
	created, err := m.assignments.CreateForWorkers(ctx, job.TenantID, job.ID, workerIDs)
	if err != nil {
		return
	}

	offers := reopened + created
	event := &model.EscalationEvent{
		TenantID:  job.TenantID,
		JobID:     job.ID,
		Source:    model.SourceEscalationMonitor,
		EventType: model.EventTypeRebroadcast,
		Reason:    reason,
		Message:   fmt.Sprintf("Job %d rebroadcast after crew cancellation: %d offers open", job.ID, offers),
		Metadata:  map[string]any{"reopened": reopened, "created": created},
	}
	if err := m.events.Insert(ctx, event); err != nil {
		m.logger.Error("Failed to log rebroadcast", zap.Int64("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.IncrementEscalationAction(model.EventTypeRebroadcast)

	if err := m.publisher.Publish(contracts.RoutingKeyJobRebroadcast, contracts.JobRebroadcastPayload{
		TenantID:     job.TenantID,
		JobID:        job.ID,
		OffersOpened: offers,
	}); err != nil {
		m.logger.Error("Failed to publish rebroadcast event", zap.Int64("job_id", job.ID), zap.Error(err))
	}

	m.logger.Info("Job rebroadcast after cancellation",
		zap.Int64("job_id", job.ID),
		zap.Int64("reopened", reopened),
		zap.Int64("created", created),
	)
}

func (m *Monitor) cancellationOwnerAlert(ctx context.Context, cancelled model.EscalationEvent, reason string) {
	job, err := m.jobs.GetByID(ctx, cancelled.JobID)
	if err != nil {
		return
	}

	workerName := "a crew member"
	if id := metadataInt64(cancelled.Metadata, "worker_id"); id != 0 {
		if w, err := m.workers.GetByID(ctx, id); err == nil {
			workerName = w.Name
		}
	}

	m.raiseOnce(ctx, job, model.EventTypeCancellationOwnerAlert, reason,
		fmt.Sprintf("Job %d still unassigned after cancellation by %s.", job.ID, workerName),
		map[string]any{"cancelled_by": workerName},
		func() error {
			return m.chat.SendChatMessage(ctx, job.TenantID,
				fmt.Sprintf("%s cancelled job %d (%s) and no replacement has accepted yet. Please step in.", workerName, job.ID, job.CustomerName))
		})
}

// raiseOnce fires an alert at most once per (job, event type, reason):
// redis guard first, durable existence check second, then the delivery
// action, the log row and the bus event.
func (m *Monitor) raiseOnce(ctx context.Context, job model.Job, eventType, reason, message string, metadata map[string]any, deliver func() error) {
	if !m.guard.AcquireOnce(ctx, eventType, fmt.Sprintf("job:%d:%s", job.ID, reason)) {
		return
	}
	exists, err := m.events.Exists(ctx, job.ID, eventType, reason)
	if err != nil || exists {
		return
	}

	if err := deliver(); err != nil {
		m.logger.Error("Alert delivery failed",
			zap.Int64("job_id", job.ID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		// Not logged as raised: the next pass retries the alert.
		return
	}

	event := &model.EscalationEvent{
		TenantID:  job.TenantID,
		JobID:     job.ID,
		Source:    model.SourceEscalationMonitor,
		EventType: eventType,
		Reason:    reason,
		Message:   message,
		Metadata:  metadata,
	}
	if err := m.events.Insert(ctx, event); err != nil {
		m.logger.Error("Failed to log escalation event",
			zap.Int64("job_id", job.ID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}
	metrics.IncrementEscalationAction(eventType)
	m.publishEscalation(job, eventType, reason, 0)
}

func (m *Monitor) publishEscalation(job model.Job, eventType, reason string, attempt int) {
	if err := m.publisher.Publish(contracts.RoutingKeyEscalationRaised, contracts.EscalationRaisedPayload{
		TenantID:  job.TenantID,
		JobID:     job.ID,
		EventType: eventType,
		Reason:    reason,
		Attempt:   attempt,
		RaisedAt:  m.now(),
	}); err != nil {
		m.logger.Error("Failed to publish escalation event",
			zap.Int64("job_id", job.ID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func (m *Monitor) tenantConfig(ctx context.Context, tenantID int64) config.OrchestrationConfig {
	overrides, err := m.tenants.Get(ctx, tenantID)
	if err != nil {
		m.logger.Warn("Failed to load tenant overrides, using defaults",
			zap.Int64("tenant_id", tenantID),
			zap.Error(err),
		)
		return m.cfg
	}
	return m.cfg.WithTenantOverrides(overrides)
}

// metadataInt64 reads an integer out of decoded JSON metadata, where
// numbers arrive as float64.
func metadataInt64(metadata map[string]any, key string) int64 {
	switch v := metadata[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
