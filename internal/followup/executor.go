package followup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	contracts "fieldops/contracts/mq"
	"fieldops/internal/config"
	"fieldops/internal/delivery"
	"fieldops/internal/model"
	"fieldops/internal/repository"
	"fieldops/pkg/metrics"

	"go.uber.org/zap"
)

// LeadStore is the lead access the executor needs.
type LeadStore interface {
	GetByID(ctx context.Context, id, tenantID int64) (model.Lead, error)
	RecordStageResult(ctx context.Context, leadID, tenantID int64, stage, smsInc, callInc int) error
	InsertOutboundMessage(ctx context.Context, tenantID, leadID int64, channel, body, providerID string) error
}

type JobStore interface {
	GetByID(ctx context.Context, id int64) (model.Job, error)
}

type TaskScheduler interface {
	Schedule(ctx context.Context, tenantID int64, taskType, key string, scheduledFor time.Time, payload any) error
}

type EventLog interface {
	Insert(ctx context.Context, e *model.EscalationEvent) error
}

// EventPublisher fans executed stages out to the message bus.
// mq.Publisher satisfies it.
type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

type TenantSettingsSource interface {
	Get(ctx context.Context, tenantID int64) (*config.TenantOverrides, error)
}

// Executor turns one claimed follow-up task into its stage action and,
// unless the stage is terminal, the next stage's task.
type Executor struct {
	leads     LeadStore
	jobs      JobStore
	scheduler TaskScheduler
	events    EventLog
	publisher EventPublisher
	tenants   TenantSettingsSource
	sms       delivery.TextSender
	voice     delivery.CallPlacer
	payments  delivery.PaymentLinkCreator
	stages    []StageDefinition
	cfg       config.OrchestrationConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewExecutor(
	leads LeadStore,
	jobs JobStore,
	taskScheduler TaskScheduler,
	events EventLog,
	publisher EventPublisher,
	tenants TenantSettingsSource,
	sms delivery.TextSender,
	voice delivery.CallPlacer,
	payments delivery.PaymentLinkCreator,
	cfg config.OrchestrationConfig,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		leads:     leads,
		jobs:      jobs,
		scheduler: taskScheduler,
		events:    events,
		publisher: publisher,
		tenants:   tenants,
		sms:       sms,
		voice:     voice,
		payments:  payments,
		stages:    DefaultStages,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute handles one claimed task. A nil return marks the task done;
// only store failures return errors. Delivery failures advance the stage
// machine on schedule and are recorded in the event log.
func (e *Executor) Execute(ctx context.Context, task model.ScheduledTask) error {
	var payload model.FollowupPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode follow-up payload: %w", err)
	}

	switch task.TaskType {
	case model.TaskTypeLeadFollowup:
		return e.executeStage(ctx, payload)
	case model.TaskTypeFollowupSecondCall:
		return e.executeSecondCall(ctx, payload)
	default:
		return fmt.Errorf("unknown task type %q", task.TaskType)
	}
}

// executeStage runs the stage's action. The lead is re-fetched first:
// the task may have been scheduled hours ago and the lead resolved since.
func (e *Executor) executeStage(ctx context.Context, p model.FollowupPayload) error {
	lead, done, err := e.loadActionableLead(ctx, p)
	if err != nil || done {
		return err
	}

	stages := e.tenantStages(ctx, p.TenantID)
	def, ok := StageByNumber(stages, p.Stage)
	if !ok {
		e.logger.Warn("Follow-up stage out of range, terminating sequence",
			zap.Int64("lead_id", p.LeadID),
			zap.Int("stage", p.Stage),
		)
		return nil
	}

	smsInc, callInc := 0, 0
	switch def.Action {
	case ActionText:
		smsInc = 1
		e.sendStageText(ctx, lead, def)
	case ActionCall:
		callInc = 1
		e.placeStageCall(ctx, lead, def.Stage)
	case ActionDoubleCall:
		callInc = 1
		e.placeStageCall(ctx, lead, def.Stage)
		// The second dial is its own delayed task so this runner never
		// sleeps while holding other claimed work.
		secondAt := e.now().Add(e.cfg.DoubleCallGap)
		key := SecondCallKey(p.TenantID, p.LeadID, p.Stage)
		if err := e.scheduler.Schedule(ctx, p.TenantID, model.TaskTypeFollowupSecondCall, key, secondAt, p); err != nil {
			return fmt.Errorf("failed to schedule second dial: %w", err)
		}
	}

	if err := e.leads.RecordStageResult(ctx, p.LeadID, p.TenantID, p.Stage, smsInc, callInc); err != nil {
		return fmt.Errorf("failed to record stage result: %w", err)
	}

	if def.IsTerminal(stages) {
		e.logger.Info("Follow-up sequence complete",
			zap.Int64("lead_id", p.LeadID),
			zap.Int("stage", p.Stage),
		)
		return nil
	}

	next := model.FollowupPayload{TenantID: p.TenantID, LeadID: p.LeadID, Stage: p.Stage + 1}
	nextAt := e.now().Add(def.DelayToNext)
	nextKey := TaskKey(p.TenantID, p.LeadID, next.Stage)
	if err := e.scheduler.Schedule(ctx, p.TenantID, model.TaskTypeLeadFollowup, nextKey, nextAt, next); err != nil {
		return fmt.Errorf("failed to schedule next stage: %w", err)
	}
	return nil
}

func (e *Executor) executeSecondCall(ctx context.Context, p model.FollowupPayload) error {
	lead, done, err := e.loadActionableLead(ctx, p)
	if err != nil || done {
		return err
	}

	e.placeStageCall(ctx, lead, p.Stage)

	// Same stage number: only the call attempt counter moves.
	if err := e.leads.RecordStageResult(ctx, p.LeadID, p.TenantID, p.Stage, 0, 1); err != nil {
		return fmt.Errorf("failed to record second dial: %w", err)
	}
	return nil
}

// loadActionableLead re-fetches the lead and reports done=true when the
// sequence should silently terminate (lead gone or already resolved).
func (e *Executor) loadActionableLead(ctx context.Context, p model.FollowupPayload) (model.Lead, bool, error) {
	lead, err := e.leads.GetByID(ctx, p.LeadID, p.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			e.logger.Info("Lead no longer exists, terminating follow-up",
				zap.Int64("lead_id", p.LeadID),
			)
			metrics.IncrementStageExecution("any", "skipped")
			return model.Lead{}, true, nil
		}
		return model.Lead{}, false, fmt.Errorf("failed to load lead: %w", err)
	}
	if lead.Status.IsResolved() {
		e.logger.Info("Lead already resolved, follow-up stage is a no-op",
			zap.Int64("lead_id", p.LeadID),
			zap.String("status", string(lead.Status)),
			zap.Int("stage", p.Stage),
		)
		metrics.IncrementStageExecution("any", "skipped")
		return model.Lead{}, true, nil
	}
	return lead, false, nil
}

func (e *Executor) tenantStages(ctx context.Context, tenantID int64) []StageDefinition {
	overrides, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		e.logger.Warn("Failed to load tenant overrides, using defaults",
			zap.Int64("tenant_id", tenantID),
			zap.Error(err),
		)
		return e.stages
	}
	return ApplyDelayOverrides(e.stages, overrides)
}

func (e *Executor) sendStageText(ctx context.Context, lead model.Lead, def StageDefinition) {
	paymentURL := ""
	if def.CreatesPaymentLink && lead.JobID != nil {
		paymentURL = e.createPaymentLink(ctx, lead)
	}

	message := RenderMessage(def.Template, lead, paymentURL)
	providerID, err := e.sms.SendText(ctx, lead.TenantID, lead.Phone, message)
	if err != nil {
		metrics.IncrementDeliveryAttempt("sms", "failed")
		metrics.IncrementStageExecution(string(def.Action), "failed")
		e.recordDeliveryFailure(ctx, lead, def.Stage, string(def.Action), err)
		return
	}

	metrics.IncrementDeliveryAttempt("sms", "success")
	metrics.IncrementStageExecution(string(def.Action), "sent")

	if err := e.leads.InsertOutboundMessage(ctx, lead.TenantID, lead.ID, "sms", message, providerID); err != nil {
		e.logger.Error("Failed to persist outbound message",
			zap.Int64("lead_id", lead.ID),
			zap.Error(err),
		)
	}
	e.recordDeliverySuccess(ctx, lead, def.Stage, string(def.Action), providerID)
}

func (e *Executor) placeStageCall(ctx context.Context, lead model.Lead, stage int) {
	callContext := fmt.Sprintf("Follow-up call for lead %s (%s), stage %d", lead.Name, lead.BusinessName, stage)
	providerID, err := e.voice.PlaceCall(ctx, lead.Phone, lead.Name, callContext)
	if err != nil {
		metrics.IncrementDeliveryAttempt("voice", "failed")
		metrics.IncrementStageExecution("call", "failed")
		e.recordDeliveryFailure(ctx, lead, stage, "call", err)
		return
	}
	metrics.IncrementDeliveryAttempt("voice", "success")
	metrics.IncrementStageExecution("call", "sent")
	e.recordDeliverySuccess(ctx, lead, stage, "call", providerID)
}

func (e *Executor) createPaymentLink(ctx context.Context, lead model.Lead) string {
	job, err := e.jobs.GetByID(ctx, *lead.JobID)
	if err != nil {
		e.logger.Error("Failed to load job for payment link",
			zap.Int64("lead_id", lead.ID),
			zap.Int64("job_id", *lead.JobID),
			zap.Error(err),
		)
		metrics.IncrementDeliveryAttempt("payment_link", "failed")
		return ""
	}
	url, err := e.payments.CreatePaymentLink(ctx, job.CustomerName, job.ID, job.AmountCents)
	if err != nil {
		e.logger.Error("Failed to create payment link",
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
		metrics.IncrementDeliveryAttempt("payment_link", "failed")
		return ""
	}
	metrics.IncrementDeliveryAttempt("payment_link", "success")
	return url
}

func (e *Executor) recordDeliverySuccess(ctx context.Context, lead model.Lead, stage int, action, providerID string) {
	event := &model.EscalationEvent{
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		Source:    model.SourceFollowupExecutor,
		EventType: model.EventTypeFollowupSent,
		Reason:    fmt.Sprintf("stage_%d", stage),
		Message:   fmt.Sprintf("Stage %d %s delivered to %s", stage, action, lead.Name),
		Metadata:  map[string]any{"provider_id": providerID, "action": action},
	}
	if err := e.events.Insert(ctx, event); err != nil {
		e.logger.Error("Failed to log delivery event", zap.Int64("lead_id", lead.ID), zap.Error(err))
	}

	if err := e.publisher.Publish(contracts.RoutingKeyFollowupSent, contracts.FollowupSentPayload{
		TenantID:   lead.TenantID,
		LeadID:     lead.ID,
		Stage:      stage,
		Action:     action,
		ProviderID: providerID,
		SentAt:     e.now(),
	}); err != nil {
		e.logger.Error("Failed to publish followup.sent event", zap.Int64("lead_id", lead.ID), zap.Error(err))
	}
}

func (e *Executor) recordDeliveryFailure(ctx context.Context, lead model.Lead, stage int, action string, deliveryErr error) {
	e.logger.Error("Delivery failed, stage machine advances on schedule",
		zap.Int64("lead_id", lead.ID),
		zap.Int("stage", stage),
		zap.String("action", action),
		zap.Error(deliveryErr),
	)

	event := &model.EscalationEvent{
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		Source:    model.SourceFollowupExecutor,
		EventType: model.EventTypeFollowupFailed,
		Reason:    fmt.Sprintf("stage_%d", stage),
		Message:   fmt.Sprintf("Stage %d %s delivery failed: %v", stage, action, deliveryErr),
		Metadata:  map[string]any{"action": action, "error": deliveryErr.Error()},
	}
	if err := e.events.Insert(ctx, event); err != nil {
		e.logger.Error("Failed to log delivery failure", zap.Int64("lead_id", lead.ID), zap.Error(err))
	}

	if err := e.publisher.Publish(contracts.RoutingKeyFollowupFailed, contracts.FollowupFailedPayload{
		TenantID: lead.TenantID,
		LeadID:   lead.ID,
		Stage:    stage,
		Action:   action,
		Error:    deliveryErr.Error(),
	}); err != nil {
		e.logger.Error("Failed to publish followup.failed event", zap.Int64("lead_id", lead.ID), zap.Error(err))
	}
}
