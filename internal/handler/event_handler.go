// Package handler exposes the inbound operational events over HTTP:
// new leads, lead resolution, crew cancellations and assignment accepts.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	contracts "fieldops/contracts/mq"
	"fieldops/internal/followup"
	"fieldops/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TaskScheduler interface {
	Schedule(ctx context.Context, tenantID int64, taskType, key string, scheduledFor time.Time, payload any) error
	Cancel(ctx context.Context, key string) error
}

type LeadStore interface {
	GetByID(ctx context.Context, id, tenantID int64) (model.Lead, error)
	UpdateStatus(ctx context.Context, leadID, tenantID int64, status model.LeadStatus) error
}

type AssignmentStore interface {
	GetByID(ctx context.Context, requestID int64) (model.AssignmentRequest, error)
	Accept(ctx context.Context, requestID, jobID int64) (bool, error)
	DeclinePendingForJob(ctx context.Context, jobID int64) (int64, error)
	Cancel(ctx context.Context, requestID int64) error
}

type EventLog interface {
	Insert(ctx context.Context, e *model.EscalationEvent) error
}

type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

type EventHandler struct {
	scheduler   TaskScheduler
	leads       LeadStore
	assignments AssignmentStore
	events      EventLog
	publisher   EventPublisher
	logger      *zap.Logger
}

func NewEventHandler(
	scheduler TaskScheduler,
	leads LeadStore,
	assignments AssignmentStore,
	events EventLog,
	publisher EventPublisher,
	logger *zap.Logger,
) *EventHandler {
	return &EventHandler{
		scheduler:   scheduler,
		leads:       leads,
		assignments: assignments,
		events:      events,
		publisher:   publisher,
		logger:      logger,
	}
}

type leadReceivedRequest struct {
	LeadID int64 `json:"lead_id" binding:"required"`
}

// LeadReceived kicks off the follow-up cascade: stage 1 is scheduled to
// run on the next dispatch tick. Re-posting the same lead re-arms stage 1
// rather than duplicating it.
func (h *EventHandler) LeadReceived(c *gin.Context) {
	tenantID := c.GetInt64("tenant_id")

	var req leadReceivedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lead_id required"})
		return
	}

	if _, err := h.leads.GetByID(c.Request.Context(), req.LeadID, tenantID); err != nil {
		h.logger.Warn("LeadReceived: unknown lead",
			zap.Int64("lead_id", req.LeadID),
			zap.Int64("tenant_id", tenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusNotFound, gin.H{"error": "lead not found"})
		return
	}

	payload := model.FollowupPayload{TenantID: tenantID, LeadID: req.LeadID, Stage: 1}
	key := followup.TaskKey(tenantID, req.LeadID, 1)
	if err := h.scheduler.Schedule(c.Request.Context(), tenantID, model.TaskTypeLeadFollowup, key, time.Now(), payload); err != nil {
		h.logger.Error("LeadReceived: failed to schedule first stage",
			zap.Int64("lead_id", req.LeadID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule follow-up"})
		return
	}

	h.logger.Info("Follow-up sequence started",
		zap.Int64("lead_id", req.LeadID),
		zap.Int64("tenant_id", tenantID),
	)
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

type leadResolvedRequest struct {
	Status string `json:"status" binding:"required"`
}

// LeadResolved records the terminal lead status and cancels any live
// follow-up tasks. Claimed tasks may still run once; the executor's
// re-check makes that a no-op.
func (h *EventHandler) LeadResolved(c *gin.Context) {
	tenantID := c.GetInt64("tenant_id")

	leadID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lead id"})
		return
	}

	var req leadResolvedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	status := model.LeadStatus(req.Status)
	if !status.IsResolved() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be booked, lost or unqualified"})
		return
	}

	if err := h.leads.UpdateStatus(c.Request.Context(), leadID, tenantID, status); err != nil {
		h.logger.Error("LeadResolved: failed to update status",
			zap.Int64("lead_id", leadID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update lead"})
		return
	}

	for stage := 1; stage <= len(followup.DefaultStages); stage++ {
		h.cancelTask(c.Request.Context(), followup.TaskKey(tenantID, leadID, stage))
		h.cancelTask(c.Request.Context(), followup.SecondCallKey(tenantID, leadID, stage))
	}

	h.logger.Info("Lead resolved, follow-up cancelled",
		zap.Int64("lead_id", leadID),
		zap.String("status", req.Status),
	)
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (h *EventHandler) cancelTask(ctx context.Context, key string) {
	if err := h.scheduler.Cancel(ctx, key); err != nil {
		h.logger.Error("Failed to cancel follow-up task", zap.String("key", key), zap.Error(err))
	}
}

type jobCancelledRequest struct {
	RequestID int64 `json:"request_id" binding:"required"`
	WorkerID  int64 `json:"worker_id" binding:"required"`
}

// JobCancelled marks the accepted request cancelled and logs the
// crew_cancelled event the escalation monitor keys its rebroadcast and
// owner-alert thresholds to.
func (h *EventHandler) JobCancelled(c *gin.Context) {
	tenantID := c.GetInt64("tenant_id")

	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	var req jobCancelledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request_id and worker_id required"})
		return
	}

	if err := h.assignments.Cancel(c.Request.Context(), req.RequestID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel assignment"})
		return
	}

	event := &model.EscalationEvent{
		TenantID:  tenantID,
		JobID:     jobID,
		Source:    model.SourceEventAPI,
		EventType: model.EventTypeCrewCancelled,
		Reason:    strconv.FormatInt(req.RequestID, 10),
		Message:   "Crew member cancelled an accepted job",
		Metadata:  map[string]any{"worker_id": req.WorkerID, "request_id": req.RequestID},
	}
	if err := h.events.Insert(c.Request.Context(), event); err != nil {
		h.logger.Error("JobCancelled: failed to log cancellation",
			zap.Int64("job_id", jobID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record cancellation"})
		return
	}

	h.logger.Info("Crew cancellation recorded",
		zap.Int64("job_id", jobID),
		zap.Int64("worker_id", req.WorkerID),
	)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// AcceptAssignment runs the first-accept-wins transition. A lost race
// returns 409; the winner's response also closes out competing offers.
func (h *EventHandler) AcceptAssignment(c *gin.Context) {
	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	request, err := h.assignments.GetByID(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "assignment request not found"})
		return
	}

	won, err := h.assignments.Accept(c.Request.Context(), requestID, request.JobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept assignment"})
		return
	}
	if !won {
		h.logger.Info("Assignment accept lost the race",
			zap.Int64("request_id", requestID),
			zap.Int64("job_id", request.JobID),
		)
		c.JSON(http.StatusConflict, gin.H{"error": "job already taken"})
		return
	}

	if _, err := h.assignments.DeclinePendingForJob(c.Request.Context(), request.JobID); err != nil {
		h.logger.Error("AcceptAssignment: failed to decline competing offers",
			zap.Int64("job_id", request.JobID),
			zap.Error(err),
		)
	}

	if err := h.publisher.Publish(contracts.RoutingKeyAssignmentAccepted, contracts.AssignmentAcceptedPayload{
		TenantID:   request.TenantID,
		JobID:      request.JobID,
		AssigneeID: request.AssigneeID,
		RequestID:  request.ID,
	}); err != nil {
		h.logger.Error("AcceptAssignment: failed to publish accept event",
			zap.Int64("request_id", requestID),
			zap.Error(err),
		)
	}

	h.logger.Info("Assignment accepted",
		zap.Int64("request_id", requestID),
		zap.Int64("job_id", request.JobID),
		zap.Int64("assignee_id", request.AssigneeID),
	)
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
