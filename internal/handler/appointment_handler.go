package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fieldops/internal/cascade"
	"fieldops/internal/config"
	"fieldops/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AppointmentStore interface {
	GetByID(ctx context.Context, id, tenantID int64) (model.Appointment, error)
	ListForDay(ctx context.Context, tenantID int64, day time.Time) ([]model.Appointment, error)
	Reschedule(ctx context.Context, tenantID, id int64, newStart time.Time, newDurationHours float64, shiftIDs []int64, delta time.Duration) error
}

type TenantSettingsSource interface {
	Get(ctx context.Context, tenantID int64) (*config.TenantOverrides, error)
}

// AppointmentHandler exposes the cascade calculation: preview returns
// the plan, reschedule applies it unless conflicts remain.
type AppointmentHandler struct {
	appointments AppointmentStore
	tenants      TenantSettingsSource
	cfg          config.OrchestrationConfig
	logger       *zap.Logger
}

func NewAppointmentHandler(appointments AppointmentStore, tenants TenantSettingsSource, cfg config.OrchestrationConfig, logger *zap.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		appointments: appointments,
		tenants:      tenants,
		cfg:          cfg,
		logger:       logger,
	}
}

type rescheduleRequest struct {
	NewStart         time.Time `json:"new_start" binding:"required"`
	NewDurationHours float64   `json:"new_duration_hours"`
}

type rescheduleChange struct {
	AppointmentID int64     `json:"appointment_id"`
	ClientName    string    `json:"client_name"`
	OldStart      time.Time `json:"old_start"`
	NewStart      time.Time `json:"new_start"`
}

type rescheduleConflict struct {
	AppointmentID int64   `json:"appointment_id"`
	Type          string  `json:"type"`
	SharedCrew    []int64 `json:"shared_crew,omitempty"`
	Detail        string  `json:"detail"`
}

type reschedulePlanResponse struct {
	DeltaMinutes    int                  `json:"delta_minutes"`
	Changes         []rescheduleChange   `json:"changes"`
	Conflicts       []rescheduleConflict `json:"conflicts"`
	AffectedClients []string             `json:"affected_clients"`
	Summary         string               `json:"summary"`
	Applied         bool                 `json:"applied"`
}

// PreviewReschedule computes the cascade plan without touching the
// schedule.
func (h *AppointmentHandler) PreviewReschedule(c *gin.Context) {
	h.reschedule(c, false)
}

// Reschedule applies the plan when it is conflict-free; a conflicting
// plan comes back with 409 and the detail for the dispatcher to resolve.
func (h *AppointmentHandler) Reschedule(c *gin.Context) {
	h.reschedule(c, true)
}

func (h *AppointmentHandler) reschedule(c *gin.Context, apply bool) {
	tenantID := c.GetInt64("tenant_id")

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid appointment id"})
		return
	}

	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_start required (RFC 3339)"})
		return
	}

	modified, err := h.appointments.GetByID(c.Request.Context(), id, tenantID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "appointment not found"})
		return
	}

	all, err := h.appointments.ListForDay(c.Request.Context(), tenantID, modified.Start)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load schedule"})
		return
	}

	cfg := h.cfg
	if overrides, err := h.tenants.Get(c.Request.Context(), tenantID); err == nil {
		cfg = cfg.WithTenantOverrides(overrides)
	}

	plan := cascade.Calculate(modified, req.NewStart, req.NewDurationHours, all, cfg.BusinessCloseHour)
	resp := planResponse(plan)

	if !apply {
		c.JSON(http.StatusOK, resp)
		return
	}
	if plan.HasConflicts() {
		c.JSON(http.StatusConflict, resp)
		return
	}

	shiftIDs := make([]int64, 0, len(plan.Changes))
	for _, ch := range plan.Changes {
		shiftIDs = append(shiftIDs, ch.AppointmentID)
	}
	if err := h.appointments.Reschedule(c.Request.Context(), tenantID, id, req.NewStart, req.NewDurationHours, shiftIDs, plan.Delta); err != nil {
		h.logger.Error("Failed to apply reschedule plan",
			zap.Int64("appointment_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply reschedule"})
		return
	}

	h.logger.Info("Reschedule applied",
		zap.Int64("appointment_id", id),
		zap.Int("shifted", len(shiftIDs)),
		zap.Duration("delta", plan.Delta),
	)
	resp.Applied = true
	c.JSON(http.StatusOK, resp)
}

func planResponse(plan cascade.Plan) reschedulePlanResponse {
	resp := reschedulePlanResponse{
		DeltaMinutes:    int(plan.Delta.Minutes()),
		Changes:         []rescheduleChange{},
		Conflicts:       []rescheduleConflict{},
		AffectedClients: plan.AffectedClients,
		Summary:         plan.Summary,
	}
	for _, ch := range plan.Changes {
		resp.Changes = append(resp.Changes, rescheduleChange{
			AppointmentID: ch.AppointmentID,
			ClientName:    ch.ClientName,
			OldStart:      ch.OldStart,
			NewStart:      ch.NewStart,
		})
	}
	for _, c := range plan.Conflicts {
		resp.Conflicts = append(resp.Conflicts, rescheduleConflict{
			AppointmentID: c.AppointmentID,
			Type:          string(c.Type),
			SharedCrew:    c.SharedCrew,
			Detail:        c.Detail,
		})
	}
	return resp
}
