package repository

import (
	"context"
	"errors"

	"fieldops/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a looked-up entity does not exist.
var ErrNotFound = errors.New("not found")

type LeadRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewLeadRepository(db *pgxpool.Pool, logger *zap.Logger) *LeadRepository {
	return &LeadRepository{db: db, logger: logger}
}

func (r *LeadRepository) GetByID(ctx context.Context, id, tenantID int64) (model.Lead, error) {
	query := `
        SELECT id, tenant_id, name, business_name, phone, status, followup_stage,
               sms_attempt_count, call_attempt_count, last_contact_at, job_id, created_at
        FROM leads
        WHERE id = $1 AND tenant_id = $2
    `
	var l model.Lead
	err := r.db.QueryRow(ctx, query, id, tenantID).Scan(
		&l.ID,
		&l.TenantID,
		&l.Name,
		&l.BusinessName,
		&l.Phone,
		&l.Status,
		&l.FollowupStage,
		&l.SMSAttemptCount,
		&l.CallAttemptCount,
		&l.LastContactAt,
		&l.JobID,
		&l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Lead{}, ErrNotFound
		}
		r.logger.Error("Failed to get lead", zap.Int64("lead_id", id), zap.Error(err))
		return model.Lead{}, err
	}
	return l, nil
}

// RecordStageResult advances the lead's follow-up stage and attempt
// counters after a stage executes.
func (r *LeadRepository) RecordStageResult(ctx context.Context, leadID, tenantID int64, stage, smsInc, callInc int) error {
	query := `
        UPDATE leads
        SET followup_stage = $3,
            sms_attempt_count = sms_attempt_count + $4,
            call_attempt_count = call_attempt_count + $5,
            last_contact_at = NOW()
        WHERE id = $1 AND tenant_id = $2
    `
	_, err := r.db.Exec(ctx, query, leadID, tenantID, stage, smsInc, callInc)
	if err != nil {
		r.logger.Error("Failed to record stage result",
			zap.Int64("lead_id", leadID),
			zap.Int("stage", stage),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// InsertOutboundMessage persists one outbound message for audit and the
// conversation view.
func (r *LeadRepository) InsertOutboundMessage(ctx context.Context, tenantID, leadID int64, channel, body, providerID string) error {
	query := `
        INSERT INTO outbound_messages (tenant_id, lead_id, channel, body, provider_id)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.db.Exec(ctx, query, tenantID, leadID, channel, body, providerID)
	if err != nil {
		r.logger.Error("Failed to insert outbound message",
			zap.Int64("lead_id", leadID),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// UpdateStatus sets the lead status (used by the event API).
func (r *LeadRepository) UpdateStatus(ctx context.Context, leadID, tenantID int64, status model.LeadStatus) error {
	query := `UPDATE leads SET status = $3 WHERE id = $1 AND tenant_id = $2`
	_, err := r.db.Exec(ctx, query, leadID, tenantID, status)
	if err != nil {
		r.logger.Error("Failed to update lead status",
			zap.Int64("lead_id", leadID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	return err
}
