package repository

import (
	"context"
	"encoding/json"
	"time"

	"fieldops/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// EventLogRepository is the append-only operational event log. Alert
// deduplication is the Exists check right before Insert; the window
// between them is the documented best-effort race.
type EventLogRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewEventLogRepository(db *pgxpool.Pool, logger *zap.Logger) *EventLogRepository {
	return &EventLogRepository{db: db, logger: logger}
}

func (r *EventLogRepository) Insert(ctx context.Context, e *model.EscalationEvent) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO escalation_events (tenant_id, job_id, lead_id, source, event_type, reason, message, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at
    `
	err = r.db.QueryRow(ctx, query,
		e.TenantID,
		e.JobID,
		e.LeadID,
		e.Source,
		e.EventType,
		e.Reason,
		e.Message,
		metadataJSON,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert escalation event",
			zap.Int64("job_id", e.JobID),
			zap.String("event_type", e.EventType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Exists reports whether an event with this (jobID, eventType, reason)
// has already been logged.
func (r *EventLogRepository) Exists(ctx context.Context, jobID int64, eventType, reason string) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM escalation_events
            WHERE job_id = $1 AND event_type = $2 AND reason = $3
        )
    `
	var exists bool
	if err := r.db.QueryRow(ctx, query, jobID, eventType, reason).Scan(&exists); err != nil {
		r.logger.Error("Failed to check escalation event existence",
			zap.Int64("job_id", jobID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return false, err
	}
	return exists, nil
}

// CountByType counts events of one type for a job (attempt ceilings).
func (r *EventLogRepository) CountByType(ctx context.Context, jobID int64, eventType string) (int, error) {
	query := `SELECT COUNT(*) FROM escalation_events WHERE job_id = $1 AND event_type = $2`
	var count int
	if err := r.db.QueryRow(ctx, query, jobID, eventType).Scan(&count); err != nil {
		r.logger.Error("Failed to count escalation events",
			zap.Int64("job_id", jobID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return 0, err
	}
	return count, nil
}

// ListLatestByType returns, per job, the most recent event of the given
// type (cancellation triggers for the rebroadcast policy).
func (r *EventLogRepository) ListLatestByType(ctx context.Context, eventType string, since time.Time) ([]model.EscalationEvent, error) {
	query := `
        SELECT DISTINCT ON (job_id)
               id, tenant_id, job_id, lead_id, source, event_type, reason, message, metadata, created_at
        FROM escalation_events
        WHERE event_type = $1 AND created_at >= $2
        ORDER BY job_id, created_at DESC
    `
	rows, err := r.db.Query(ctx, query, eventType, since)
	if err != nil {
		r.logger.Error("Failed to list escalation events",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	var events []model.EscalationEvent
	for rows.Next() {
		var e model.EscalationEvent
		var metadataJSON []byte
		if err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.JobID,
			&e.LeadID,
			&e.Source,
			&e.EventType,
			&e.Reason,
			&e.Message,
			&metadataJSON,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
