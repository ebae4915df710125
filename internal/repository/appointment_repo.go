package repository

import (
	"context"
	"errors"
	"time"

	"fieldops/internal/model"
	"fieldops/pkg/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type AppointmentRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAppointmentRepository(db *pgxpool.Pool, logger *zap.Logger) *AppointmentRepository {
	return &AppointmentRepository{db: db, logger: logger}
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id, tenantID int64) (model.Appointment, error) {
	query := `
        SELECT id, tenant_id, client_id, client_name, start_at, duration_hours, status, crew_members
        FROM appointments
        WHERE id = $1 AND tenant_id = $2
    `
	var a model.Appointment
	err := r.db.QueryRow(ctx, query, id, tenantID).Scan(
		&a.ID,
		&a.TenantID,
		&a.ClientID,
		&a.ClientName,
		&a.Start,
		&a.DurationHours,
		&a.Status,
		&a.CrewMembers,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, ErrNotFound
		}
		r.logger.Error("Failed to get appointment", zap.Int64("appointment_id", id), zap.Error(err))
		return model.Appointment{}, err
	}
	return a, nil
}

// ListForDay returns the tenant's appointments whose start falls on the
// same calendar day as the given time, ordered by start.
func (r *AppointmentRepository) ListForDay(ctx context.Context, tenantID int64, day time.Time) ([]model.Appointment, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	queryStart := time.Now()
	query := `
        SELECT id, tenant_id, client_id, client_name, start_at, duration_hours, status, crew_members
        FROM appointments
        WHERE tenant_id = $1 AND start_at >= $2 AND start_at < $3
        ORDER BY start_at
    `
	rows, err := r.db.Query(ctx, query, tenantID, start, end)
	if err != nil {
		r.logger.Error("Failed to list appointments for day",
			zap.Int64("tenant_id", tenantID),
			zap.Time("day", start),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	var appointments []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(
			&a.ID,
			&a.TenantID,
			&a.ClientID,
			&a.ClientName,
			&a.Start,
			&a.DurationHours,
			&a.Status,
			&a.CrewMembers,
		); err != nil {
			return nil, err
		}
		appointments = append(appointments, a)
	}
	metrics.RecordDBQueryDuration("select", "appointments", time.Since(queryStart))
	return appointments, rows.Err()
}

// Reschedule applies a confirmed plan: the modified appointment's new
// window plus the delta shifts of its downstream neighbours, in one
// transaction.
func (r *AppointmentRepository) Reschedule(ctx context.Context, tenantID, id int64, newStart time.Time, newDurationHours float64, shiftIDs []int64, delta time.Duration) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
        UPDATE appointments SET start_at = $3, duration_hours = $4
        WHERE id = $2 AND tenant_id = $1
    `, tenantID, id, newStart, newDurationHours); err != nil {
		r.logger.Error("Failed to reschedule appointment", zap.Int64("appointment_id", id), zap.Error(err))
		return err
	}

	if len(shiftIDs) > 0 {
		if _, err := tx.Exec(ctx, `
            UPDATE appointments SET start_at = start_at + $3
            WHERE tenant_id = $1 AND id = ANY($2)
        `, tenantID, shiftIDs, delta); err != nil {
			r.logger.Error("Failed to shift downstream appointments",
				zap.Int64("appointment_id", id),
				zap.Int64s("shifted", shiftIDs),
				zap.Error(err),
			)
			return err
		}
	}

	return tx.Commit(ctx)
}
