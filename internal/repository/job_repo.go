package repository

import (
	"context"
	"errors"

	"fieldops/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type JobRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewJobRepository(db *pgxpool.Pool, logger *zap.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (model.Job, error) {
	query := `
        SELECT id, tenant_id, customer_id, customer_name, customer_phone, owner_phone,
               description, scheduled_date, amount_cents, created_at
        FROM jobs
        WHERE id = $1
    `
	var j model.Job
	err := r.db.QueryRow(ctx, query, id).Scan(
		&j.ID,
		&j.TenantID,
		&j.CustomerID,
		&j.CustomerName,
		&j.CustomerPhone,
		&j.OwnerPhone,
		&j.Description,
		&j.ScheduledDate,
		&j.AmountCents,
		&j.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Job{}, ErrNotFound
		}
		r.logger.Error("Failed to get job", zap.Int64("job_id", id), zap.Error(err))
		return model.Job{}, err
	}
	return j, nil
}
