package repository

import (
	"context"
	"errors"
	"time"

	"fieldops/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type AssignmentRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAssignmentRepository(db *pgxpool.Pool, logger *zap.Logger) *AssignmentRepository {
	return &AssignmentRepository{db: db, logger: logger}
}

// ListPendingOlderThan returns all pending assignment requests created at
// or before the cutoff, oldest first.
func (r *AssignmentRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.AssignmentRequest, error) {
	query := `
        SELECT id, tenant_id, job_id, assignee_id, status, created_at, updated_at
        FROM assignment_requests
        WHERE status = 'pending' AND created_at <= $1
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		r.logger.Error("Failed to list stale pending assignment requests", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var requests []model.AssignmentRequest
	for rows.Next() {
		var a model.AssignmentRequest
		if err := rows.Scan(
			&a.ID,
			&a.TenantID,
			&a.JobID,
			&a.AssigneeID,
			&a.Status,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		requests = append(requests, a)
	}
	return requests, rows.Err()
}

// HasAccepted reports whether any request for the job is already accepted.
func (r *AssignmentRepository) HasAccepted(ctx context.Context, jobID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM assignment_requests WHERE job_id = $1 AND status = 'accepted')`
	var exists bool
	if err := r.db.QueryRow(ctx, query, jobID).Scan(&exists); err != nil {
		r.logger.Error("Failed to check accepted assignment", zap.Int64("job_id", jobID), zap.Error(err))
		return false, err
	}
	return exists, nil
}

// Accept transitions a pending request to accepted only if no other
// request for the same job is already accepted. The NOT EXISTS guard
// handles the common case, but two accepts racing on different rows of
// the same job each see a snapshot with no accepted row; the partial
// unique index on (job_id) WHERE status='accepted' is the authority
// there, and the loser's unique violation is reported as a lost race.
func (r *AssignmentRepository) Accept(ctx context.Context, requestID, jobID int64) (bool, error) {
	query := `
        UPDATE assignment_requests
        SET status = 'accepted', updated_at = NOW()
        WHERE id = $1
          AND status = 'pending'
          AND NOT EXISTS (
              SELECT 1 FROM assignment_requests
              WHERE job_id = $2 AND status = 'accepted'
          )
    `
	result, err := r.db.Exec(ctx, query, requestID, jobID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.logger.Info("Assignment accept lost the race",
				zap.Int64("request_id", requestID),
				zap.Int64("job_id", jobID),
			)
			return false, nil
		}
		r.logger.Error("Failed to accept assignment request",
			zap.Int64("request_id", requestID),
			zap.Int64("job_id", jobID),
			zap.Error(err),
		)
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// DeclinePendingForJob downgrades every still-pending request for the job
// (first accept wins; the winner keeps its accepted row).
func (r *AssignmentRepository) DeclinePendingForJob(ctx context.Context, jobID int64) (int64, error) {
	query := `
        UPDATE assignment_requests
        SET status = 'declined', updated_at = NOW()
        WHERE job_id = $1 AND status = 'pending'
    `
	result, err := r.db.Exec(ctx, query, jobID)
	if err != nil {
		r.logger.Error("Failed to decline pending requests", zap.Int64("job_id", jobID), zap.Error(err))
		return 0, err
	}
	return result.RowsAffected(), nil
}

// Cancel marks one request cancelled (crew backed out of an accepted job).
func (r *AssignmentRepository) Cancel(ctx context.Context, requestID int64) error {
	query := `
        UPDATE assignment_requests
        SET status = 'cancelled', updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to cancel assignment request", zap.Int64("request_id", requestID), zap.Error(err))
	}
	return err
}

// ReopenClosedForJob re-opens declined and cancelled requests for the job.
// Only cancellation-triggered rebroadcast rounds call this; timeout rounds
// never re-offer to workers who already declined.
func (r *AssignmentRepository) ReopenClosedForJob(ctx context.Context, jobID int64) (int64, error) {
	query := `
        UPDATE assignment_requests
        SET status = 'pending', created_at = NOW(), updated_at = NOW()
        WHERE job_id = $1 AND status IN ('declined','cancelled')
    `
	result, err := r.db.Exec(ctx, query, jobID)
	if err != nil {
		r.logger.Error("Failed to reopen closed requests", zap.Int64("job_id", jobID), zap.Error(err))
		return 0, err
	}
	return result.RowsAffected(), nil
}

// CreateForWorkers inserts pending requests for workers who do not have
// one for this job yet.
func (r *AssignmentRepository) CreateForWorkers(ctx context.Context, tenantID, jobID int64, workerIDs []int64) (int64, error) {
	var created int64
	for _, workerID := range workerIDs {
		query := `
            INSERT INTO assignment_requests (tenant_id, job_id, assignee_id, status)
            SELECT $1, $2, $3, 'pending'
            WHERE NOT EXISTS (
                SELECT 1 FROM assignment_requests WHERE job_id = $2 AND assignee_id = $3
            )
        `
		result, err := r.db.Exec(ctx, query, tenantID, jobID, workerID)
		if err != nil {
			r.logger.Error("Failed to create assignment request",
				zap.Int64("job_id", jobID),
				zap.Int64("worker_id", workerID),
				zap.Error(err),
			)
			return created, err
		}
		created += result.RowsAffected()
	}
	return created, nil
}

// GetByID fetches one request.
func (r *AssignmentRepository) GetByID(ctx context.Context, requestID int64) (model.AssignmentRequest, error) {
	query := `
        SELECT id, tenant_id, job_id, assignee_id, status, created_at, updated_at
        FROM assignment_requests
        WHERE id = $1
    `
	var a model.AssignmentRequest
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&a.ID,
		&a.TenantID,
		&a.JobID,
		&a.AssigneeID,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to get assignment request", zap.Int64("request_id", requestID), zap.Error(err))
		return model.AssignmentRequest{}, err
	}
	return a, nil
}
