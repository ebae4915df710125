package repository

import (
	"context"

	"fieldops/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type WorkerRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewWorkerRepository(db *pgxpool.Pool, logger *zap.Logger) *WorkerRepository {
	return &WorkerRepository{db: db, logger: logger}
}

// ListEligible returns the tenant's non-excluded workers, optionally
// skipping one worker id (the crew member who just cancelled).
func (r *WorkerRepository) ListEligible(ctx context.Context, tenantID int64, skipWorkerID int64) ([]model.Worker, error) {
	query := `
        SELECT id, tenant_id, name, phone, excluded
        FROM workers
        WHERE tenant_id = $1 AND excluded = FALSE AND id <> $2
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query, tenantID, skipWorkerID)
	if err != nil {
		r.logger.Error("Failed to list eligible workers", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var workers []model.Worker
	for rows.Next() {
		var w model.Worker
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Name, &w.Phone, &w.Excluded); err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// GetByID fetches one worker.
func (r *WorkerRepository) GetByID(ctx context.Context, id int64) (model.Worker, error) {
	query := `SELECT id, tenant_id, name, phone, excluded FROM workers WHERE id = $1`
	var w model.Worker
	err := r.db.QueryRow(ctx, query, id).Scan(&w.ID, &w.TenantID, &w.Name, &w.Phone, &w.Excluded)
	if err != nil {
		r.logger.Error("Failed to get worker", zap.Int64("worker_id", id), zap.Error(err))
		return model.Worker{}, err
	}
	return w, nil
}
