package repository

import (
	"context"
	"time"

	"fieldops/internal/model"
	"fieldops/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type TaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

// Upsert creates the task, or overwrites scheduled_for/payload when a
// non-terminal task with the same key already exists. The partial unique
// index on key guarantees at most one live task per key.
func (r *TaskRepository) Upsert(ctx context.Context, t *model.ScheduledTask) error {
	start := time.Now()
	query := `
        INSERT INTO scheduled_tasks (tenant_id, task_type, key, scheduled_for, payload, status)
        VALUES ($1, $2, $3, $4, $5, 'pending')
        ON CONFLICT (key) WHERE status IN ('pending','claimed')
        DO UPDATE SET
            scheduled_for = EXCLUDED.scheduled_for,
            payload = EXCLUDED.payload,
            status = 'pending',
            claim_token = NULL,
            claimed_at = NULL,
            updated_at = NOW()
        RETURNING id, created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		t.TenantID,
		t.TaskType,
		t.Key,
		t.ScheduledFor,
		t.Payload,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	metrics.RecordDBQueryDuration("upsert", "scheduled_tasks", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to upsert scheduled task",
			zap.String("key", t.Key),
			zap.String("task_type", t.TaskType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// CancelByKey marks any live task with the key as cancelled. Zero rows
// affected is a normal outcome, not an error.
func (r *TaskRepository) CancelByKey(ctx context.Context, key string) (int64, error) {
	query := `
        UPDATE scheduled_tasks
        SET status = 'cancelled', updated_at = NOW()
        WHERE key = $1 AND status IN ('pending','claimed')
    `
	result, err := r.db.Exec(ctx, query, key)
	if err != nil {
		r.logger.Error("Failed to cancel scheduled task",
			zap.String("key", key),
			zap.Error(err),
		)
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ClaimDue atomically claims up to batchSize due pending tasks of the
// given type. FOR UPDATE SKIP LOCKED keeps concurrent runners from ever
// claiming the same row.
func (r *TaskRepository) ClaimDue(ctx context.Context, taskType string, now time.Time, batchSize int, claimToken string) ([]model.ScheduledTask, error) {
	start := time.Now()
	query := `
        UPDATE scheduled_tasks
        SET status = 'claimed', claim_token = $1, claimed_at = NOW(), updated_at = NOW()
        WHERE id IN (
            SELECT id FROM scheduled_tasks
            WHERE task_type = $2 AND status = 'pending' AND scheduled_for <= $3
            ORDER BY scheduled_for ASC
            LIMIT $4
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, tenant_id, task_type, key, scheduled_for, payload, status,
                  claim_token, claimed_at, last_error, created_at, updated_at
    `
	rows, err := r.db.Query(ctx, query, claimToken, taskType, now, batchSize)
	metrics.RecordDBQueryDuration("claim", "scheduled_tasks", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to claim due tasks",
			zap.String("task_type", taskType),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	var tasks []model.ScheduledTask
	for rows.Next() {
		var t model.ScheduledTask
		if err := rows.Scan(
			&t.ID,
			&t.TenantID,
			&t.TaskType,
			&t.Key,
			&t.ScheduledFor,
			&t.Payload,
			&t.Status,
			&t.ClaimToken,
			&t.ClaimedAt,
			&t.LastError,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) MarkDone(ctx context.Context, id int64) error {
	query := `
        UPDATE scheduled_tasks
        SET status = 'done', updated_at = NOW()
        WHERE id = $1 AND status = 'claimed'
    `
	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to mark task done", zap.Int64("task_id", id), zap.Error(err))
	}
	return err
}

func (r *TaskRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `
        UPDATE scheduled_tasks
        SET status = 'failed', last_error = $2, updated_at = NOW()
        WHERE id = $1 AND status = 'claimed'
    `
	_, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		r.logger.Error("Failed to mark task failed", zap.Int64("task_id", id), zap.Error(err))
	}
	return err
}
