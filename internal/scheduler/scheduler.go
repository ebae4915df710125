// Package scheduler provides durable, idempotent, time-triggered task
// scheduling over the task store, and the periodic runner that claims due
// tasks and dispatches them.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldops/internal/model"
	"fieldops/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskStore is the durable task table contract the scheduler needs.
// *repository.TaskRepository satisfies it.
type TaskStore interface {
	Upsert(ctx context.Context, t *model.ScheduledTask) error
	CancelByKey(ctx context.Context, key string) (int64, error)
	ClaimDue(ctx context.Context, taskType string, now time.Time, batchSize int, claimToken string) ([]model.ScheduledTask, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

type Scheduler struct {
	store  TaskStore
	logger *zap.Logger
}

func NewScheduler(store TaskStore, logger *zap.Logger) *Scheduler {
	return &Scheduler{store: store, logger: logger}
}

// Schedule upserts the task for key: callers always mean "this is the
// authoritative next run for this key", so an existing live task gets its
// time and payload overwritten rather than duplicated.
func (s *Scheduler) Schedule(ctx context.Context, tenantID int64, taskType, key string, scheduledFor time.Time, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		metrics.IncrementTaskScheduled(taskType, "error")
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := &model.ScheduledTask{
		TenantID:     tenantID,
		TaskType:     taskType,
		Key:          key,
		ScheduledFor: scheduledFor,
		Payload:      payloadJSON,
	}
	if err := s.store.Upsert(ctx, task); err != nil {
		metrics.IncrementTaskScheduled(taskType, "error")
		return fmt.Errorf("failed to schedule task %s: %w", key, err)
	}

	metrics.IncrementTaskScheduled(taskType, "created")
	s.logger.Info("Task scheduled",
		zap.String("task_type", taskType),
		zap.String("key", key),
		zap.Time("scheduled_for", scheduledFor),
	)
	return nil
}

// Cancel marks any live task with the key as cancelled. A missing key is
// a no-op success. A task already claimed by a concurrent runner may
// still complete; the cancel is best effort in that race.
func (s *Scheduler) Cancel(ctx context.Context, key string) error {
	cancelled, err := s.store.CancelByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", key, err)
	}
	if cancelled > 0 {
		s.logger.Info("Task cancelled", zap.String("key", key))
	}
	return nil
}

// ClaimDue atomically claims up to batchSize due tasks of the given type.
// Each call uses a fresh claim token so overlapping runner invocations
// can never double-claim.
func (s *Scheduler) ClaimDue(ctx context.Context, taskType string, now time.Time, batchSize int) ([]model.ScheduledTask, error) {
	token := uuid.NewString()
	tasks, err := s.store.ClaimDue(ctx, taskType, now, batchSize, token)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due tasks: %w", err)
	}
	if len(tasks) > 0 {
		metrics.AddTasksClaimed(taskType, len(tasks))
	}
	return tasks, nil
}

func (s *Scheduler) MarkDone(ctx context.Context, id int64) error {
	return s.store.MarkDone(ctx, id)
}

func (s *Scheduler) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.store.MarkFailed(ctx, id, reason)
}
