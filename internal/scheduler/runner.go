package scheduler

import (
	"context"
	"time"

	"fieldops/internal/model"
	"fieldops/pkg/metrics"
	"fieldops/pkg/util"

	"go.uber.org/zap"
)

// TaskExecutor turns one claimed task into its side effects. A nil return
// means the task is finished (including "nothing to do"); an error means
// the task failed and is marked as such. Delivery failures are not
// executor errors; the stage machine advances past them on its own.
type TaskExecutor interface {
	Execute(ctx context.Context, task model.ScheduledTask) error
}

// Runner periodically claims due tasks of the registered types and hands
// each to the executor. Invocations are stateless; overlapping runners
// are safe because claiming is atomic.
type Runner struct {
	scheduler *Scheduler
	executor  TaskExecutor
	taskTypes []string
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRunner(scheduler *Scheduler, executor TaskExecutor, taskTypes []string, logger *zap.Logger) *Runner {
	return &Runner{
		scheduler: scheduler,
		executor:  executor,
		taskTypes: taskTypes,
		logger:    logger,
		interval:  30 * time.Second,
		batchSize: 50,
	}
}

func (r *Runner) WithInterval(interval time.Duration) *Runner {
	r.interval = interval
	return r
}

func (r *Runner) WithBatchSize(batchSize int) *Runner {
	r.batchSize = batchSize
	return r
}

// Start runs the claim/dispatch loop until the context is cancelled.
// Should be called in a goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Starting follow-up dispatch runner",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
		zap.Strings("task_types", r.taskTypes),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Follow-up dispatch runner stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce processes one cycle: claim due tasks per type, execute each.
// A claim failure skips the cycle; the next tick retries.
func (r *Runner) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ObserveRunnerCycle("followup_dispatcher", time.Since(start))
	}()

	for _, taskType := range r.taskTypes {
		tasks, err := r.scheduler.ClaimDue(ctx, taskType, time.Now(), r.batchSize)
		if err != nil {
			retryable, errType := util.IsRetryableError(err)
			r.logger.Error("Failed to claim due tasks, skipping cycle",
				zap.String("task_type", taskType),
				zap.String("error_type", errType),
				zap.Bool("retryable", retryable),
				zap.Error(err),
			)
			continue
		}
		if len(tasks) == 0 {
			continue
		}

		r.logger.Debug("Claimed due tasks",
			zap.String("task_type", taskType),
			zap.Int("count", len(tasks)),
		)

		for _, task := range tasks {
			if err := r.executor.Execute(ctx, task); err != nil {
				r.logger.Error("Task execution failed",
					zap.Int64("task_id", task.ID),
					zap.String("key", task.Key),
					zap.Error(err),
				)
				if markErr := r.scheduler.MarkFailed(ctx, task.ID, err.Error()); markErr != nil {
					r.logger.Error("Failed to mark task failed",
						zap.Int64("task_id", task.ID),
						zap.Error(markErr),
					)
				}
				continue
			}

			if err := r.scheduler.MarkDone(ctx, task.ID); err != nil {
				r.logger.Error("Failed to mark task done",
					zap.Int64("task_id", task.ID),
					zap.Error(err),
				)
			}
		}
	}
}
