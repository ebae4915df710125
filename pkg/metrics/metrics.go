package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_tasks_total",
			Help: "Total number of tasks scheduled, by type and outcome",
		},
		[]string{"task_type", "outcome"}, // outcome: created, updated, error
	)

	TasksClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimed_tasks_total",
			Help: "Total number of due tasks claimed by the runner",
		},
		[]string{"task_type"},
	)

	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_stage_executions_total",
			Help: "Total follow-up stage executions, by action and result",
		},
		[]string{"action", "result"}, // result: sent, failed, skipped
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Delivery adapter attempts, by channel and status",
		},
		[]string{"channel", "status"}, // channel: sms, voice, payment_link, chat
	)

	EscalationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_actions_total",
			Help: "Escalation monitor actions taken, by event type",
		},
		[]string{"event_type"},
	)

	CascadeConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_conflicts_total",
			Help: "Conflicts detected by the reschedule cascade calculator",
		},
		[]string{"conflict_type"}, // after_hours, crew_overlap
	)

	RunnerCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runner_cycle_duration_seconds",
			Help:    "Duration of one periodic runner cycle",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"runner"}, // followup_dispatcher, escalation_monitor
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation", "table"},
	)
)

func IncrementTaskScheduled(taskType, outcome string) {
	TasksScheduled.WithLabelValues(taskType, outcome).Inc()
}

func AddTasksClaimed(taskType string, n int) {
	TasksClaimed.WithLabelValues(taskType).Add(float64(n))
}

func IncrementStageExecution(action, result string) {
	StageExecutions.WithLabelValues(action, result).Inc()
}

func IncrementDeliveryAttempt(channel, status string) {
	DeliveryAttempts.WithLabelValues(channel, status).Inc()
}

func IncrementEscalationAction(eventType string) {
	EscalationActions.WithLabelValues(eventType).Inc()
}

func IncrementCascadeConflict(conflictType string) {
	CascadeConflicts.WithLabelValues(conflictType).Inc()
}

func ObserveRunnerCycle(runner string, duration time.Duration) {
	RunnerCycleDuration.WithLabelValues(runner).Observe(duration.Seconds())
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}
