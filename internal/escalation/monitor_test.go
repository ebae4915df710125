package escalation

import (
	"context"
	"testing"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAssignments struct {
	requests     []model.AssignmentRequest
	acceptedJobs map[int64]bool
	declined     []int64
	reopened     []int64
	created      [][]int64
}

func (f *fakeAssignments) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]model.AssignmentRequest, error) {
	var out []model.AssignmentRequest
	for _, r := range f.requests {
		if r.Status == model.AssignmentStatusPending && !r.CreatedAt.After(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAssignments) HasAccepted(_ context.Context, jobID int64) (bool, error) {
	return f.acceptedJobs[jobID], nil
}

func (f *fakeAssignments) DeclinePendingForJob(_ context.Context, jobID int64) (int64, error) {
	f.declined = append(f.declined, jobID)
	var n int64
	for i := range f.requests {
		if f.requests[i].JobID == jobID && f.requests[i].Status == model.AssignmentStatusPending {
			f.requests[i].Status = model.AssignmentStatusDeclined
			n++
		}
	}
	return n, nil
}

func (f *fakeAssignments) ReopenClosedForJob(_ context.Context, jobID int64) (int64, error) {
	f.reopened = append(f.reopened, jobID)
	var n int64
	for i := range f.requests {
		if f.requests[i].JobID == jobID &&
			(f.requests[i].Status == model.AssignmentStatusDeclined || f.requests[i].Status == model.AssignmentStatusCancelled) {
			f.requests[i].Status = model.AssignmentStatusPending
			n++
		}
	}
	return n, nil
}

func (f *fakeAssignments) CreateForWorkers(_ context.Context, _, _ int64, workerIDs []int64) (int64, error) {
	f.created = append(f.created, workerIDs)
	return int64(len(workerIDs)), nil
}

type fakeJobs struct {
	jobs map[int64]model.Job
}

func (f *fakeJobs) GetByID(_ context.Context, id int64) (model.Job, error) {
	return f.jobs[id], nil
}

type fakeWorkers struct {
	workers map[int64]model.Worker
}

func (f *fakeWorkers) ListEligible(_ context.Context, tenantID int64, skipWorkerID int64) ([]model.Worker, error) {
	var out []model.Worker
	for _, w := range f.workers {
		if w.TenantID == tenantID && !w.Excluded && w.ID != skipWorkerID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeWorkers) GetByID(_ context.Context, id int64) (model.Worker, error) {
	return f.workers[id], nil
}

// memEventLog mirrors the durable log's dedup semantics in memory.
type memEventLog struct {
	events []model.EscalationEvent
	nextID int64
}

func (m *memEventLog) Insert(_ context.Context, e *model.EscalationEvent) error {
	m.nextID++
	e.ID = m.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *memEventLog) Exists(_ context.Context, jobID int64, eventType, reason string) (bool, error) {
	for _, e := range m.events {
		if e.JobID == jobID && e.EventType == eventType && e.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEventLog) CountByType(_ context.Context, jobID int64, eventType string) (int, error) {
	count := 0
	for _, e := range m.events {
		if e.JobID == jobID && e.EventType == eventType {
			count++
		}
	}
	return count, nil
}

func (m *memEventLog) ListLatestByType(_ context.Context, eventType string, since time.Time) ([]model.EscalationEvent, error) {
	latest := map[int64]model.EscalationEvent{}
	for _, e := range m.events {
		if e.EventType != eventType || e.CreatedAt.Before(since) {
			continue
		}
		if cur, ok := latest[e.JobID]; !ok || e.CreatedAt.After(cur.CreatedAt) {
			latest[e.JobID] = e
		}
	}
	var out []model.EscalationEvent
	for _, e := range latest {
		out = append(out, e)
	}
	return out, nil
}

func (m *memEventLog) byType(eventType string) []model.EscalationEvent {
	var out []model.EscalationEvent
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// openGuard lets everything through, like the redis guard failing open.
type openGuard struct{}

func (openGuard) AcquireOnce(context.Context, string, string) bool { return true }

type monitorPublished struct {
	routingKey string
	payload    any
}

type fakeMonitorPublisher struct {
	published []monitorPublished
}

func (f *fakeMonitorPublisher) Publish(routingKey string, payload any) error {
	f.published = append(f.published, monitorPublished{routingKey, payload})
	return nil
}

type noOverrides struct{}

func (noOverrides) Get(context.Context, int64) (*config.TenantOverrides, error) { return nil, nil }

type monitorTextSender struct {
	sent []string
	to   []string
}

func (f *monitorTextSender) SendText(_ context.Context, _ int64, phone, message string) (string, error) {
	f.to = append(f.to, phone)
	f.sent = append(f.sent, message)
	return "sm_test", nil
}

type monitorChatSender struct {
	sent []string
}

func (f *monitorChatSender) SendChatMessage(_ context.Context, _ int64, message string) error {
	f.sent = append(f.sent, message)
	return nil
}

type monitorFixture struct {
	monitor     *Monitor
	assignments *fakeAssignments
	jobs        *fakeJobs
	workers     *fakeWorkers
	events      *memEventLog
	publisher   *fakeMonitorPublisher
	sms         *monitorTextSender
	chat        *monitorChatSender
	now         time.Time
}

func newMonitorFixture(t *testing.T, cfg config.OrchestrationConfig) *monitorFixture {
	t.Helper()

	f := &monitorFixture{
		assignments: &fakeAssignments{acceptedJobs: map[int64]bool{}},
		jobs:        &fakeJobs{jobs: map[int64]model.Job{}},
		workers:     &fakeWorkers{workers: map[int64]model.Worker{}},
		events:      &memEventLog{},
		publisher:   &fakeMonitorPublisher{},
		sms:         &monitorTextSender{},
		chat:        &monitorChatSender{},
		now:         time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	f.monitor = NewMonitor(
		f.assignments, f.jobs, f.workers, f.events, openGuard{}, f.publisher,
		noOverrides{}, f.sms, f.chat, cfg, zap.NewNop(),
	)
	f.monitor.now = func() time.Time { return f.now }
	return f
}

func (f *monitorFixture) addPending(jobID, workerID int64, age time.Duration) {
	f.assignments.requests = append(f.assignments.requests, model.AssignmentRequest{
		ID:         int64(len(f.assignments.requests) + 1),
		TenantID:   1,
		JobID:      jobID,
		AssigneeID: workerID,
		Status:     model.AssignmentStatusPending,
		CreatedAt:  f.now.Add(-age),
	})
}

func urgentJob(id int64) model.Job {
	return model.Job{ID: id, TenantID: 1, CustomerName: "Dana", CustomerPhone: "+15550002", Description: "burst pipe, urgent"}
}

func TestMonitorDeclinesLeftoversOnAcceptedJob(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultOrchestration())
	f.jobs.jobs[7] = urgentJob(7)
	f.assignments.acceptedJobs[7] = true
	f.addPending(7, 2, 20*time.Minute)

	f.monitor.RunOnce(context.Background())

	assert.Equal(t, []int64{7}, f.assignments.declined)
	assert.Empty(t, f.events.events)
	assert.Empty(t, f.chat.sent)
}

func TestMonitorQuietBelowTimeout(t *testing.T) {
	cfg := config.DefaultOrchestration()
	f := newMonitorFixture(t, cfg)
	f.jobs.jobs[7] = model.Job{ID: 7, TenantID: 1, Description: "routine maintenance"}
	// 20m old: below the 30m standard timeout for a non-urgent job.
	f.addPending(7, 2, 20*time.Minute)

	f.monitor.RunOnce(context.Background())

	assert.Empty(t, f.events.events)
	assert.Empty(t, f.sms.sent)
}

func TestMonitorSendsReminderRound(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultOrchestration())
	f.jobs.jobs[7] = urgentJob(7)
	f.workers.workers[2] = model.Worker{ID: 2, TenantID: 1, Name: "Max", Phone: "+15550010"}
	f.workers.workers[3] = model.Worker{ID: 3, TenantID: 1, Name: "Ana", Phone: "+15550011"}
	f.addPending(7, 2, 16*time.Minute)
	f.addPending(7, 3, 16*time.Minute)

	f.monitor.RunOnce(context.Background())

	assert.ElementsMatch(t, []string{"+15550010", "+15550011"}, f.sms.to)
	reminders := f.events.byType(model.EventTypeUrgentReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, "attempt_1", reminders[0].Reason)

	// Second pass while still unanswered: the next round.
	f.monitor.RunOnce(context.Background())
	require.Len(t, f.events.byType(model.EventTypeUrgentReminder), 2)
	assert.Equal(t, "attempt_2", f.events.byType(model.EventTypeUrgentReminder)[1].Reason)
}

func TestMonitorReminderRoundCoversFreshOffers(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultOrchestration())
	f.jobs.jobs[7] = urgentJob(7)
	f.workers.workers[2] = model.Worker{ID: 2, TenantID: 1, Name: "Max", Phone: "+15550010"}
	f.workers.workers[3] = model.Worker{ID: 3, TenantID: 1, Name: "Ana", Phone: "+15550011"}
	// The job timed out on the oldest offer; the 5m-old offer is still
	// pending too, and its assignee gets the same reminder.
	f.addPending(7, 2, 40*time.Minute)
	f.addPending(7, 3, 5*time.Minute)

	f.monitor.RunOnce(context.Background())

	assert.ElementsMatch(t, []string{"+15550010", "+15550011"}, f.sms.to)
	reminders := f.events.byType(model.EventTypeUrgentReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, 2, reminders[0].Metadata["notified"])
}

// staticOverrides serves the same overrides for every tenant.
type staticOverrides struct {
	overrides *config.TenantOverrides
}

func (s staticOverrides) Get(context.Context, int64) (*config.TenantOverrides, error) {
	return s.overrides, nil
}

func TestMonitorHonorsShortTenantTimeout(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultOrchestration())
	five := 5
	f.monitor.tenants = staticOverrides{overrides: &config.TenantOverrides{UrgentResponseTimeoutMins: &five}}
	f.jobs.jobs[7] = urgentJob(7)
	f.workers.workers[2] = model.Worker{ID: 2, TenantID: 1, Name: "Max", Phone: "+15550010"}
	// 10m old: below the 15m default, past the tenant's 5m urgent timeout.
	f.addPending(7, 2, 10*time.Minute)

	f.monitor.RunOnce(context.Background())

	require.Len(t, f.events.byType(model.EventTypeUrgentReminder), 1)
	assert.Equal(t, []string{"+15550010"}, f.sms.to)
}

func TestMonitorExhaustionAlertFiresOnce(t *testing.T) {
	cfg := config.DefaultOrchestration()
	cfg.MaxFollowupAttempts = 2
	f := newMonitorFixture(t, cfg)
	f.jobs.jobs[7] = urgentJob(7)
	f.workers.workers[2] = model.Worker{ID: 2, TenantID: 1, Name: "Max", Phone: "+15550010"}
	f.addPending(7, 2, 16*time.Minute)

	// Two reminder rounds, then the ceiling.
	f.monitor.RunOnce(context.Background())
	f.monitor.RunOnce(context.Background())
	f.monitor.RunOnce(context.Background())
	f.monitor.RunOnce(context.Background())

	require.Len(t, f.events.byType(model.EventTypeUrgentReminder), 2)
	require.Len(t, f.events.byType(model.EventTypeMaxAttemptsExhausted), 1)
	require.Len(t, f.chat.sent, 1)
	assert.Contains(t, f.chat.sent[0], "assign manually")
}

func TestMonitorOwnerAlertAndCustomerNotice(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultOrchestration())
	f.jobs.jobs[7] = urgentJob(7)
	f.workers.workers[2] = model.Worker{ID: 2, TenantID: 1, Name: "Max", Phone: "+15550010"}
	f.addPending(7, 2, 65*time.Minute)

	f.monitor.RunOnce(context.Background())

	require.Len(t, f.events.byType(model.EventTypeOwnerAlert), 1)
	require.Len(t, f.events.byType(model.EventTypeCustomerDelayNotice), 1)

	// Customer notice goes to the customer's phone.
	assert.Contains(t, f.sms.to, "+15550002")

	// Level-triggered, not edge-triggered: the second pass re-derives the
	// same state but the log dedup keeps the alerts single.
	f.monitor.RunOnce(context.Background())
	require.Len(t, f.events.byType(model.EventTypeOwnerAlert), 1)
	require.Len(t, f.events.byType(model.EventTypeCustomerDelayNotice), 1)
}

func TestMonitorTimeoutRoundDoesNotReopenDeclined(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultOrchestration())
	f.jobs.jobs[7] = urgentJob(7)
	f.workers.workers[2] = model.Worker{ID: 2, TenantID: 1, Name: "Max", Phone: "+15550010"}
	f.addPending(7, 2, 40*time.Minute)
	f.assignments.requests = append(f.assignments.requests, model.AssignmentRequest{
		ID: 99, TenantID: 1, JobID: 7, AssigneeID: 3,
		Status: model.AssignmentStatusDeclined, CreatedAt: f.now.Add(-50 * time.Minute),
	})

	f.monitor.RunOnce(context.Background())

	assert.Empty(t, f.assignments.reopened)
}

func TestMonitorRebroadcastAfterCancellation(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultOrchestration())
	f.jobs.jobs[7] = urgentJob(7)
	f.workers.workers[2] = model.Worker{ID: 2, TenantID: 1, Name: "Max", Phone: "+15550010"}
	f.workers.workers[3] = model.Worker{ID: 3, TenantID: 1, Name: "Ana", Phone: "+15550011"}
	f.assignments.requests = append(f.assignments.requests, model.AssignmentRequest{
		ID: 10, TenantID: 1, JobID: 7, AssigneeID: 3,
		Status: model.AssignmentStatusDeclined, CreatedAt: f.now.Add(-2 * time.Hour),
	})

	f.events.events = append(f.events.events, model.EscalationEvent{
		ID: 1, TenantID: 1, JobID: 7,
		EventType: model.EventTypeCrewCancelled,
		Metadata:  map[string]any{"worker_id": float64(2)},
		CreatedAt: f.now.Add(-21 * time.Minute),
	})
	f.events.nextID = 1

	f.monitor.RunOnce(context.Background())

	// Cancellation rounds reopen declined offers and skip the canceller.
	assert.Equal(t, []int64{7}, f.assignments.reopened)
	require.Len(t, f.assignments.created, 1)
	assert.Equal(t, []int64{3}, f.assignments.created[0])

	require.Len(t, f.events.byType(model.EventTypeRebroadcast), 1)

	rebroadcasts := 0
	for _, p := range f.publisher.published {
		if p.routingKey == "job.rebroadcast" {
			rebroadcasts++
		}
	}
	assert.Equal(t, 1, rebroadcasts)

	// The same cancellation never triggers a second round.
	f.monitor.RunOnce(context.Background())
	require.Len(t, f.events.byType(model.EventTypeRebroadcast), 1)
	assert.Equal(t, []int64{7}, f.assignments.reopened)
}

func TestMonitorCancellationOwnerAlertNamesWorker(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultOrchestration())
	f.jobs.jobs[7] = urgentJob(7)
	f.workers.workers[2] = model.Worker{ID: 2, TenantID: 1, Name: "Max", Phone: "+15550010"}

	f.events.events = append(f.events.events, model.EscalationEvent{
		ID: 1, TenantID: 1, JobID: 7,
		EventType: model.EventTypeCrewCancelled,
		Metadata:  map[string]any{"worker_id": float64(2)},
		CreatedAt: f.now.Add(-45 * time.Minute),
	})
	f.events.nextID = 1

	f.monitor.RunOnce(context.Background())

	alerts := f.events.byType(model.EventTypeCancellationOwnerAlert)
	require.Len(t, alerts, 1)
	require.NotEmpty(t, f.chat.sent)
	assert.Contains(t, f.chat.sent[len(f.chat.sent)-1], "Max")
}

func TestMonitorCancellationIgnoredOnceAccepted(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultOrchestration())
	f.jobs.jobs[7] = urgentJob(7)
	f.assignments.acceptedJobs[7] = true

	f.events.events = append(f.events.events, model.EscalationEvent{
		ID: 1, TenantID: 1, JobID: 7,
		EventType: model.EventTypeCrewCancelled,
		CreatedAt: f.now.Add(-2 * time.Hour),
	})
	f.events.nextID = 1

	f.monitor.RunOnce(context.Background())

	assert.Empty(t, f.assignments.reopened)
	assert.Empty(t, f.events.byType(model.EventTypeRebroadcast))
	assert.Empty(t, f.events.byType(model.EventTypeCancellationOwnerAlert))
}
