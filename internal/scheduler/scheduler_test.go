package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldops/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore mimics the task table's contract: one live task per key,
// atomic claims, status guards on completion.
type memStore struct {
	mu     sync.Mutex
	tasks  map[int64]*model.ScheduledTask
	byKey  map[string]int64
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		tasks: map[int64]*model.ScheduledTask{},
		byKey: map[string]int64{},
	}
}

func (s *memStore) Upsert(_ context.Context, t *model.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[t.Key]; ok {
		existing := s.tasks[id]
		existing.ScheduledFor = t.ScheduledFor
		existing.Payload = t.Payload
		existing.Status = model.TaskStatusPending
		existing.ClaimToken = nil
		existing.ClaimedAt = nil
		t.ID = existing.ID
		return nil
	}

	s.nextID++
	t.ID = s.nextID
	t.Status = model.TaskStatusPending
	stored := *t
	s.tasks[t.ID] = &stored
	s.byKey[t.Key] = t.ID
	return nil
}

func (s *memStore) CancelByKey(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return 0, nil
	}
	s.tasks[id].Status = model.TaskStatusCancelled
	delete(s.byKey, key)
	return 1, nil
}

func (s *memStore) ClaimDue(_ context.Context, taskType string, now time.Time, batchSize int, claimToken string) ([]model.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*model.ScheduledTask
	for _, t := range s.tasks {
		if t.TaskType == taskType && t.Status == model.TaskStatusPending && !t.ScheduledFor.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if len(due) > batchSize {
		due = due[:batchSize]
	}

	claimedAt := now
	var out []model.ScheduledTask
	for _, t := range due {
		t.Status = model.TaskStatusClaimed
		token := claimToken
		t.ClaimToken = &token
		t.ClaimedAt = &claimedAt
		out = append(out, *t)
	}
	return out, nil
}

func (s *memStore) MarkDone(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != model.TaskStatusClaimed {
		return errors.New("task not claimed")
	}
	t.Status = model.TaskStatusDone
	delete(s.byKey, t.Key)
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != model.TaskStatusClaimed {
		return errors.New("task not claimed")
	}
	t.Status = model.TaskStatusFailed
	t.LastError = &reason
	delete(s.byKey, t.Key)
	return nil
}

func (s *memStore) get(id int64) model.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

func TestScheduleUpsertsExistingKey(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, zap.NewNop())
	ctx := context.Background()

	first := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	require.NoError(t, s.Schedule(ctx, 1, "lead_followup", "tenant:1:lead:42:stage:2", first, map[string]int{"stage": 2}))
	require.NoError(t, s.Schedule(ctx, 1, "lead_followup", "tenant:1:lead:42:stage:2", second, map[string]int{"stage": 2}))

	// One live task, re-armed to the later time.
	require.Len(t, store.tasks, 1)
	task := store.get(1)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Equal(t, second, task.ScheduledFor)
}

func TestScheduleAfterCompletionCreatesFreshTask(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, zap.NewNop())
	ctx := context.Background()

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Schedule(ctx, 1, "lead_followup", "key-1", at, nil))

	claimed, err := s.ClaimDue(ctx, "lead_followup", at, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, s.MarkDone(ctx, claimed[0].ID))

	// The key is free again; rescheduling starts a new task.
	require.NoError(t, s.Schedule(ctx, 1, "lead_followup", "key-1", at.Add(time.Hour), nil))
	require.Len(t, store.tasks, 2)
	assert.Equal(t, model.TaskStatusDone, store.get(1).Status)
	assert.Equal(t, model.TaskStatusPending, store.get(2).Status)
}

func TestCancelMissingKeyIsNoop(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, zap.NewNop())

	assert.NoError(t, s.Cancel(context.Background(), "never-scheduled"))
}

func TestClaimDueRespectsDueTimeAndBatch(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, zap.NewNop())
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Schedule(ctx, 1, "lead_followup", "due-1", now.Add(-time.Minute), nil))
	require.NoError(t, s.Schedule(ctx, 1, "lead_followup", "due-2", now.Add(-2*time.Minute), nil))
	require.NoError(t, s.Schedule(ctx, 1, "lead_followup", "future", now.Add(time.Hour), nil))

	claimed, err := s.ClaimDue(ctx, "lead_followup", now, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	// Oldest due first.
	assert.Equal(t, "due-2", claimed[0].Key)

	claimed, err = s.ClaimDue(ctx, "lead_followup", now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "due-1", claimed[0].Key)
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, zap.NewNop())
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	const total = 40
	for i := 0; i < total; i++ {
		key := "task-" + string(rune('a'+i%26)) + "-" + strings.Repeat("x", i/26+1)
		require.NoError(t, s.Schedule(ctx, 1, "lead_followup", key, now.Add(-time.Minute), nil))
	}

	var mu sync.Mutex
	seen := map[int64]int{}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimDue(ctx, "lead_followup", now, total)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, task := range claimed {
				seen[task.ID]++
			}
		}()
	}
	wg.Wait()

	// Every task claimed exactly once across all racers.
	require.Len(t, seen, total)
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %d claimed %d times", id, count)
	}
}

type recordingExecutor struct {
	failKey  string
	executed []string
}

func (r *recordingExecutor) Execute(_ context.Context, task model.ScheduledTask) error {
	r.executed = append(r.executed, task.Key)
	if task.Key == r.failKey {
		return errors.New("boom")
	}
	return nil
}

func TestRunnerMarksDoneAndFailed(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, zap.NewNop())
	ctx := context.Background()

	now := time.Now().Add(-time.Minute)
	require.NoError(t, s.Schedule(ctx, 1, "lead_followup", "good", now, nil))
	require.NoError(t, s.Schedule(ctx, 1, "lead_followup", "bad", now, nil))

	exec := &recordingExecutor{failKey: "bad"}
	runner := NewRunner(s, exec, []string{"lead_followup"}, zap.NewNop()).WithBatchSize(10)
	runner.RunOnce(ctx)

	assert.ElementsMatch(t, []string{"good", "bad"}, exec.executed)

	statuses := map[string]model.TaskStatus{}
	for _, task := range store.tasks {
		statuses[task.Key] = task.Status
	}
	assert.Equal(t, model.TaskStatusDone, statuses["good"])
	assert.Equal(t, model.TaskStatusFailed, statuses["bad"])
	failed := store.get(2)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "boom")
}
