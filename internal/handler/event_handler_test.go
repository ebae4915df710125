package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldops/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubScheduler struct {
	scheduled []string
	cancelled []string
}

func (s *stubScheduler) Schedule(_ context.Context, _ int64, _, key string, _ time.Time, _ any) error {
	s.scheduled = append(s.scheduled, key)
	return nil
}

func (s *stubScheduler) Cancel(_ context.Context, key string) error {
	s.cancelled = append(s.cancelled, key)
	return nil
}

type stubLeadStore struct {
	leads    map[int64]model.Lead
	statuses map[int64]model.LeadStatus
}

func (s *stubLeadStore) GetByID(_ context.Context, id, _ int64) (model.Lead, error) {
	lead, ok := s.leads[id]
	if !ok {
		return model.Lead{}, errNotFound
	}
	return lead, nil
}

func (s *stubLeadStore) UpdateStatus(_ context.Context, leadID, _ int64, status model.LeadStatus) error {
	s.statuses[leadID] = status
	return nil
}

var errNotFound = errors.New("not found")

// stubAssignments fixes the Accept outcome, standing in for the store's
// conditional update plus the one-accept-per-job unique index.
type stubAssignments struct {
	requests     map[int64]model.AssignmentRequest
	acceptResult bool
	accepted     []int64
	declinedJobs []int64
	cancelled    []int64
}

func (s *stubAssignments) GetByID(_ context.Context, requestID int64) (model.AssignmentRequest, error) {
	req, ok := s.requests[requestID]
	if !ok {
		return model.AssignmentRequest{}, errNotFound
	}
	return req, nil
}

func (s *stubAssignments) Accept(_ context.Context, requestID, _ int64) (bool, error) {
	if s.acceptResult {
		s.accepted = append(s.accepted, requestID)
	}
	return s.acceptResult, nil
}

func (s *stubAssignments) DeclinePendingForJob(_ context.Context, jobID int64) (int64, error) {
	s.declinedJobs = append(s.declinedJobs, jobID)
	return 1, nil
}

func (s *stubAssignments) Cancel(_ context.Context, requestID int64) error {
	s.cancelled = append(s.cancelled, requestID)
	return nil
}

type stubEventLog struct {
	events []model.EscalationEvent
}

func (s *stubEventLog) Insert(_ context.Context, e *model.EscalationEvent) error {
	s.events = append(s.events, *e)
	return nil
}

type stubPublisher struct {
	routingKeys []string
}

func (s *stubPublisher) Publish(routingKey string, _ any) error {
	s.routingKeys = append(s.routingKeys, routingKey)
	return nil
}

type handlerFixture struct {
	router      *gin.Engine
	scheduler   *stubScheduler
	leads       *stubLeadStore
	assignments *stubAssignments
	events      *stubEventLog
	publisher   *stubPublisher
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		scheduler:   &stubScheduler{},
		leads:       &stubLeadStore{leads: map[int64]model.Lead{}, statuses: map[int64]model.LeadStatus{}},
		assignments: &stubAssignments{requests: map[int64]model.AssignmentRequest{}},
		events:      &stubEventLog{},
		publisher:   &stubPublisher{},
	}
	h := NewEventHandler(f.scheduler, f.leads, f.assignments, f.events, f.publisher, zap.NewNop())

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("tenant_id", int64(1)) })
	r.POST("/events/leads", h.LeadReceived)
	r.POST("/events/leads/:id/resolved", h.LeadResolved)
	r.POST("/events/jobs/:id/cancelled", h.JobCancelled)
	r.POST("/assignments/:id/accept", h.AcceptAssignment)
	f.router = r
	return f
}

func (f *handlerFixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAcceptAssignmentWinner(t *testing.T) {
	f := newHandlerFixture(t)
	f.assignments.requests[5] = model.AssignmentRequest{ID: 5, TenantID: 1, JobID: 7, AssigneeID: 2, Status: model.AssignmentStatusPending}
	f.assignments.acceptResult = true

	w := f.post(t, "/assignments/5/accept", "{}")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{5}, f.assignments.accepted)
	// Winning closes out the competing offers and announces the accept.
	assert.Equal(t, []int64{7}, f.assignments.declinedJobs)
	assert.Equal(t, []string{"job.assignment.accepted"}, f.publisher.routingKeys)
}

func TestAcceptAssignmentLostRaceReturns409(t *testing.T) {
	f := newHandlerFixture(t)
	f.assignments.requests[5] = model.AssignmentRequest{ID: 5, TenantID: 1, JobID: 7, AssigneeID: 2, Status: model.AssignmentStatusPending}
	// Another request for job 7 won first: the store reports a lost race,
	// whether via the conditional update or the unique index on accepted.
	f.assignments.acceptResult = false

	w := f.post(t, "/assignments/5/accept", "{}")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already taken")
	assert.Empty(t, f.assignments.accepted)
	assert.Empty(t, f.assignments.declinedJobs)
	assert.Empty(t, f.publisher.routingKeys)
}

func TestAcceptAssignmentUnknownRequest(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.post(t, "/assignments/99/accept", "{}")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLeadReceivedSchedulesFirstStage(t *testing.T) {
	f := newHandlerFixture(t)
	f.leads.leads[42] = model.Lead{ID: 42, TenantID: 1, Status: model.LeadStatusNew}

	w := f.post(t, "/events/leads", `{"lead_id":42}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, f.scheduler.scheduled, 1)
	assert.Equal(t, "tenant:1:lead:42:stage:1", f.scheduler.scheduled[0])
}

func TestLeadResolvedCancelsLiveTasks(t *testing.T) {
	f := newHandlerFixture(t)
	f.leads.leads[42] = model.Lead{ID: 42, TenantID: 1, Status: model.LeadStatusContacted}

	w := f.post(t, "/events/leads/42/resolved", `{"status":"booked"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.LeadStatusBooked, f.leads.statuses[42])
	// Every stage key and second-call key is cancelled.
	assert.Len(t, f.scheduler.cancelled, 10)
	assert.Contains(t, f.scheduler.cancelled, "tenant:1:lead:42:stage:3")
	assert.Contains(t, f.scheduler.cancelled, "tenant:1:lead:42:stage:3:second_call")
}

func TestLeadResolvedRejectsOpenStatus(t *testing.T) {
	f := newHandlerFixture(t)
	f.leads.leads[42] = model.Lead{ID: 42, TenantID: 1, Status: model.LeadStatusContacted}

	w := f.post(t, "/events/leads/42/resolved", `{"status":"contacted"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.scheduler.cancelled)
}

func TestJobCancelledRecordsEvent(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.post(t, "/events/jobs/7/cancelled", `{"request_id":5,"worker_id":2}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{5}, f.assignments.cancelled)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, model.EventTypeCrewCancelled, f.events.events[0].EventType)
	assert.Equal(t, int64(7), f.events.events[0].JobID)
}
