package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maslennikov-ig/buhbot-sla/model"
	"github.com/maslennikov-ig/buhbot-sla/timer"
)

type fakeTimerStore struct {
	mu   sync.Mutex
	jobs map[string]*model.TimerJob
}

func newFakeTimerStore() *fakeTimerStore {
	return &fakeTimerStore{jobs: make(map[string]*model.TimerJob)}
}

func (f *fakeTimerStore) ScheduleTimerJob(ctx context.Context, id string, jobType model.TimerJobType, payload model.TimerJobPayload, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.jobs[id]; exists {
		return nil
	}
	f.jobs[id] = &model.TimerJob{ID: id, JobType: jobType, Payload: payload, RunAt: runAt, Status: model.TimerJobStatusScheduled}
	return nil
}

func (f *fakeTimerStore) CancelTimerJob(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Status = model.TimerJobStatusCancelled
	}
	return nil
}

func (f *fakeTimerStore) ClaimDueTimerJobs(ctx context.Context, jobType model.TimerJobType, limit int) ([]*model.TimerJob, error) {
	return nil, nil
}

func (f *fakeTimerStore) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	return ok && j.Status == model.TimerJobStatusScheduled
}

type fakeEscalationStore struct {
	chats    map[int64]*model.Chat
	requests map[string]*model.Request
	alerts   map[string][]*model.Alert // by requestID
	settings model.GlobalSettings
}

func newFakeEscalationStore() *fakeEscalationStore {
	return &fakeEscalationStore{
		chats:    make(map[int64]*model.Chat),
		requests: make(map[string]*model.Request),
		alerts:   make(map[string][]*model.Alert),
		settings: model.DefaultGlobalSettings(),
	}
}

func (f *fakeEscalationStore) GetChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	return f.chats[chatID], nil
}

func (f *fakeEscalationStore) GetRequest(ctx context.Context, requestID string) (*model.Request, error) {
	return f.requests[requestID], nil
}

func (f *fakeEscalationStore) GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error) {
	s := f.settings
	return &s, nil
}

func (f *fakeEscalationStore) FindActiveAlert(ctx context.Context, requestID string, alertType model.AlertType, level int) (*model.Alert, error) {
	for _, a := range f.alerts[requestID] {
		if a.AlertType == alertType && a.EscalationLevel == level && !a.IsResolved() {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeEscalationStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	f.alerts[a.RequestID] = append(f.alerts[a.RequestID], a)
	return nil
}

func (f *fakeEscalationStore) SetRequestStatus(ctx context.Context, requestID string, status model.RequestStatus) error {
	f.requests[requestID].Status = status
	return nil
}

func (f *fakeEscalationStore) MarkClosed(ctx context.Context, requestID string) error {
	f.requests[requestID].Status = model.RequestStatusClosed
	return nil
}

func (f *fakeEscalationStore) ResolveOpenAlerts(ctx context.Context, requestID string, action model.ResolvedAction) error {
	for _, a := range f.alerts[requestID] {
		if !a.IsResolved() {
			a.ResolvedAction = action
		}
	}
	return nil
}

func (f *fakeEscalationStore) MarkBreachedTx(ctx context.Context, requestID string, alert *model.Alert) error {
	f.requests[requestID].SLABreached = true
	f.requests[requestID].Status = model.RequestStatusEscalated
	return f.CreateAlert(ctx, alert)
}

type fakeNotifier struct {
	delivered []*model.Alert
}

func (f *fakeNotifier) Deliver(ctx context.Context, chat *model.Chat, req *model.Request, alert *model.Alert) error {
	f.delivered = append(f.delivered, alert)
	return nil
}

func TestScheduleForNewRequestSchedulesWarningAndBreach(t *testing.T) {
	timerStore := newFakeTimerStore()
	store := newFakeEscalationStore()
	e := New(store, timer.New(timerStore), &fakeNotifier{})

	req := &model.Request{ID: "req-1", ChatID: 10, ReceivedAt: time.Now().UTC(), Status: model.RequestStatusPending}
	chat := &model.Chat{ID: 10, SLAThresholdMinutes: 60, AccountantIDs: []string{"acc-1"}}

	require.NoError(t, e.ScheduleForNewRequest(context.Background(), req, chat))
	require.True(t, timerStore.has(timer.JobID(model.TimerJobWarning, "req-1", 0)))
	require.True(t, timerStore.has(timer.JobID(model.TimerJobBreach, "req-1", 1)))
}

func TestHandleWarningFiredCreatesLevel0Alert(t *testing.T) {
	timerStore := newFakeTimerStore()
	store := newFakeEscalationStore()
	notifier := &fakeNotifier{}
	e := New(store, timer.New(timerStore), notifier)

	store.chats[10] = &model.Chat{ID: 10, AccountantIDs: []string{"acc-1"}}
	store.requests["req-1"] = &model.Request{ID: "req-1", ChatID: 10, ReceivedAt: time.Now().UTC().Add(-15 * time.Minute), Status: model.RequestStatusPending}

	job := &model.TimerJob{Payload: model.TimerJobPayload{RequestID: "req-1", ChatID: 10}}
	require.NoError(t, e.HandleWarningFired(context.Background(), job))

	require.Len(t, store.alerts["req-1"], 1)
	require.Equal(t, 0, store.alerts["req-1"][0].EscalationLevel)
	require.Equal(t, []string{"acc-1"}, store.alerts["req-1"][0].RecipientIDs)
	require.Len(t, notifier.delivered, 1)

	// Firing again while the alert is still active must be a no-op.
	require.NoError(t, e.HandleWarningFired(context.Background(), job))
	require.Len(t, store.alerts["req-1"], 1)
}

func TestHandleBreachFiredMarksEscalatedAndSchedulesNext(t *testing.T) {
	timerStore := newFakeTimerStore()
	store := newFakeEscalationStore()
	e := New(store, timer.New(timerStore), &fakeNotifier{})

	store.chats[10] = &model.Chat{ID: 10, AccountantIDs: []string{"acc-1"}}
	store.requests["req-1"] = &model.Request{ID: "req-1", ChatID: 10, ReceivedAt: time.Now().UTC().Add(-60 * time.Minute), Status: model.RequestStatusPending}

	job := &model.TimerJob{Payload: model.TimerJobPayload{RequestID: "req-1", ChatID: 10, ThresholdMinutes: 60}}
	require.NoError(t, e.HandleBreachFired(context.Background(), job))

	require.True(t, store.requests["req-1"].SLABreached)
	require.Equal(t, model.RequestStatusEscalated, store.requests["req-1"].Status)
	require.Len(t, store.alerts["req-1"], 1)
	require.Equal(t, 1, store.alerts["req-1"][0].EscalationLevel)
	require.True(t, timerStore.has(timer.JobID(model.TimerJobEscalation, "req-1", 2)))
}

func TestHandleEscalationFiredStopsAtMaxLevel(t *testing.T) {
	timerStore := newFakeTimerStore()
	store := newFakeEscalationStore()
	store.settings.MaxEscalationLevel = 2
	e := New(store, timer.New(timerStore), &fakeNotifier{})

	store.chats[10] = &model.Chat{ID: 10, ManagerIDs: []string{"mgr-1"}}
	store.requests["req-1"] = &model.Request{ID: "req-1", ChatID: 10, ReceivedAt: time.Now().UTC().Add(-120 * time.Minute), Status: model.RequestStatusEscalated}

	job := &model.TimerJob{Payload: model.TimerJobPayload{RequestID: "req-1", ChatID: 10, Level: 2}}
	require.NoError(t, e.HandleEscalationFired(context.Background(), job))

	require.Len(t, store.alerts["req-1"], 1)
	require.False(t, timerStore.has(timer.JobID(model.TimerJobEscalation, "req-1", 3)))
}

func TestTierRecipientsFallsBackThroughLevels(t *testing.T) {
	chat := &model.Chat{ManagerIDs: []string{"mgr-1"}}
	require.Equal(t, []string{"mgr-1"}, tierRecipients(chat, 0, []string{"global-1"}))
	require.Equal(t, []string{"global-1"}, tierRecipients(&model.Chat{}, 0, []string{"global-1"}))

	chat2 := &model.Chat{ManagerIDs: []string{"mgr-1"}, AccountantIDs: []string{"acc-1"}}
	require.ElementsMatch(t, []string{"mgr-1", "acc-1"}, tierRecipients(chat2, 2, nil))
}

func TestCancelAllTimersCancelsEveryLevel(t *testing.T) {
	timerStore := newFakeTimerStore()
	store := newFakeEscalationStore()
	timers := timer.New(timerStore)
	e := New(store, timers, &fakeNotifier{})

	req := &model.Request{ID: "req-1", ChatID: 10}
	require.NoError(t, timers.Schedule(context.Background(), timer.JobID(model.TimerJobWarning, "req-1", 0), model.TimerJobWarning, model.TimerJobPayload{}, time.Now()))
	require.NoError(t, timers.Schedule(context.Background(), timer.JobID(model.TimerJobEscalation, "req-1", 2), model.TimerJobEscalation, model.TimerJobPayload{}, time.Now()))

	require.NoError(t, e.CancelAllTimers(context.Background(), req, 5))
	require.False(t, timerStore.has(timer.JobID(model.TimerJobWarning, "req-1", 0)))
	require.False(t, timerStore.has(timer.JobID(model.TimerJobEscalation, "req-1", 2)))
}
