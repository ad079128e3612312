package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// fakeStore is an in-memory JobStore double for engine tests.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*model.TimerJob
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*model.TimerJob)}
}

func (f *fakeStore) ScheduleTimerJob(ctx context.Context, id string, jobType model.TimerJobType, payload model.TimerJobPayload, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.jobs[id]; exists {
		return nil
	}
	f.jobs[id] = &model.TimerJob{ID: id, JobType: jobType, Payload: payload, RunAt: runAt, Status: model.TimerJobStatusScheduled}
	return nil
}

func (f *fakeStore) CancelTimerJob(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok && j.Status == model.TimerJobStatusScheduled {
		j.Status = model.TimerJobStatusCancelled
	}
	return nil
}

func (f *fakeStore) ClaimDueTimerJobs(ctx context.Context, jobType model.TimerJobType, limit int) ([]*model.TimerJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.TimerJob
	now := time.Now().UTC()
	for _, j := range f.jobs {
		if len(out) >= limit {
			break
		}
		if j.JobType == jobType && j.Status == model.TimerJobStatusScheduled && !j.RunAt.After(now) {
			j.Status = model.TimerJobStatusFired
			j.Attempts++
			out = append(out, j)
		}
	}
	return out, nil
}

func TestScheduleDedupIsFirstWins(t *testing.T) {
	store := newFakeStore()
	e := New(store)

	id := JobID(model.TimerJobWarning, "req-1", 0)
	payload := model.TimerJobPayload{RequestID: "req-1", ChatID: 1, Level: 0}
	require.NoError(t, e.Schedule(context.Background(), id, model.TimerJobWarning, payload, time.Now().UTC()))
	require.NoError(t, e.Schedule(context.Background(), id, model.TimerJobWarning, model.TimerJobPayload{RequestID: "req-1", ChatID: 999, Level: 0}, time.Now().UTC()))

	require.Equal(t, int64(1), store.jobs[id].Payload.ChatID, "second schedule call must not overwrite the first job's payload")
}

func TestCancelIsIdempotent(t *testing.T) {
	store := newFakeStore()
	e := New(store)
	id := JobID(model.TimerJobBreach, "req-2", 0)
	require.NoError(t, e.Schedule(context.Background(), id, model.TimerJobBreach, model.TimerJobPayload{RequestID: "req-2"}, time.Now().UTC()))

	require.NoError(t, e.Cancel(context.Background(), id))
	require.NoError(t, e.Cancel(context.Background(), id))
	require.Equal(t, model.TimerJobStatusCancelled, store.jobs[id].Status)
}

func TestRunDispatchesDueJobs(t *testing.T) {
	store := newFakeStore()
	e := New(store)

	var handled sync.WaitGroup
	handled.Add(1)
	var gotJob *model.TimerJob
	var mu sync.Mutex

	e.Register(WorkerGroup{
		Name:         "test-group",
		JobType:      model.TimerJobWarning,
		Concurrency:  2,
		BatchSize:    5,
		PollInterval: 10 * time.Millisecond,
		Handler: func(ctx context.Context, job *model.TimerJob) error {
			mu.Lock()
			gotJob = job
			mu.Unlock()
			handled.Done()
			return nil
		},
	})

	id := JobID(model.TimerJobWarning, "req-3", 0)
	require.NoError(t, store.ScheduleTimerJob(context.Background(), id, model.TimerJobWarning, model.TimerJobPayload{RequestID: "req-3"}, time.Now().UTC().Add(-time.Second)))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	waitDone := make(chan struct{})
	go func() {
		handled.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(400 * time.Millisecond):
		t.Fatal("handler was not invoked in time")
	}

	mu.Lock()
	require.NotNil(t, gotJob)
	require.Equal(t, "req-3", gotJob.Payload.RequestID)
	mu.Unlock()

	cancel()
	<-done
}
