package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// Handler runs the side effect for one fired job. A returned error is
// logged; the job itself stays marked 'fired' (spec.md §4.2 leaves retry of
// a failed handler to reconciliation re-detecting the missing follow-on
// state, not to the timer store itself).
type Handler func(ctx context.Context, job *model.TimerJob) error

// WorkerGroup is one dedicated pool for a single job type (cmd/buhbot-sla
// registers sla-warning, sla-breach and sla-escalation). Each polls the
// store independently and bounds its own concurrency.
type WorkerGroup struct {
	Name         string
	JobType      model.TimerJobType
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	// RateLimiter optionally throttles handler invocations — the
	// sla-escalation group uses this for the ~30 msg/sec provider ceiling
	// (spec.md §4.7).
	RateLimiter *rate.Limiter
	Handler     Handler
}

// Engine schedules and cancels durable jobs and runs the registered worker
// groups that consume them.
type Engine struct {
	store  JobStore
	groups []WorkerGroup
}

// New constructs an Engine over store. Groups are added with Register
// before Run.
func New(store JobStore) *Engine {
	return &Engine{store: store}
}

// Register adds a worker group. Must be called before Run.
func (e *Engine) Register(g WorkerGroup) {
	if g.Concurrency <= 0 {
		g.Concurrency = 1
	}
	if g.BatchSize <= 0 {
		g.BatchSize = 10
	}
	if g.PollInterval <= 0 {
		g.PollInterval = time.Second
	}
	e.groups = append(e.groups, g)
}

// Schedule delegates to the store. id should be built with JobID for
// first-wins dedup.
func (e *Engine) Schedule(ctx context.Context, id string, jobType model.TimerJobType, payload model.TimerJobPayload, runAt time.Time) error {
	return e.store.ScheduleTimerJob(ctx, id, jobType, payload, runAt)
}

// Cancel delegates to the store. Idempotent.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	return e.store.CancelTimerJob(ctx, id)
}

// Run blocks, polling every registered group's due jobs until ctx is
// cancelled, then drains in-flight handlers before returning — mirroring
// consumer.go.go's Start()/wg.Wait() shutdown shape.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, g := range e.groups {
		wg.Add(1)
		go func(g WorkerGroup) {
			defer wg.Done()
			e.runGroup(ctx, g)
		}(g)
	}
	wg.Wait()
}

func (e *Engine) runGroup(ctx context.Context, g WorkerGroup) {
	logger := slog.With("worker_group", g.Name, "job_type", g.JobType)
	logger.Info("worker group started", "concurrency", g.Concurrency, "batch_size", g.BatchSize)

	sem := make(chan struct{}, g.Concurrency)
	var inFlight sync.WaitGroup

	ticker := time.NewTicker(g.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			inFlight.Wait()
			logger.Info("worker group stopped")
			return
		case <-ticker.C:
			jobs, err := e.store.ClaimDueTimerJobs(ctx, g.JobType, g.BatchSize)
			if err != nil {
				logger.Error("claim due jobs failed", "error", err)
				continue
			}
			for _, job := range jobs {
				job := job
				sem <- struct{}{}
				inFlight.Add(1)
				go func() {
					defer inFlight.Done()
					defer func() { <-sem }()
					e.dispatch(ctx, g, logger, job)
				}()
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, g WorkerGroup, logger *slog.Logger, job *model.TimerJob) {
	if g.RateLimiter != nil {
		if err := g.RateLimiter.Wait(ctx); err != nil {
			logger.Warn("rate limiter wait aborted", "job_id", job.ID, "error", err)
			return
		}
	}
	if err := g.Handler(ctx, job); err != nil {
		logger.Error("handler failed", "job_id", job.ID, "attempts", job.Attempts, "error", err)
		return
	}
	logger.Info("job handled", "job_id", job.ID)
}
