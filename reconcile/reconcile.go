// Package reconcile periodically sweeps open Requests for missing or
// drifted timer jobs — the crash-recovery path spec.md §4.5 describes: a
// process that died between persisting a Request and scheduling its timers
// (or between a timer firing and its follow-up being scheduled) leaves no
// trace other than the Request's own state, so reconciliation re-derives
// and re-schedules what should exist, relying on timer.JobID's deterministic
// ids and ScheduleTimerJob's first-wins insert to make every reschedule a
// no-op when the job is already there.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maslennikov-ig/buhbot-sla/model"
	"github.com/maslennikov-ig/buhbot-sla/timer"
)

// lockID and lockTTL are spec.md §4.5's distributed-lock parameters: a
// single sweep holder at a time, its lock expiring after 300s so a crashed
// holder doesn't block the next run forever.
const (
	lockID  = "reconcile"
	lockTTL = 300 * time.Second

	defaultBatchSize     = 200
	defaultSweepInterval = 1 * time.Minute
)

// Store is the subset of *store.DB the reconciler needs.
type Store interface {
	FindOpenRequestsNearThreshold(ctx context.Context, limit int) ([]*model.Request, error)
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error)
	GetTimerJob(ctx context.Context, id string) (*model.TimerJob, error)
	LatestAlert(ctx context.Context, requestID string) (*model.Alert, error)
	AcquireLock(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockID, holder string) error
}

// Escalator is the subset of *escalation.Engine the reconciler needs.
type Escalator interface {
	ScheduleForNewRequest(ctx context.Context, req *model.Request, chat *model.Chat) error
	EnsureNextEscalationScheduled(ctx context.Context, req *model.Request, thresholdMinutes, currentLevel int) error
}

// Report summarizes one sweep (spec.md §4.5's reconciliation report shape).
type Report struct {
	TotalPending  int
	Rescheduled   int
	Breached      int
	AlreadyActive int
	Failed        int
}

// Metrics is the subset of metrics.Collector the reconciler needs
// (spec.md §4.9: "reconciliation run outcomes").
type Metrics interface {
	RecordReconcileSweep(totalPending, rescheduled, breached, alreadyActive, failed int)
}

// Reconciler runs the periodic orphan-timer sweep.
type Reconciler struct {
	store     Store
	escalator Escalator
	holder    string
	batchSize int
	interval  time.Duration
	metrics   Metrics
}

// New constructs a Reconciler. holder must be unique per process so lock
// ownership can be verified on acquisition (spec.md §4.2/§4.5).
func New(store Store, escalator Escalator, holder string) *Reconciler {
	return &Reconciler{store: store, escalator: escalator, holder: holder, batchSize: defaultBatchSize, interval: defaultSweepInterval}
}

// SetMetrics attaches an optional metrics collector.
func (r *Reconciler) SetMetrics(m Metrics) {
	r.metrics = m
}

// Run sweeps on a ticker until ctx is cancelled (spec.md §5: reconciliation
// is a concurrency-1 worker pool — a single reconciler instance per
// deployment is always correct, and the distributed lock makes it safe to
// run more than one anyway).
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.Sweep(ctx)
			if err != nil {
				slog.Error("reconcile: sweep failed", "error", err)
				continue
			}
			if report != nil {
				slog.Info("reconcile: sweep complete",
					"total_pending", report.TotalPending, "rescheduled", report.Rescheduled,
					"breached", report.Breached, "already_active", report.AlreadyActive, "failed", report.Failed)
			}
		}
	}
}

// Sweep runs one reconciliation pass. Returns nil, nil if another holder
// currently owns the lock.
func (r *Reconciler) Sweep(ctx context.Context) (*Report, error) {
	acquired, err := r.store.AcquireLock(ctx, lockID, r.holder, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("reconcile: acquire lock: %w", err)
	}
	if !acquired {
		slog.Info("reconcile: lock held by another worker, skipping sweep")
		return nil, nil
	}
	defer func() {
		if err := r.store.ReleaseLock(ctx, lockID, r.holder); err != nil {
			slog.Warn("reconcile: release lock failed", "error", err)
		}
	}()

	candidates, err := r.store.FindOpenRequestsNearThreshold(ctx, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load candidates: %w", err)
	}

	report := &Report{TotalPending: len(candidates)}
	settings, err := r.store.GetGlobalSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load settings: %w", err)
	}

	for _, req := range candidates {
		if err := r.reconcileOne(ctx, req, settings, report); err != nil {
			report.Failed++
			slog.Error("reconcile: request reconciliation failed", "request_id", req.ID, "error", err)
		}
	}
	if r.metrics != nil {
		r.metrics.RecordReconcileSweep(report.TotalPending, report.Rescheduled, report.Breached, report.AlreadyActive, report.Failed)
	}
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, req *model.Request, settings *model.GlobalSettings, report *Report) error {
	chat, err := r.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		return nil
	}

	threshold := chat.SLAThresholdMinutes
	if threshold <= 0 {
		threshold = settings.DefaultSLAThresholdMinutes
	}
	if elapsed := int(time.Since(req.ReceivedAt).Minutes()); elapsed >= threshold {
		report.Breached++
	}

	if req.Status == model.RequestStatusEscalated {
		return r.reconcileEscalated(ctx, req, threshold, settings, report)
	}

	warningJob, err := r.store.GetTimerJob(ctx, timer.JobID(model.TimerJobWarning, req.ID, 0))
	if err != nil {
		return fmt.Errorf("check warning timer: %w", err)
	}
	breachJob, err := r.store.GetTimerJob(ctx, timer.JobID(model.TimerJobBreach, req.ID, 1))
	if err != nil {
		return fmt.Errorf("check breach timer: %w", err)
	}
	if warningJob != nil && breachJob != nil {
		report.AlreadyActive++
		return nil
	}

	if err := r.escalator.ScheduleForNewRequest(ctx, req, chat); err != nil {
		return fmt.Errorf("reschedule warning/breach: %w", err)
	}
	report.Rescheduled++
	return nil
}

func (r *Reconciler) reconcileEscalated(ctx context.Context, req *model.Request, threshold int, settings *model.GlobalSettings, report *Report) error {
	latest, err := r.store.LatestAlert(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("load latest alert: %w", err)
	}
	currentLevel := 1
	if latest != nil {
		currentLevel = latest.EscalationLevel
	}
	if currentLevel >= settings.MaxEscalationLevel {
		report.AlreadyActive++
		return nil
	}

	nextJob, err := r.store.GetTimerJob(ctx, timer.JobID(model.TimerJobEscalation, req.ID, currentLevel+1))
	if err != nil {
		return fmt.Errorf("check escalation timer: %w", err)
	}
	if nextJob != nil {
		report.AlreadyActive++
		return nil
	}

	if err := r.escalator.EnsureNextEscalationScheduled(ctx, req, threshold, currentLevel); err != nil {
		return fmt.Errorf("reschedule next escalation: %w", err)
	}
	report.Rescheduled++
	return nil
}
