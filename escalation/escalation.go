// Package escalation implements the SLA state machine: scheduling the
// warning/breach timers for a new Request, processing their firing,
// escalating through levels on an interval, and tiering recipients by
// level. Grounded on the lifecycle shape of
// _examples/other_examples/02f541b3_nasnet-community-nasnet-panel__apps-backend-internal-alerts-escalation.go.go
// (Track/Cancel/handle-timer), reimplemented against the durable
// timer_jobs/sla_alerts tables (timer.Engine, store.DB) instead of
// in-memory time.AfterFunc timers, since spec.md §4.2 requires restart
// durability at the store layer, not just in-memory crash recovery.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maslennikov-ig/buhbot-sla/model"
	"github.com/maslennikov-ig/buhbot-sla/timer"
)

// Store is the subset of *store.DB the escalation engine needs. Defined
// locally so this package documents its own dependency surface rather than
// depending on store's full API.
type Store interface {
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	GetRequest(ctx context.Context, requestID string) (*model.Request, error)
	GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error)
	FindActiveAlert(ctx context.Context, requestID string, alertType model.AlertType, level int) (*model.Alert, error)
	CreateAlert(ctx context.Context, a *model.Alert) error
	SetRequestStatus(ctx context.Context, requestID string, status model.RequestStatus) error
	MarkClosed(ctx context.Context, requestID string) error
	ResolveOpenAlerts(ctx context.Context, requestID string, action model.ResolvedAction) error

	// MarkBreachedTx atomically sets sla_breached+status and creates the
	// level-1 Alert in one transaction (spec.md §4.3 step 2). Implemented
	// by store.DB.WithTx composed with MarkBreached+CreateAlert.
	MarkBreachedTx(ctx context.Context, requestID string, alert *model.Alert) error
}

// Notifier delivers an Alert to its tiered recipients. Implemented by the
// delivery package; kept as a narrow interface here to avoid a dependency
// cycle (delivery composes chatapi.Channel, which escalation doesn't need).
type Notifier interface {
	Deliver(ctx context.Context, chat *model.Chat, req *model.Request, alert *model.Alert) error
}

// Metrics is the subset of metrics.Collector the escalation engine needs —
// defined locally so this package doesn't require a metrics.Collector
// value to function (spec.md §4.9: "alerts created by type/level").
type Metrics interface {
	RecordAlertCreated(alertType string, level int)
}

// Engine schedules and processes SLA timers.
type Engine struct {
	store    Store
	timers   *timer.Engine
	notifier Notifier
	metrics  Metrics
}

// New constructs an escalation Engine.
func New(store Store, timers *timer.Engine, notifier Notifier) *Engine {
	return &Engine{store: store, timers: timers, notifier: notifier}
}

// SetMetrics attaches an optional metrics collector. Nil-safe to call or
// to leave unset.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

func (e *Engine) recordAlertCreated(alert *model.Alert) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordAlertCreated(string(alert.AlertType), alert.EscalationLevel)
}

// ScheduleForNewRequest schedules the warning and breach timers for a
// freshly created pending Request (spec.md §4.4 transitions table:
// none→pending schedules both).
func (e *Engine) ScheduleForNewRequest(ctx context.Context, req *model.Request, chat *model.Chat) error {
	settings, err := e.store.GetGlobalSettings(ctx)
	if err != nil {
		return fmt.Errorf("schedule new request: load settings: %w", err)
	}

	threshold := chat.SLAThresholdMinutes
	if threshold <= 0 {
		threshold = settings.DefaultSLAThresholdMinutes
	}

	warningAt := req.ReceivedAt.Add(time.Duration(threshold-settings.WarningOffsetMinutes) * time.Minute)
	breachAt := req.ReceivedAt.Add(time.Duration(threshold) * time.Minute)

	payload := model.TimerJobPayload{RequestID: req.ID, ChatID: req.ChatID, ThresholdMinutes: threshold, Level: 0}

	if err := e.timers.Schedule(ctx, timer.JobID(model.TimerJobWarning, req.ID, 0), model.TimerJobWarning, payload, warningAt); err != nil {
		return fmt.Errorf("schedule warning timer: %w", err)
	}
	if err := e.timers.Schedule(ctx, timer.JobID(model.TimerJobBreach, req.ID, 1), model.TimerJobBreach, payload, breachAt); err != nil {
		return fmt.Errorf("schedule breach timer: %w", err)
	}
	return nil
}

// HandleWarningFired processes a fired warning timer: creates a level-0
// Alert and delivers it (spec.md §4.4 transitions: pending→pending on
// warning, create L0 Alert).
func (e *Engine) HandleWarningFired(ctx context.Context, job *model.TimerJob) error {
	req, err := e.store.GetRequest(ctx, job.Payload.RequestID)
	if err != nil {
		return fmt.Errorf("handle warning: load request: %w", err)
	}
	if req == nil || req.Status.IsTerminal() {
		slog.Info("warning timer fired for a request no longer open, skipping", "request_id", job.Payload.RequestID)
		return nil
	}

	existing, err := e.store.FindActiveAlert(ctx, req.ID, model.AlertTypeWarning, 0)
	if err != nil {
		return fmt.Errorf("handle warning: check existing alert: %w", err)
	}
	if existing != nil {
		slog.Info("warning alert already exists, skipping", "request_id", req.ID)
		return nil
	}

	chat, err := e.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return fmt.Errorf("handle warning: load chat: %w", err)
	}
	settings, err := e.store.GetGlobalSettings(ctx)
	if err != nil {
		return fmt.Errorf("handle warning: load settings: %w", err)
	}

	alert := &model.Alert{
		RequestID:       req.ID,
		AlertType:       model.AlertTypeWarning,
		MinutesElapsed:  elapsedMinutes(req.ReceivedAt),
		EscalationLevel: 0,
		RecipientIDs:    tierRecipients(chat, 0, settings.GlobalManagerIDs),
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("handle warning: create alert: %w", err)
	}
	e.recordAlertCreated(alert)
	return e.deliver(ctx, chat, req, alert)
}

// HandleBreachFired processes a fired breach timer: atomically flips the
// Request to escalated/breached and creates the level-1 Alert, then
// schedules level-2 (spec.md §4.4 transitions: pending→escalated/L1).
func (e *Engine) HandleBreachFired(ctx context.Context, job *model.TimerJob) error {
	req, err := e.store.GetRequest(ctx, job.Payload.RequestID)
	if err != nil {
		return fmt.Errorf("handle breach: load request: %w", err)
	}
	if req == nil || req.Status.IsTerminal() {
		slog.Info("breach timer fired for a request no longer open, skipping", "request_id", job.Payload.RequestID)
		return nil
	}

	existing, err := e.store.FindActiveAlert(ctx, req.ID, model.AlertTypeBreach, 1)
	if err != nil {
		return fmt.Errorf("handle breach: check existing alert: %w", err)
	}
	if existing != nil {
		slog.Info("breach alert already exists, skipping", "request_id", req.ID)
		return nil
	}

	chat, err := e.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return fmt.Errorf("handle breach: load chat: %w", err)
	}
	settings, err := e.store.GetGlobalSettings(ctx)
	if err != nil {
		return fmt.Errorf("handle breach: load settings: %w", err)
	}

	alert := &model.Alert{
		RequestID:       req.ID,
		AlertType:       model.AlertTypeBreach,
		MinutesElapsed:  elapsedMinutes(req.ReceivedAt),
		EscalationLevel: 1,
		RecipientIDs:    tierRecipients(chat, 1, settings.GlobalManagerIDs),
	}
	if err := e.store.MarkBreachedTx(ctx, req.ID, alert); err != nil {
		return fmt.Errorf("handle breach: mark breached: %w", err)
	}
	e.recordAlertCreated(alert)

	if err := e.scheduleNextEscalation(ctx, req, job.Payload.ThresholdMinutes, 1); err != nil {
		return fmt.Errorf("handle breach: schedule next escalation: %w", err)
	}
	return e.deliver(ctx, chat, req, alert)
}

// HandleEscalationFired processes a fired escalation timer: creates an
// Alert at the next level and schedules the one after, or leaves the chain
// terminal at max level (spec.md §4.4 transitions: escalated/Lk →
// escalated/Lk+1).
func (e *Engine) HandleEscalationFired(ctx context.Context, job *model.TimerJob) error {
	req, err := e.store.GetRequest(ctx, job.Payload.RequestID)
	if err != nil {
		return fmt.Errorf("handle escalation: load request: %w", err)
	}
	if req == nil || req.Status.IsTerminal() {
		slog.Info("escalation timer fired for a request no longer open, skipping", "request_id", job.Payload.RequestID)
		return nil
	}

	level := job.Payload.Level
	existing, err := e.store.FindActiveAlert(ctx, req.ID, model.AlertTypeBreach, level)
	if err != nil {
		return fmt.Errorf("handle escalation: check existing alert: %w", err)
	}
	if existing != nil {
		slog.Info("escalation alert already exists at this level, skipping", "request_id", req.ID, "level", level)
		return nil
	}

	settings, err := e.store.GetGlobalSettings(ctx)
	if err != nil {
		return fmt.Errorf("handle escalation: load settings: %w", err)
	}
	if level > settings.MaxEscalationLevel {
		slog.Warn("escalation timer fired past max level, marking auto_expired", "request_id", req.ID, "level", level)
		return e.store.ResolveOpenAlerts(ctx, req.ID, model.ResolvedActionAutoExpired)
	}

	chat, err := e.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return fmt.Errorf("handle escalation: load chat: %w", err)
	}

	alert := &model.Alert{
		RequestID:       req.ID,
		AlertType:       model.AlertTypeBreach,
		MinutesElapsed:  elapsedMinutes(req.ReceivedAt),
		EscalationLevel: level,
		RecipientIDs:    tierRecipients(chat, level, settings.GlobalManagerIDs),
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("handle escalation: create alert: %w", err)
	}
	e.recordAlertCreated(alert)

	if level < settings.MaxEscalationLevel {
		if err := e.scheduleNextEscalation(ctx, req, job.Payload.ThresholdMinutes, level); err != nil {
			return fmt.Errorf("handle escalation: schedule next: %w", err)
		}
	} else {
		slog.Info("escalation chain reached max level, marking auto_expired", "request_id", req.ID, "level", level)
		if err := e.store.ResolveOpenAlerts(ctx, req.ID, model.ResolvedActionAutoExpired); err != nil {
			return fmt.Errorf("handle escalation: resolve auto_expired: %w", err)
		}
	}
	return e.deliver(ctx, chat, req, alert)
}

// scheduleNextEscalation schedules level+1's escalation timer,
// EscalationIntervalMinutes after now (spec.md §4.4).
func (e *Engine) scheduleNextEscalation(ctx context.Context, req *model.Request, thresholdMinutes, currentLevel int) error {
	settings, err := e.store.GetGlobalSettings(ctx)
	if err != nil {
		return err
	}
	nextLevel := currentLevel + 1
	if nextLevel > settings.MaxEscalationLevel {
		return nil
	}
	runAt := time.Now().UTC().Add(time.Duration(settings.EscalationIntervalMinutes) * time.Minute)
	payload := model.TimerJobPayload{RequestID: req.ID, ChatID: req.ChatID, ThresholdMinutes: thresholdMinutes, Level: nextLevel}
	return e.timers.Schedule(ctx, timer.JobID(model.TimerJobEscalation, req.ID, nextLevel), model.TimerJobEscalation, payload, runAt)
}

// EnsureNextEscalationScheduled re-schedules level+1's escalation timer if
// it isn't already (idempotent via timer.JobID's deterministic id and
// ScheduleTimerJob's first-wins insert). Exported for the reconcile
// package, which detects a missing escalation timer job and needs to
// restore it without duplicating scheduleNextEscalation's logic.
func (e *Engine) EnsureNextEscalationScheduled(ctx context.Context, req *model.Request, thresholdMinutes, currentLevel int) error {
	return e.scheduleNextEscalation(ctx, req, thresholdMinutes, currentLevel)
}

// CancelAllTimers cancels every timer id that could still be outstanding
// for a Request (spec.md §4.6 step 4: accountant reply cancels warning,
// breach, and every escalation level up to max).
func (e *Engine) CancelAllTimers(ctx context.Context, req *model.Request, maxLevel int) error {
	if err := e.timers.Cancel(ctx, timer.JobID(model.TimerJobWarning, req.ID, 0)); err != nil {
		return fmt.Errorf("cancel warning timer: %w", err)
	}
	if err := e.timers.Cancel(ctx, timer.JobID(model.TimerJobBreach, req.ID, 1)); err != nil {
		return fmt.Errorf("cancel breach timer: %w", err)
	}
	for level := 2; level <= maxLevel; level++ {
		if err := e.timers.Cancel(ctx, timer.JobID(model.TimerJobEscalation, req.ID, level)); err != nil {
			return fmt.Errorf("cancel escalation timer level %d: %w", level, err)
		}
	}
	return nil
}

func (e *Engine) deliver(ctx context.Context, chat *model.Chat, req *model.Request, alert *model.Alert) error {
	if len(alert.RecipientIDs) == 0 {
		slog.Warn("alert has no recipients, skipping delivery but keeping state transition", "request_id", req.ID, "level", alert.EscalationLevel)
		return nil
	}
	if e.notifier == nil {
		return nil
	}
	return e.notifier.Deliver(ctx, chat, req, alert)
}

func elapsedMinutes(receivedAt time.Time) int {
	return int(time.Since(receivedAt).Minutes())
}

// tierRecipients implements spec.md §4.4's recipient tiering: level 0/1
// primary is the chat's accountants, falling back to the chat's managers,
// falling back to global managers; level >=2 is the union of the chat's
// managers and accountants, falling back to global managers. An empty
// result here is a valid outcome — callers log and skip delivery rather
// than treating it as an error.
func tierRecipients(chat *model.Chat, level int, globalManagerIDs []string) []string {
	if chat == nil {
		return globalManagerIDs
	}
	if level <= 1 {
		if len(chat.AccountantIDs) > 0 {
			return chat.AccountantIDs
		}
		if len(chat.ManagerIDs) > 0 {
			return chat.ManagerIDs
		}
		return globalManagerIDs
	}

	union := make([]string, 0, len(chat.ManagerIDs)+len(chat.AccountantIDs))
	union = append(union, chat.ManagerIDs...)
	union = append(union, chat.AccountantIDs...)
	if len(union) > 0 {
		return union
	}
	return globalManagerIDs
}
