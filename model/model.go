// Package model defines the core entities of the SLA escalation engine:
// Chat, Request, Alert, TimerJob, GlobalSettings, FeedbackResponse, and the
// supporting entities (FAQItem, ChatMessage, ChatInvitation) that back the
// ingestion pipeline.
package model

import "time"

// ChatType is the kind of chat a Chat row represents.
type ChatType string

const (
	ChatTypeGroup      ChatType = "group"
	ChatTypeSupergroup ChatType = "supergroup"
	ChatTypePrivate    ChatType = "private"
)

// ClientTier is stored on each Chat; recipient tiering and message
// formatting do not read it.
type ClientTier string

const (
	ClientTierStandard ClientTier = "standard"
	ClientTierPriority ClientTier = "priority"
)

// Chat is keyed by the external (Telegram-style) chat id, a 64-bit signed
// integer. The row is never deleted; removal of the bot only disables
// monitoring and SLA tracking.
type Chat struct {
	ID                   int64
	Title                string
	ChatType             ChatType
	SLAEnabled           bool
	SLAThresholdMinutes  int
	MonitoringEnabled    bool
	Is24x7               bool
	ManagerIDs           []string
	AccountantIDs        []string
	NotifyInChatOnBreach bool
	ClientTier           ClientTier
	InviteURL            string
	DeletedAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Classification is the outcome of the three-layer classifier (§4.1 step 5).
type Classification string

const (
	ClassificationRequest      Classification = "REQUEST"
	ClassificationSpam         Classification = "SPAM"
	ClassificationGratitude    Classification = "GRATITUDE"
	ClassificationClarification Classification = "CLARIFICATION"
)

// RequestStatus tracks a Request through its SLA lifecycle.
type RequestStatus string

const (
	RequestStatusPending       RequestStatus = "pending"
	RequestStatusInProgress    RequestStatus = "in_progress"
	RequestStatusWaitingClient RequestStatus = "waiting_client"
	RequestStatusTransferred   RequestStatus = "transferred"
	RequestStatusAnswered      RequestStatus = "answered"
	RequestStatusEscalated     RequestStatus = "escalated"
	RequestStatusClosed        RequestStatus = "closed"
)

// IsTerminal reports whether no further timers may fire for a Request in
// this status: once a Request is answered or closed, its timers are done.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusAnswered || s == RequestStatusClosed
}

// Request is the canonical SLA unit: a client message that requires a reply.
type Request struct {
	ID                   string
	ChatID               int64
	ClientUsername       string
	MessageText          string
	ThreadID             *string
	Classification       Classification
	ReceivedAt           time.Time
	Status               RequestStatus
	SLABreached          bool
	ResponseMessageID    *int64
	ResponseTimeMinutes  *int
}

// AlertType distinguishes a pre-breach warning from a breach/escalation.
type AlertType string

const (
	AlertTypeWarning AlertType = "warning"
	AlertTypeBreach  AlertType = "breach"
)

// ResolvedAction records why an Alert left the active state.
type ResolvedAction string

const (
	ResolvedActionNone               ResolvedAction = ""
	ResolvedActionMarkResolved       ResolvedAction = "mark_resolved"
	ResolvedActionAccountantResponded ResolvedAction = "accountant_responded"
	ResolvedActionAutoExpired        ResolvedAction = "auto_expired"
)

// DeliveryStatus is the aggregate delivery outcome for an Alert.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Alert records one escalation event. At most one non-resolved Alert exists
// per (RequestID, AlertType, EscalationLevel) — the idempotency invariant
// enforced by a partial unique index in store/migrations.
type Alert struct {
	ID               string
	RequestID        string
	AlertType        AlertType
	MinutesElapsed   int
	EscalationLevel  int
	RecipientIDs     []string
	DeliveryStatus   DeliveryStatus
	NextEscalationAt *time.Time
	ResolvedAction   ResolvedAction
	CreatedAt        time.Time
	// ReferenceCode is a short human-readable id shown in delivered alert
	// messages so a manager can refer to an alert verbally or in a reply,
	// rather than the opaque ID used internally for callback data.
	ReferenceCode string
}

// IsResolved reports whether the Alert has left the active delivery state.
func (a *Alert) IsResolved() bool {
	return a.ResolvedAction != ResolvedActionNone
}

// TimerJobType enumerates the durable job kinds the timer store schedules.
type TimerJobType string

const (
	TimerJobWarning    TimerJobType = "warning"
	TimerJobBreach     TimerJobType = "breach"
	TimerJobEscalation TimerJobType = "escalation"
	TimerJobReconcile  TimerJobType = "reconcile"
)

// TimerJobStatus is the lifecycle state of a durable job row.
type TimerJobStatus string

const (
	TimerJobStatusScheduled TimerJobStatus = "scheduled"
	TimerJobStatusFired     TimerJobStatus = "fired"
	TimerJobStatusCancelled TimerJobStatus = "cancelled"
)

// TimerJobPayload carries the data a fired timer needs to act.
type TimerJobPayload struct {
	RequestID        string `json:"request_id"`
	ChatID           int64  `json:"chat_id"`
	ThresholdMinutes int    `json:"threshold_minutes"`
	Level            int    `json:"level"`
}

// TimerJob is a durable delayed task keyed by a deterministic id for
// idempotency: "sla:{type}:{request_id}:{level}".
type TimerJob struct {
	ID        string
	JobType   TimerJobType
	Payload   TimerJobPayload
	RunAt     time.Time
	Status    TimerJobStatus
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GlobalSettings is the singleton configuration row (id "default").
type GlobalSettings struct {
	ID                          string
	DefaultSLAThresholdMinutes  int
	WarningOffsetMinutes        int
	EscalationIntervalMinutes   int
	MaxEscalationLevel          int
	GlobalManagerIDs            []string
	LowRatingThreshold          int
}

// DefaultGlobalSettings returns the spec-mandated defaults for a freshly
// initialized installation.
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		ID:                         "default",
		DefaultSLAThresholdMinutes: 60,
		WarningOffsetMinutes:       12,
		EscalationIntervalMinutes:  30,
		MaxEscalationLevel:         5,
		GlobalManagerIDs:           nil,
		LowRatingThreshold:         3,
	}
}

// FeedbackResponse is a post-survey rating submission.
type FeedbackResponse struct {
	ID          string
	ChatID      int64
	Rating      int
	Comment     *string
	SubmittedAt time.Time
}

// FAQItem backs the FAQ short-circuit (§4.1 step 3). Supplements spec.md,
// which names the behavior but not the entity.
type FAQItem struct {
	ID         string
	Question   string
	Answer     string
	Keywords   []string
	UsageCount int64
	Active     bool
	CreatedAt  time.Time
}

// ChatMessage records every inbound message regardless of classification
// (spec.md §4.1 step 3: FAQ-handled messages are still recorded).
type ChatMessage struct {
	ID               string
	ChatID           int64
	SenderID         string
	SenderUsername   string
	Text             string
	IsFromAccountant bool
	FAQHandled       bool
	ReceivedAt       time.Time
}

// ChatInvitation validates and tracks invite-link tokens (spec.md §4.8).
type ChatInvitation struct {
	Token     string
	ChatID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}
