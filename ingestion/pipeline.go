// Package ingestion wires an inbound chatapi.InboundEvent through the SLA
// pipeline: sanitize, FAQ short-circuit, role check, classify, persist, and
// schedule timers (spec.md §4.1).
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/classify"
	"github.com/maslennikov-ig/buhbot-sla/escalation"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// Store is the subset of *store.DB the pipeline needs beyond FAQStore.
type Store interface {
	FAQStore
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	CreateChatMessage(ctx context.Context, m *model.ChatMessage) error
	CreateRequest(ctx context.Context, r *model.Request) error
	FindOldestOpenRequest(ctx context.Context, chatID int64) (*model.Request, error)
	FindOpenRequestByReplyTarget(ctx context.Context, chatID int64, repliedToMessageID int64) (*model.Request, error)
	AnswerRequestTx(ctx context.Context, requestID string, responseMessageID *int64, responseTimeMinutes int) error
	GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error)
}

// Escalator is the subset of *escalation.Engine the pipeline needs.
type Escalator interface {
	ScheduleForNewRequest(ctx context.Context, req *model.Request, chat *model.Chat) error
	CancelAllTimers(ctx context.Context, req *model.Request, maxLevel int) error
}

var _ Escalator = (*escalation.Engine)(nil)

// Metrics is the subset of metrics.Collector the pipeline needs (spec.md
// §4.9: "requests ingested by classification" and "FAQ short-circuit hits").
type Metrics interface {
	RecordIngested(classification string)
	RecordFAQHit()
}

// supportedChatTypes are the chat kinds a Request can originate in (spec.md
// §4.1 step 1). Membership-change events are always processed regardless of
// chat type — cmd/buhbot-sla dispatches them to HandleMembershipUpdate
// (membership.go) instead of HandleMessage, so this filter never sees them.
var supportedChatTypes = map[string]bool{
	string(model.ChatTypeGroup):      true,
	string(model.ChatTypeSupergroup): true,
}

// Pipeline runs the inbound-message side of the SLA engine.
type Pipeline struct {
	store      Store
	membership MembershipStore
	classifier *classify.Classifier
	faq        *FAQMatcher
	escalation Escalator
	metrics    Metrics
}

// New constructs a Pipeline.
func New(store Store, membership MembershipStore, classifier *classify.Classifier, faq *FAQMatcher, esc Escalator) *Pipeline {
	return &Pipeline{store: store, membership: membership, classifier: classifier, faq: faq, escalation: esc}
}

// SetMetrics attaches an optional metrics collector.
func (p *Pipeline) SetMetrics(m Metrics) {
	p.metrics = m
}

// HandleMessage runs the 7-step ingestion pipeline for a normal (non-member-
// update, non-callback) inbound message (spec.md §4.1).
func (p *Pipeline) HandleMessage(ctx context.Context, ev *chatapi.InboundEvent) error {
	if !supportedChatTypes[ev.Chat.Type] {
		slog.Info("ingestion: ignoring message from unsupported chat type", "chat_id", ev.Chat.ID, "chat_type", ev.Chat.Type)
		return nil
	}

	text := sanitizeText(ev.Text)
	if isOversizedMessage(text) {
		slog.Warn("ingestion: rejecting oversized message", "chat_id", ev.Chat.ID, "rune_count", len([]rune(text)))
		return nil
	}

	chat, err := p.store.GetChat(ctx, ev.Chat.ID)
	if err != nil {
		return fmt.Errorf("ingestion: load chat: %w", err)
	}
	if chat == nil || !chat.MonitoringEnabled {
		slog.Info("ingestion: chat not monitored, skipping", "chat_id", ev.Chat.ID)
		return nil
	}

	senderID := strconv.FormatInt(ev.From.ID, 10)
	if isAccountant(chat, senderID) {
		return p.handleAccountantReply(ctx, chat, ev, text)
	}

	faqHit := p.faq.Match(ctx, text)
	if faqHit != nil {
		p.faq.RecordUsage(ctx, faqHit)
	}

	msg := &model.ChatMessage{
		ChatID:           ev.Chat.ID,
		SenderID:         senderID,
		SenderUsername:   ev.From.Username,
		Text:             text,
		IsFromAccountant: false,
		FAQHandled:       faqHit != nil,
		ReceivedAt:       eventTime(ev),
	}
	if err := p.store.CreateChatMessage(ctx, msg); err != nil {
		return fmt.Errorf("ingestion: record chat message: %w", err)
	}
	if faqHit != nil {
		slog.Info("ingestion: faq short-circuit matched", "chat_id", ev.Chat.ID, "faq_id", faqHit.ID)
		if p.metrics != nil {
			p.metrics.RecordFAQHit()
		}
		return nil
	}

	class, confidence := p.classifier.Classify(ctx, text)
	slog.Info("ingestion: message classified", "chat_id", ev.Chat.ID, "classification", class, "confidence", confidence)
	if p.metrics != nil {
		p.metrics.RecordIngested(string(class))
	}

	if class != model.ClassificationRequest {
		// SPAM/GRATITUDE/CLARIFICATION open no Request and carry no SLA
		// obligation: the message is kept only as the ChatMessage recorded
		// above. A CLARIFICATION is not linked to any prior Request.
		return nil
	}

	if !chat.SLAEnabled {
		slog.Info("ingestion: sla disabled for chat, request not tracked", "chat_id", ev.Chat.ID)
		return nil
	}

	req := &model.Request{
		ID:             uuid.NewString(),
		ChatID:         ev.Chat.ID,
		ClientUsername: ev.From.Username,
		MessageText:    text,
		ThreadID:       threadID(ev),
		Classification: class,
		ReceivedAt:     eventTime(ev),
		Status:         model.RequestStatusPending,
		SLABreached:    false,
	}
	if err := p.store.CreateRequest(ctx, req); err != nil {
		return fmt.Errorf("ingestion: persist request: %w", err)
	}

	// Timer scheduling happens after the commit above; a crash between the
	// two is recovered by reconciliation (spec.md §4.1 "Failure semantics",
	// §4.5).
	if err := p.escalation.ScheduleForNewRequest(ctx, req, chat); err != nil {
		return fmt.Errorf("ingestion: schedule timers: %w", err)
	}
	return nil
}

func isAccountant(chat *model.Chat, senderID string) bool {
	for _, id := range chat.AccountantIDs {
		if id == senderID {
			return true
		}
	}
	return false
}

func eventTime(ev *chatapi.InboundEvent) time.Time {
	if ev.Date.IsZero() {
		return time.Now().UTC()
	}
	return ev.Date
}

func threadID(ev *chatapi.InboundEvent) *string {
	if ev.ReplyToMessageID == nil {
		return nil
	}
	s := strconv.FormatInt(*ev.ReplyToMessageID, 10)
	return &s
}
