package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// handleAccountantReply implements spec.md §4.6: an accountant message is a
// response, not a new request. It resolves the oldest open Request for the
// chat (preferring an exact reply-target match when the event carries one),
// marks it answered, resolves every open Alert, and cancels all outstanding
// timers. A chat with no open Request is just recorded as a plain message.
func (p *Pipeline) handleAccountantReply(ctx context.Context, chat *model.Chat, ev *chatapi.InboundEvent, text string) error {
	req, err := p.findOpenRequestForReply(ctx, chat.ID, ev)
	if err != nil {
		return fmt.Errorf("ingestion: find open request for reply: %w", err)
	}

	msg := &model.ChatMessage{
		ChatID:           ev.Chat.ID,
		SenderID:         strconv.FormatInt(ev.From.ID, 10),
		SenderUsername:   ev.From.Username,
		Text:             text,
		IsFromAccountant: true,
		FAQHandled:       false,
		ReceivedAt:       eventTime(ev),
	}
	if err := p.store.CreateChatMessage(ctx, msg); err != nil {
		return fmt.Errorf("ingestion: record accountant message: %w", err)
	}

	if req == nil {
		slog.Info("ingestion: accountant message with no open request, recorded only", "chat_id", chat.ID)
		return nil
	}

	responseTime := int(eventTime(ev).Sub(req.ReceivedAt).Minutes())
	messageID := ev.MessageID
	if err := p.store.AnswerRequestTx(ctx, req.ID, &messageID, responseTime); err != nil {
		return fmt.Errorf("ingestion: mark request answered: %w", err)
	}

	settings, err := p.store.GetGlobalSettings(ctx)
	if err != nil {
		return fmt.Errorf("ingestion: load settings for timer cancellation: %w", err)
	}
	if err := p.escalation.CancelAllTimers(ctx, req, settings.MaxEscalationLevel); err != nil {
		return fmt.Errorf("ingestion: cancel timers on reply: %w", err)
	}

	slog.Info("ingestion: request answered by accountant", "request_id", req.ID, "chat_id", chat.ID, "response_time_minutes", responseTime)
	return nil
}

func (p *Pipeline) findOpenRequestForReply(ctx context.Context, chatID int64, ev *chatapi.InboundEvent) (*model.Request, error) {
	if ev.ReplyToMessageID != nil {
		req, err := p.store.FindOpenRequestByReplyTarget(ctx, chatID, *ev.ReplyToMessageID)
		if err != nil {
			return nil, err
		}
		if req != nil {
			return req, nil
		}
	}
	return p.store.FindOldestOpenRequest(ctx, chatID)
}
