// Package feedback ingests post-survey ratings and fans out a low-rating
// alert to chat managers (or global managers) — a parallel, simpler alert
// path that reuses the delivery fabric but never touches a Request
// (spec.md §4.7 "Low-rating path", S7).
package feedback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// Store is the subset of *store.DB the feedback handler needs.
type Store interface {
	CreateFeedbackResponse(ctx context.Context, f *model.FeedbackResponse) error
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error)
}

// Sender is the subset of *delivery.Sender the low-rating path needs — the
// same send-with-retry fabric alert delivery uses, reused without an Alert.
type Sender interface {
	SendToRecipients(ctx context.Context, recipientIDs []string, msg chatapi.OutgoingMessage, logID string) bool
}

// Handler ingests FeedbackResponse submissions.
type Handler struct {
	store  Store
	sender Sender
}

// New constructs a feedback Handler.
func New(store Store, sender Sender) *Handler {
	return &Handler{store: store, sender: sender}
}

// Submit records a rating submission and, if it's at or below the
// configured low_rating_threshold, dispatches a low-rating alert to the
// chat's managers (falling back to global managers if the chat has none).
func (h *Handler) Submit(ctx context.Context, chatID int64, rating int, comment *string) error {
	f := &model.FeedbackResponse{ChatID: chatID, Rating: rating, Comment: comment}
	if err := h.store.CreateFeedbackResponse(ctx, f); err != nil {
		return fmt.Errorf("feedback: record response: %w", err)
	}

	settings, err := h.store.GetGlobalSettings(ctx)
	if err != nil {
		return fmt.Errorf("feedback: load settings: %w", err)
	}
	if rating > settings.LowRatingThreshold {
		return nil
	}

	chat, err := h.store.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("feedback: load chat: %w", err)
	}

	recipients := lowRatingRecipients(chat, settings.GlobalManagerIDs)
	if len(recipients) == 0 {
		slog.Warn("feedback: low rating with no recipients to notify, skipping dispatch", "chat_id", chatID, "rating", rating)
		return nil
	}

	msg := formatLowRatingMessage(chat, f)
	h.sender.SendToRecipients(ctx, recipients, msg, f.ID)
	return nil
}

// lowRatingRecipients is the chat's managers, falling back to global
// managers only if the chat has none configured. spec.md §4.7's prose says
// "recipients = chat managers ∪ global managers" (a union), but its own S7
// scenario spells out "chat X's managers (or global managers if empty)" — a
// fallback, not a union, and the only reading consistent with how every
// other recipient-tiering rule in this spec falls back to global managers
// rather than always including them. S7's worked example is taken as
// authoritative over the ambiguous prose.
func lowRatingRecipients(chat *model.Chat, globalManagerIDs []string) []string {
	if chat == nil || len(chat.ManagerIDs) == 0 {
		return globalManagerIDs
	}
	return chat.ManagerIDs
}
