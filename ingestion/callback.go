package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/delivery"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// CallbackStore is the subset of *store.DB the callback handler needs.
type CallbackStore interface {
	GetAlert(ctx context.Context, alertID string) (*model.Alert, error)
	GetRequest(ctx context.Context, requestID string) (*model.Request, error)
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	ResolveAlert(ctx context.Context, alertID string, action model.ResolvedAction) error
}

// CallbackNotifier re-delivers an alert on demand (the manager "notify
// accountant" action).
type CallbackNotifier interface {
	Deliver(ctx context.Context, chat *model.Chat, req *model.Request, alert *model.Alert) error
}

// CallbackHandler routes the notify_/resolve_ inline-keyboard actions
// (spec.md §6's bit-exact callback grammar). Other prefixes (survey rating,
// view feedback, template selection) belong to collaborators outside this
// core (spec.md §1 Non-goals) and are left unhandled here.
type CallbackHandler struct {
	store    CallbackStore
	notifier CallbackNotifier
}

// NewCallbackHandler constructs a CallbackHandler.
func NewCallbackHandler(store CallbackStore, notifier CallbackNotifier) *CallbackHandler {
	return &CallbackHandler{store: store, notifier: notifier}
}

// HandleCallbackQuery dispatches a chatapi.EventTypeCallbackQuery event.
func (h *CallbackHandler) HandleCallbackQuery(ctx context.Context, ev *chatapi.InboundEvent) error {
	if alertID, ok := delivery.ParseResolveCallback(ev.CallbackData); ok {
		return h.resolve(ctx, alertID)
	}
	if alertID, ok := delivery.ParseNotifyCallback(ev.CallbackData); ok {
		return h.renotify(ctx, alertID)
	}
	return nil
}

func (h *CallbackHandler) resolve(ctx context.Context, alertID string) error {
	if err := h.store.ResolveAlert(ctx, alertID, model.ResolvedActionMarkResolved); err != nil {
		return fmt.Errorf("ingestion: resolve alert %s: %w", alertID, err)
	}
	slog.Info("ingestion: alert resolved via callback", "alert_id", alertID)
	return nil
}

func (h *CallbackHandler) renotify(ctx context.Context, alertID string) error {
	alert, err := h.store.GetAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("ingestion: load alert %s: %w", alertID, err)
	}
	if alert == nil || alert.IsResolved() {
		slog.Info("ingestion: notify callback for resolved/missing alert, skipping", "alert_id", alertID)
		return nil
	}

	req, err := h.store.GetRequest(ctx, alert.RequestID)
	if err != nil {
		return fmt.Errorf("ingestion: load request for alert %s: %w", alertID, err)
	}
	if req == nil {
		return nil
	}
	chat, err := h.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return fmt.Errorf("ingestion: load chat for alert %s: %w", alertID, err)
	}

	if err := h.notifier.Deliver(ctx, chat, req, alert); err != nil {
		return fmt.Errorf("ingestion: re-deliver alert %s: %w", alertID, err)
	}
	slog.Info("ingestion: alert re-delivered via notify callback", "alert_id", alertID)
	return nil
}
