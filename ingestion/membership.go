package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// MembershipStore is the subset of *store.DB the membership handler needs
// beyond Store.
type MembershipStore interface {
	UpsertChat(ctx context.Context, c *model.Chat) error
	DisableMonitoring(ctx context.Context, chatID int64) error
	MigrateChatToSupergroup(ctx context.Context, oldChatID, newChatID int64) error
}

// HandleMembershipUpdate processes a chatapi.EventTypeMemberUpdate event
// (spec.md §3, §4.1 step 1). Membership changes are always processed
// regardless of chat type, unlike ordinary messages.
func (p *Pipeline) HandleMembershipUpdate(ctx context.Context, ev *chatapi.InboundEvent) error {
	if ev.Member == nil {
		return nil
	}

	switch {
	case ev.Member.MigratedToID != nil:
		newID := *ev.Member.MigratedToID
		if err := p.membership.MigrateChatToSupergroup(ctx, ev.Chat.ID, newID); err != nil {
			return fmt.Errorf("ingestion: migrate chat to supergroup: %w", err)
		}
		slog.Info("ingestion: chat migrated to supergroup", "old_chat_id", ev.Chat.ID, "new_chat_id", newID)
		return nil

	case ev.Member.BotAdded:
		chat := &model.Chat{
			ID:                ev.Chat.ID,
			Title:             sanitizeTitle(ev.Chat.Title),
			ChatType:          model.ChatType(ev.Chat.Type),
			SLAEnabled:        true,
			MonitoringEnabled: true,
		}
		if err := p.membership.UpsertChat(ctx, chat); err != nil {
			return fmt.Errorf("ingestion: register chat on bot add: %w", err)
		}
		slog.Info("ingestion: bot added to chat, monitoring enabled", "chat_id", ev.Chat.ID)
		return nil

	case ev.Member.BotRemoved:
		if err := p.membership.DisableMonitoring(ctx, ev.Chat.ID); err != nil {
			return fmt.Errorf("ingestion: disable monitoring on bot remove: %w", err)
		}
		slog.Info("ingestion: bot removed from chat, monitoring disabled", "chat_id", ev.Chat.ID)
		return nil
	}

	return nil
}
