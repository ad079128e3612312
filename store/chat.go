package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// UpsertChat creates or updates a Chat row, matching spec.md §3's "upsert +
// bulk repoint" migration behavior and ordinary membership-update handling.
func (d *DB) UpsertChat(ctx context.Context, c *model.Chat) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO chats
		(id, title, chat_type, sla_enabled, sla_threshold_minutes, monitoring_enabled,
		 is_24x7, manager_ids, accountant_ids, notify_in_chat_on_breach, client_tier,
		 invite_url, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			chat_type = excluded.chat_type,
			sla_enabled = excluded.sla_enabled,
			sla_threshold_minutes = excluded.sla_threshold_minutes,
			monitoring_enabled = excluded.monitoring_enabled,
			is_24x7 = excluded.is_24x7,
			manager_ids = excluded.manager_ids,
			accountant_ids = excluded.accountant_ids,
			notify_in_chat_on_breach = excluded.notify_in_chat_on_breach,
			client_tier = excluded.client_tier,
			invite_url = excluded.invite_url,
			updated_at = excluded.updated_at
	`
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := d.exec(ctx, query,
		c.ID, c.Title, string(c.ChatType), c.SLAEnabled, c.SLAThresholdMinutes, c.MonitoringEnabled,
		c.Is24x7, encodeStrings(c.ManagerIDs), encodeStrings(c.AccountantIDs), c.NotifyInChatOnBreach,
		string(c.ClientTier), c.InviteURL, c.DeletedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		slog.Error("failed to upsert chat", "chat_id", c.ID, "error", err)
		return fmt.Errorf("upsert chat: %w", err)
	}

	slog.Info("chat upserted", "chat_id", c.ID)
	return nil
}

func scanChat(row interface{ Scan(...interface{}) error }) (*model.Chat, error) {
	var c model.Chat
	var chatType, clientTier, managerIDs, accountantIDs string
	err := row.Scan(
		&c.ID, &c.Title, &chatType, &c.SLAEnabled, &c.SLAThresholdMinutes, &c.MonitoringEnabled,
		&c.Is24x7, &managerIDs, &accountantIDs, &c.NotifyInChatOnBreach, &clientTier,
		&c.InviteURL, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ChatType = model.ChatType(chatType)
	c.ClientTier = model.ClientTier(clientTier)
	c.ManagerIDs = decodeStrings(managerIDs)
	c.AccountantIDs = decodeStrings(accountantIDs)
	return &c, nil
}

const chatColumns = `id, title, chat_type, sla_enabled, sla_threshold_minutes, monitoring_enabled,
	is_24x7, manager_ids, accountant_ids, notify_in_chat_on_breach, client_tier,
	invite_url, deleted_at, created_at, updated_at`

// GetChat loads a Chat by its external id. Returns nil, nil if not found.
func (d *DB) GetChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	row := d.queryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, chatID)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

// DisableMonitoring sets monitoring_enabled and sla_enabled to false when
// the bot is removed from a chat (spec.md §3 invariant). The row is never
// deleted.
func (d *DB) DisableMonitoring(ctx context.Context, chatID int64) error {
	_, err := d.exec(ctx, `UPDATE chats SET monitoring_enabled = false, sla_enabled = false, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("disable monitoring: %w", err)
	}
	slog.Info("chat monitoring disabled", "chat_id", chatID)
	return nil
}

// MigrateChatToSupergroup implements spec.md §3's group→supergroup upsert +
// bulk-repoint behavior (§9: "the correct behavior is upsert plus bulk
// repoint of child rows"). oldChatID is retained with a [MIGRATED] title
// prefix and monitoring disabled; newChatID inherits the old chat's
// settings and all child rows (requests, messages, invitations) are
// repointed atomically.
func (d *DB) MigrateChatToSupergroup(ctx context.Context, oldChatID, newChatID int64) error {
	err := d.WithTx(ctx, func(txDB *DB) error {
		old, err := txDB.GetChat(ctx, oldChatID)
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("migrate chat: old chat %d not found", oldChatID)
		}

		now := time.Now().UTC()
		newChat := *old
		newChat.ID = newChatID
		newChat.ChatType = model.ChatTypeSupergroup
		newChat.CreatedAt = now
		newChat.UpdatedAt = now
		if err := txDB.UpsertChat(ctx, &newChat); err != nil {
			return err
		}

		for _, stmt := range []string{
			`UPDATE client_requests SET chat_id = ? WHERE chat_id = ?`,
			`UPDATE chat_messages SET chat_id = ? WHERE chat_id = ?`,
			`UPDATE chat_invitations SET chat_id = ? WHERE chat_id = ?`,
			`UPDATE feedback_responses SET chat_id = ? WHERE chat_id = ?`,
		} {
			if _, err := txDB.exec(ctx, stmt, newChatID, oldChatID); err != nil {
				return fmt.Errorf("repoint child rows: %w", err)
			}
		}

		migratedTitle := "[MIGRATED] " + old.Title
		if _, err := txDB.exec(ctx,
			`UPDATE chats SET title = ?, monitoring_enabled = false, sla_enabled = false, updated_at = ? WHERE id = ?`,
			migratedTitle, now, oldChatID); err != nil {
			return fmt.Errorf("mark old chat migrated: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("chat migrated to supergroup", "old_chat_id", oldChatID, "new_chat_id", newChatID)
	return nil
}
