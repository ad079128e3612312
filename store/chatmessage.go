package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// CreateChatMessage records an inbound message regardless of how the
// classifier routed it (spec.md §4.1 step 3: FAQ-handled and non-request
// messages are still recorded).
func (d *DB) CreateChatMessage(ctx context.Context, m *model.ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}

	_, err := d.exec(ctx,
		`INSERT INTO chat_messages (id, chat_id, sender_id, sender_username, text, is_from_accountant, faq_handled, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.SenderID, m.SenderUsername, m.Text, m.IsFromAccountant, m.FAQHandled, m.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("create chat message: %w", err)
	}
	return nil
}
