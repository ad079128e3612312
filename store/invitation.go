package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// inviteTokenPattern is spec.md §4.8's token validation rule: alphanumeric
// plus "_-", length 8..64.
var inviteTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidateInviteToken reports whether token meets spec.md §4.8's shape rule.
func ValidateInviteToken(token string) bool {
	return inviteTokenPattern.MatchString(token)
}

// CreateInvitation persists a new invite token for a chat.
func (d *DB) CreateInvitation(ctx context.Context, inv *model.ChatInvitation) error {
	if !ValidateInviteToken(inv.Token) {
		return fmt.Errorf("create invitation: invalid token shape")
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	_, err := d.exec(ctx,
		`INSERT INTO chat_invitations (token, chat_id, created_at, expires_at, used_at) VALUES (?, ?, ?, ?, ?)`,
		inv.Token, inv.ChatID, inv.CreatedAt, inv.ExpiresAt, inv.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

// GetInvitation loads an invitation by token. Returns nil, nil if not found.
func (d *DB) GetInvitation(ctx context.Context, token string) (*model.ChatInvitation, error) {
	row := d.queryRow(ctx,
		`SELECT token, chat_id, created_at, expires_at, used_at FROM chat_invitations WHERE token = ?`, token)

	var inv model.ChatInvitation
	err := row.Scan(&inv.Token, &inv.ChatID, &inv.CreatedAt, &inv.ExpiresAt, &inv.UsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return &inv, nil
}

// ConsumeInvitation marks a not-yet-used, not-expired invitation as used,
// returning false if it was invalid, already consumed, or expired.
func (d *DB) ConsumeInvitation(ctx context.Context, token string) (bool, error) {
	now := time.Now().UTC()
	res, err := d.exec(ctx,
		`UPDATE chat_invitations SET used_at = ? WHERE token = ? AND used_at IS NULL AND expires_at > ?`,
		now, token, now)
	if err != nil {
		return false, fmt.Errorf("consume invitation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
