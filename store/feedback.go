package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// CreateFeedbackResponse records a post-survey rating submission (spec.md
// §4.7 "Low-rating path").
func (d *DB) CreateFeedbackResponse(ctx context.Context, f *model.FeedbackResponse) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.SubmittedAt.IsZero() {
		f.SubmittedAt = time.Now().UTC()
	}

	_, err := d.exec(ctx,
		`INSERT INTO feedback_responses (id, chat_id, rating, comment, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.ChatID, f.Rating, f.Comment, f.SubmittedAt,
	)
	if err != nil {
		slog.Error("failed to record feedback", "chat_id", f.ChatID, "error", err)
		return fmt.Errorf("create feedback response: %w", err)
	}
	slog.Info("feedback recorded", "feedback_id", f.ID, "chat_id", f.ChatID, "rating", f.Rating)
	return nil
}
