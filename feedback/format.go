package feedback

import (
	"fmt"
	"html"
	"strings"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// formatLowRatingMessage composes the low-rating notification: a different
// template from the SLA alert message (spec.md §4.7 "Low-rating path"), but
// the same HTML-escaping discipline.
func formatLowRatingMessage(chat *model.Chat, f *model.FeedbackResponse) chatapi.OutgoingMessage {
	var body strings.Builder
	fmt.Fprintf(&body, "<b>Низкая оценка клиента</b>: %d/5\n", f.Rating)
	if chat != nil {
		fmt.Fprintf(&body, "Чат: %s\n", html.EscapeString(chat.Title))
	}
	if f.Comment != nil && *f.Comment != "" {
		fmt.Fprintf(&body, "Комментарий: %s", html.EscapeString(*f.Comment))
	}

	return chatapi.OutgoingMessage{
		Text:      body.String(),
		ParseMode: "HTML",
		Buttons: []chatapi.KeyboardButton{
			{Label: "Подробнее", Data: "view_feedback_" + f.ID},
		},
	}
}
