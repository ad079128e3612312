package delivery

import (
	"fmt"
	"html"
	"strings"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

// previewMaxRunes is spec.md §4.7's "truncated to 200 characters preview".
const previewMaxRunes = 200

// FormatAlertMessage composes the HTML-escaped, truncated alert message and
// its inline keyboard (mark-resolved / notify-accountant / chat-link) per
// spec.md §4.7.
func FormatAlertMessage(chat *model.Chat, req *model.Request, alert *model.Alert) chatapi.OutgoingMessage {
	preview := html.EscapeString(truncateRunes(req.MessageText, previewMaxRunes))

	var body strings.Builder
	fmt.Fprintf(&body, "<b>SLA %s</b> #%s, уровень %d\n", alertLabel(alert.AlertType), alert.ReferenceCode, alert.EscalationLevel)
	fmt.Fprintf(&body, "Чат: %s\n", html.EscapeString(chat.Title))
	fmt.Fprintf(&body, "Клиент: %s\n", html.EscapeString(req.ClientUsername))
	fmt.Fprintf(&body, "Прошло минут: %d\n\n", alert.MinutesElapsed)
	body.WriteString(preview)

	buttons := []chatapi.KeyboardButton{
		{Label: "Напомнить бухгалтеру", Data: NotifyCallbackData(alert.ID)},
		{Label: "Решено", Data: ResolveCallbackData(alert.ID)},
	}
	if link := chatLink(chat); link != "" {
		buttons = append(buttons, chatapi.KeyboardButton{Label: "Перейти в чат", URL: link})
	}

	return chatapi.OutgoingMessage{
		Text:      body.String(),
		ParseMode: "HTML",
		Buttons:   buttons,
	}
}

func alertLabel(t model.AlertType) string {
	if t == model.AlertTypeWarning {
		return "предупреждение"
	}
	return "просрочено"
}

// chatLink picks invite URL if present; otherwise a supergroup deep-link;
// otherwise omits the button entirely (spec.md §4.7).
func chatLink(chat *model.Chat) string {
	if chat.InviteURL != "" {
		return chat.InviteURL
	}
	if chat.ChatType == model.ChatTypeSupergroup {
		return fmt.Sprintf("https://t.me/c/%d", -chat.ID-1000000000000)
	}
	return ""
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
