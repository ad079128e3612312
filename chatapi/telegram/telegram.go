// Package telegram implements chatapi.Channel for the Telegram Bot API. It
// is a trimmed/adapted descendant of
// plugin/chat_apps/channels/telegram/telegram.go: send/parse only — this
// domain never downloads media.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
)

// Channel implements chatapi.Channel for the Telegram Bot API.
type Channel struct {
	bot *tgbotapi.BotAPI
}

// New creates a Telegram channel bound to botToken.
func New(botToken string) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{bot: bot}, nil
}

// SendMessage sends a text message with an optional inline keyboard,
// laying out KeyboardButtons two per row per spec.md §6's UX guidance.
func (c *Channel) SendMessage(ctx context.Context, recipientID string, msg chatapi.OutgoingMessage) error {
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid recipient id: %w", err)
	}

	tgMsg := tgbotapi.NewMessage(chatID, msg.Text)
	if msg.ParseMode != "" {
		tgMsg.ParseMode = msg.ParseMode
	}
	if len(msg.Buttons) > 0 {
		tgMsg.ReplyMarkup = buildKeyboard(msg.Buttons)
	}

	_, err = c.bot.Send(tgMsg)
	if err != nil {
		slog.Error("telegram: send message failed", "chat_id", recipientID, "error", err)
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// EditMessageText edits a previously sent message's text (used by the
// delivery package to update an alert's status inline, e.g. after
// resolution).
func (c *Channel) EditMessageText(ctx context.Context, recipientID string, messageID string, text string) error {
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid recipient id: %w", err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}

	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	if _, err := c.bot.Send(edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// AnswerCallbackQuery acknowledges an inline-keyboard tap so the client
// stops showing its loading spinner.
func (c *Channel) AnswerCallbackQuery(ctx context.Context, callbackID string, text string) error {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := c.bot.Request(callback); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

// ExportChatInviteLink requests a fresh invite link for a chat (spec.md
// §4.8, used to compose the chat-link button on alert delivery).
func (c *Channel) ExportChatInviteLink(ctx context.Context, chatID string) (string, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat id: %w", err)
	}

	cfg := tgbotapi.ChatInviteLinkConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}}
	link, err := c.bot.GetInviteLink(cfg)
	if err != nil {
		return "", fmt.Errorf("export invite link: %w", err)
	}
	return link, nil
}

// ParseUpdate normalizes a raw Telegram webhook payload into a
// chatapi.InboundEvent (spec.md §6's normalized inbound event shape).
func (c *Channel) ParseUpdate(payload []byte) (*chatapi.InboundEvent, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, fmt.Errorf("parse telegram update: %w", err)
	}
	return normalizeUpdate(&update)
}

func normalizeUpdate(update *tgbotapi.Update) (*chatapi.InboundEvent, error) {
	switch {
	case update.CallbackQuery != nil:
		return parseCallbackQuery(update), nil
	case update.Message != nil && isMembershipUpdate(update.Message):
		return parseMembershipUpdate(update.Message), nil
	case update.Message != nil:
		return parseMessage(update.Message, chatapi.EventTypeMessage), nil
	case update.EditedMessage != nil:
		return parseMessage(update.EditedMessage, chatapi.EventTypeEditedMessage), nil
	default:
		return nil, fmt.Errorf("parse telegram update: unsupported update shape")
	}
}

// Listen long-polls getUpdates and invokes handler for every update this
// bot can normalize, until ctx is cancelled. Unsupported update shapes
// (e.g. inline queries) are skipped rather than treated as a fatal error —
// only ParseUpdate's webhook-payload caller needs that strictness.
func (c *Channel) Listen(ctx context.Context, handler func(ctx context.Context, ev *chatapi.InboundEvent) error) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return ctx.Err()
		case update := <-updates:
			ev, err := normalizeUpdate(&update)
			if err != nil {
				continue
			}
			if err := handler(ctx, ev); err != nil {
				slog.Error("telegram: update handler failed", "error", err)
			}
		}
	}
}

func isMembershipUpdate(m *tgbotapi.Message) bool {
	return m.NewChatMembers != nil || m.LeftChatMember != nil || m.MigrateToChatID != 0 || m.MigrateFromChatID != 0
}

func parseMembershipUpdate(m *tgbotapi.Message) *chatapi.InboundEvent {
	mu := &chatapi.MemberUpdate{}
	for _, nm := range m.NewChatMembers {
		if nm.IsBot {
			mu.BotAdded = true
		}
	}
	if m.LeftChatMember != nil && m.LeftChatMember.IsBot {
		mu.BotRemoved = true
	}
	if m.MigrateToChatID != 0 {
		id := m.MigrateToChatID
		mu.MigratedToID = &id
	}

	return &chatapi.InboundEvent{
		EventType: chatapi.EventTypeMemberUpdate,
		Chat:      chatInfoOf(m.Chat),
		MessageID: int64(m.MessageID),
		Date:      time.Unix(int64(m.Date), 0).UTC(),
		Member:    mu,
	}
}

func parseMessage(m *tgbotapi.Message, eventType chatapi.EventType) *chatapi.InboundEvent {
	ev := &chatapi.InboundEvent{
		EventType: eventType,
		Chat:      chatInfoOf(m.Chat),
		MessageID: int64(m.MessageID),
		Text:      m.Text,
		Date:      time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.From != nil {
		ev.From = chatapi.FromInfo{
			ID:        m.From.ID,
			Username:  m.From.UserName,
			IsBot:     m.From.IsBot,
			FirstName: m.From.FirstName,
		}
	}
	if m.ReplyToMessage != nil {
		id := int64(m.ReplyToMessage.MessageID)
		ev.ReplyToMessageID = &id
	}
	return ev
}

func parseCallbackQuery(update *tgbotapi.Update) *chatapi.InboundEvent {
	cb := update.CallbackQuery
	ev := &chatapi.InboundEvent{
		EventType:    chatapi.EventTypeCallbackQuery,
		CallbackID:   cb.ID,
		CallbackData: cb.Data,
	}
	if cb.From != nil {
		ev.From = chatapi.FromInfo{ID: cb.From.ID, Username: cb.From.UserName, IsBot: cb.From.IsBot, FirstName: cb.From.FirstName}
	}
	if cb.Message != nil {
		ev.Chat = chatInfoOf(cb.Message.Chat)
		ev.MessageID = int64(cb.Message.MessageID)
	}
	return ev
}

func chatInfoOf(ch *tgbotapi.Chat) chatapi.ChatInfo {
	if ch == nil {
		return chatapi.ChatInfo{}
	}
	return chatapi.ChatInfo{ID: ch.ID, Type: ch.Type, Title: ch.Title}
}

func buildKeyboard(buttons []chatapi.KeyboardButton) tgbotapi.InlineKeyboardMarkup {
	const perRow = 2
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, b := range buttons {
		var btn tgbotapi.InlineKeyboardButton
		if b.URL != "" {
			btn = tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL)
		} else {
			btn = tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data)
		}
		row = append(row, btn)
		if len(row) == perRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

var _ chatapi.Channel = (*Channel)(nil)
