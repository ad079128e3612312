package chatapi

import "context"

// Channel is the capability set the core needs from a chat platform
// (spec.md §9's "bounded capability set": sendMessage, editMessageText,
// exportInviteLink for the adapter), grounded on
// plugin/chat_apps/channels.ChatChannel and narrowed to what this domain
// actually uses — no media download, no chunked streaming.
type Channel interface {
	SendMessage(ctx context.Context, recipientID string, msg OutgoingMessage) error
	EditMessageText(ctx context.Context, recipientID string, messageID string, text string) error
	AnswerCallbackQuery(ctx context.Context, callbackID string, text string) error
	ExportChatInviteLink(ctx context.Context, chatID string) (string, error)
	ParseUpdate(payload []byte) (*InboundEvent, error)
}
