// Package chatapi defines the normalized chat-platform boundary the SLA
// core talks to: an inbound event shape, an outbound message shape, and
// the Channel interface an adapter must satisfy (spec.md §6). The core
// never imports a platform SDK directly.
package chatapi

import "time"

// EventType enumerates the inbound update kinds the core handles.
type EventType string

const (
	EventTypeMessage        EventType = "message"
	EventTypeEditedMessage  EventType = "edited_message"
	EventTypeCallbackQuery  EventType = "callback_query"
	EventTypeMemberUpdate   EventType = "member_update"
)

// ChatInfo is the normalized chat envelope on an inbound event.
type ChatInfo struct {
	ID    int64
	Type  string
	Title string
}

// FromInfo is the normalized sender envelope on an inbound event.
type FromInfo struct {
	ID        int64
	Username  string
	IsBot     bool
	FirstName string
}

// MemberUpdate describes a membership change (bot added/removed, chat
// migrated to a supergroup) — spec.md §3, §4.1 step 1.
type MemberUpdate struct {
	BotAdded      bool
	BotRemoved    bool
	MigratedToID  *int64 // new chat id, set when chat_type flips group->supergroup
}

// InboundEvent is the normalized shape ParseUpdate produces from a
// platform-specific payload (spec.md §6).
type InboundEvent struct {
	EventType         EventType
	Chat              ChatInfo
	From              FromInfo
	MessageID         int64
	Text              string
	Date              time.Time
	ReplyToMessageID  *int64
	CallbackID        string
	CallbackData      string
	Member            *MemberUpdate
}

// OutgoingMessage is what a Channel sends out (spec.md §6 "Outbound
// actions"). Keyboard rows are flattened button label/data pairs; the
// adapter lays them out as it sees fit (one row of up to 2 per spec's UX,
// left to the adapter since it's presentation, not protocol).
type OutgoingMessage struct {
	Text      string
	ParseMode string
	Buttons   []KeyboardButton
}

// KeyboardButton is one inline-keyboard button. Data carries the callback
// data grammar from spec.md §6 and is mutually exclusive with URL, which
// makes the button open a link instead of firing a callback query (spec.md
// §4.7's chat-link button).
type KeyboardButton struct {
	Label string
	Data  string
	URL   string
}
