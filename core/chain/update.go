package chain

import "strings"

// UpdateKind enumerates the transport update kinds the dispatcher distinguishes.
type UpdateKind int

const (
	UpdateOther UpdateKind = iota
	UpdateMessage
	UpdateEditedMessage
	UpdateChannelPost
	UpdateEditedChannelPost
	UpdateCallbackQuery
	UpdateInlineQuery
	UpdateChosenInlineResult
	UpdateShippingQuery
	UpdatePreCheckoutQuery
	UpdatePoll
	UpdatePollAnswer
	UpdateMyChatMember
	UpdateChatMember
	UpdateChatJoinRequest
)

var updateKindNames = [...]string{
	UpdateOther:              "other",
	UpdateMessage:            "message",
	UpdateEditedMessage:      "edited_message",
	UpdateChannelPost:        "channel_post",
	UpdateEditedChannelPost:  "edited_channel_post",
	UpdateCallbackQuery:      "callback_query",
	UpdateInlineQuery:        "inline_query",
	UpdateChosenInlineResult: "chosen_inline_result",
	UpdateShippingQuery:      "shipping_query",
	UpdatePreCheckoutQuery:   "pre_checkout_query",
	UpdatePoll:               "poll",
	UpdatePollAnswer:         "poll_answer",
	UpdateMyChatMember:       "my_chat_member",
	UpdateChatMember:         "chat_member",
	UpdateChatJoinRequest:    "chat_join_request",
}

func (k UpdateKind) String() string {
	if k < 0 || int(k) >= len(updateKindNames) {
		return "other"
	}
	return updateKindNames[k]
}

// MessageType is the content subtype of a message. Step handlers are keyed by it.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessagePhoto    MessageType = "photo"
	MessageAudio    MessageType = "audio"
	MessageVoice    MessageType = "voice"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageContact  MessageType = "contact"
	MessageLocation MessageType = "location"
	MessageSticker  MessageType = "sticker"
	MessageUnknown  MessageType = "unknown"
)

// User identifies the sender of an update.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LanguageCode string
}

// Message is the subset of an inbound message the dispatcher inspects.
type Message struct {
	ID      int
	ChatID  int64
	From    *User
	Text    string
	Caption string
	Type    MessageType
}

// CallbackQuery is an inline button tap.
type CallbackQuery struct {
	ID        string
	From      *User
	ChatID    int64
	MessageID int
	Data      string
}

// Update is a transport-neutral inbound update. Message is set for message-like
// kinds, Callback for callback queries. From and ChatID carry the actor of other
// kinds when the transport knows it. Raw keeps the original transport value for
// passive event hooks.
type Update struct {
	ID       int
	Kind     UpdateKind
	Message  *Message
	Callback *CallbackQuery
	From     *User
	ChatID   int64
	Raw      any
}

// Sender returns the user who produced the update, or nil.
func (u *Update) Sender() *User {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From
	case u.Callback != nil && u.Callback.From != nil:
		return u.Callback.From
	default:
		return u.From
	}
}

// Chat returns the chat the update belongs to, falling back to the sender id
// for private interactions without a chat.
func (u *Update) Chat() int64 {
	switch {
	case u.Message != nil && u.Message.ChatID != 0:
		return u.Message.ChatID
	case u.Callback != nil && u.Callback.ChatID != 0:
		return u.Callback.ChatID
	case u.ChatID != 0:
		return u.ChatID
	}
	if s := u.Sender(); s != nil {
		return s.ID
	}
	return 0
}

// CommandName extracts "/name" from a command text, dropping a trailing
// "@botname" and any arguments. ok is false for non-command texts.
func CommandName(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, CommandPrefix) || len(text) == len(CommandPrefix) {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")
	if head == CommandPrefix {
		return "", "", false
	}
	return head, strings.TrimSpace(rest), true
}
