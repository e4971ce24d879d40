package telegram

import (
	"github.com/m3rciful/chainbot/core/chain"

	tele "gopkg.in/telebot.v4"
)

// ConvertUpdate maps a Telegram update onto the transport-neutral update the
// dispatcher routes. The original value stays available as Raw.
func ConvertUpdate(u *tele.Update) *chain.Update {
	out := &chain.Update{ID: u.ID, Raw: u}
	switch {
	case u.Message != nil:
		out.Kind = chain.UpdateMessage
		out.Message = convertMessage(u.Message)
	case u.Callback != nil:
		out.Kind = chain.UpdateCallbackQuery
		out.Callback = convertCallback(u.Callback)
	case u.EditedMessage != nil:
		out.Kind = chain.UpdateEditedMessage
		out.Message = convertMessage(u.EditedMessage)
	case u.ChannelPost != nil:
		out.Kind = chain.UpdateChannelPost
		out.Message = convertMessage(u.ChannelPost)
	case u.EditedChannelPost != nil:
		out.Kind = chain.UpdateEditedChannelPost
		out.Message = convertMessage(u.EditedChannelPost)
	case u.Query != nil:
		out.Kind = chain.UpdateInlineQuery
		out.From = convertUser(u.Query.Sender)
	case u.InlineResult != nil:
		out.Kind = chain.UpdateChosenInlineResult
		out.From = convertUser(u.InlineResult.Sender)
	case u.ShippingQuery != nil:
		out.Kind = chain.UpdateShippingQuery
		out.From = convertUser(u.ShippingQuery.Sender)
	case u.PreCheckoutQuery != nil:
		out.Kind = chain.UpdatePreCheckoutQuery
		out.From = convertUser(u.PreCheckoutQuery.Sender)
	case u.Poll != nil:
		out.Kind = chain.UpdatePoll
	case u.PollAnswer != nil:
		out.Kind = chain.UpdatePollAnswer
		out.From = convertUser(u.PollAnswer.Sender)
	case u.MyChatMember != nil:
		out.Kind = chain.UpdateMyChatMember
		out.From = convertUser(u.MyChatMember.Sender)
		out.ChatID = chatID(u.MyChatMember.Chat)
	case u.ChatMember != nil:
		out.Kind = chain.UpdateChatMember
		out.From = convertUser(u.ChatMember.Sender)
		out.ChatID = chatID(u.ChatMember.Chat)
	case u.ChatJoinRequest != nil:
		out.Kind = chain.UpdateChatJoinRequest
		out.From = convertUser(u.ChatJoinRequest.Sender)
		out.ChatID = chatID(u.ChatJoinRequest.Chat)
	default:
		out.Kind = chain.UpdateOther
	}
	return out
}

func convertMessage(m *tele.Message) *chain.Message {
	return &chain.Message{
		ID:      m.ID,
		ChatID:  chatID(m.Chat),
		From:    convertUser(m.Sender),
		Text:    m.Text,
		Caption: m.Caption,
		Type:    MessageType(m),
	}
}

func convertCallback(cb *tele.Callback) *chain.CallbackQuery {
	out := &chain.CallbackQuery{
		ID:   cb.ID,
		From: convertUser(cb.Sender),
		Data: cb.Data,
	}
	if cb.Message != nil {
		out.ChatID = chatID(cb.Message.Chat)
		out.MessageID = cb.Message.ID
	}
	return out
}

func convertUser(u *tele.User) *chain.User {
	if u == nil {
		return nil
	}
	return &chain.User{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LanguageCode: u.LanguageCode,
	}
}

func chatID(c *tele.Chat) int64 {
	if c == nil {
		return 0
	}
	return c.ID
}

// MessageType reports the content subtype step handlers are keyed by.
func MessageType(m *tele.Message) chain.MessageType {
	switch {
	case m == nil:
		return chain.MessageUnknown
	case m.Photo != nil:
		return chain.MessagePhoto
	case m.Audio != nil:
		return chain.MessageAudio
	case m.Voice != nil:
		return chain.MessageVoice
	case m.Video != nil:
		return chain.MessageVideo
	case m.Document != nil:
		return chain.MessageDocument
	case m.Contact != nil:
		return chain.MessageContact
	case m.Location != nil:
		return chain.MessageLocation
	case m.Sticker != nil:
		return chain.MessageSticker
	case m.Text != "":
		return chain.MessageText
	default:
		return chain.MessageUnknown
	}
}
