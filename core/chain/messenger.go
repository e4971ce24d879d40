package chain

import "context"

// Button is an inline keyboard button. Data carries a callback token; URL,
// when set, makes it a link button instead.
type Button struct {
	Text string
	Data string
	URL  string
}

// PlainButton returns a button whose callback data is the bare handler name,
// decoded as a callback with an empty payload.
func PlainButton(text, name string) Button {
	return Button{Text: text, Data: name}
}

// Messenger is the outbound side of the transport used by handlers and the
// error presenter.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, keyboard [][]Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
