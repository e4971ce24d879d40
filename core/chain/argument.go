package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/m3rciful/chainbot/core/chain/callback"
)

// Argument is handed to every action. Content holds the prior step's
// transferred content, or the decoded payload for callbacks. The action sets
// NextStep and NextContent; the dispatcher persists both once it returns.
type Argument struct {
	ChatID int64
	UserID int64
	Update *Update
	Route  Route

	// Content is nil for commands and for steps without transferred content.
	Content *string
	// CommandArgs is the text after the command name.
	CommandArgs string

	NextStep    *string
	NextContent *string

	messenger Messenger
	codec     *callback.Codec
	answered  bool
}

// Text returns the message text, or the caption for media messages.
func (a *Argument) Text() string {
	if a.Update == nil || a.Update.Message == nil {
		return ""
	}
	if a.Update.Message.Text != "" {
		return a.Update.Message.Text
	}
	return a.Update.Message.Caption
}

// Next sets the step that handles the user's next message.
func (a *Argument) Next(step string) {
	a.NextStep = &step
}

// End finishes the chain; the next plain message is a passive event.
func (a *Argument) End() {
	a.NextStep = nil
}

// Transfer stores v as the content handed to the next step. Strings are kept
// verbatim; other values are JSON encoded. nil clears the content.
func (a *Argument) Transfer(v any) error {
	if v == nil {
		a.NextContent = nil
		return nil
	}
	s, err := encodeContent(v)
	if err != nil {
		return err
	}
	a.NextContent = &s
	return nil
}

// NextWith combines Next and Transfer.
func (a *Argument) NextWith(step string, v any) error {
	if err := a.Transfer(v); err != nil {
		return err
	}
	a.Next(step)
	return nil
}

// Reply sends text with an optional inline keyboard to the current chat.
// Once ctx is done, for instance after the dispatch timeout, nothing is sent.
func (a *Argument) Reply(ctx context.Context, text string, rows ...[]Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.messenger == nil {
		return errors.New("chain: no messenger configured")
	}
	return a.messenger.Send(ctx, a.ChatID, text, rows)
}

// Answer acknowledges the callback query with an optional notification text.
// It is a no-op outside callbacks.
func (a *Argument) Answer(ctx context.Context, text string) error {
	if a.Update == nil || a.Update.Callback == nil || a.messenger == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.answered = true
	return a.messenger.AnswerCallback(ctx, a.Update.Callback.ID, text)
}

// CallbackButton builds a button routed to the callback handler name with v
// as payload. Large payloads are spilled into the callback content store,
// which is left untouched once ctx is done.
func (a *Argument) CallbackButton(ctx context.Context, text, name string, v any) (Button, error) {
	if err := ctx.Err(); err != nil {
		return Button{}, err
	}
	if a.codec == nil {
		return Button{}, errors.New("chain: no callback codec configured")
	}
	payload, err := encodeContent(v)
	if err != nil {
		return Button{}, err
	}
	token, err := a.codec.Encode(ctx, a.ChatID, a.UserID, name, payload)
	if err != nil {
		return Button{}, err
	}
	return Button{Text: text, Data: token}, nil
}

// Transferred decodes the argument's content into T. Strings come back
// verbatim. ok is false when there is no content.
func Transferred[T any](a *Argument) (v T, ok bool, err error) {
	if a == nil || a.Content == nil {
		return v, false, nil
	}
	if sp, isString := any(&v).(*string); isString {
		*sp = *a.Content
		return v, true, nil
	}
	if err := json.Unmarshal([]byte(*a.Content), &v); err != nil {
		return v, false, fmt.Errorf("decode transferred content: %w", err)
	}
	return v, true, nil
}

func encodeContent(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return string(raw), nil
}
