// Package demo registers the example conversation chains served by cmd/chainbot:
// a profile signup with a confirmation keyboard and an avatar upload step.
package demo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/chainbot/core/chain"
)

// Step and callback names.
const (
	StepName      = "profile.name"
	StepAge       = "profile.age"
	StepAvatar    = "avatar.upload"
	CallbackSave  = "profile.save"
	CallbackEdit  = "profile.edit"
	CallbackAbort = "profile.cancel"

	maxNameRunes = 64
)

// Profile is the content carried between the signup steps.
type Profile struct {
	Name string `json:"name"`
	Age  int    `json:"age,omitempty"`
	Bio  string `json:"bio,omitempty"`
}

// Register adds the demo commands, steps and callbacks to reg.
func Register(reg *chain.Registry) error {
	regs := []chain.Registration{
		{Kind: chain.KindCommand, Name: "start", Next: chain.Step(StepName), Action: start, Description: "Create your profile"},
		{Kind: chain.KindCommand, Name: "avatar", Next: chain.Step(StepAvatar), Action: askAvatar, Description: "Upload an avatar"},
		{Kind: chain.KindCommand, Name: "cancel", Action: cancel, Description: "Stop the current dialog"},
		{Kind: chain.KindCommand, Name: "stats", Action: stats(reg), AdminOnly: true},
		{Kind: chain.KindStep, Name: StepName, MessageType: chain.MessageText, Next: chain.Step(StepAge), Action: takeName},
		{Kind: chain.KindStep, Name: StepAge, MessageType: chain.MessageText, Action: takeAge},
		{Kind: chain.KindStep, Name: StepAvatar, MessageType: chain.MessagePhoto, Action: takeAvatar},
		{Kind: chain.KindStep, Name: StepAvatar, MessageType: chain.MessageDocument, Action: takeAvatar},
		{Kind: chain.KindCallback, Name: CallbackSave, Action: save},
		{Kind: chain.KindCallback, Name: CallbackEdit, Next: chain.Step(StepName), Action: start},
		{Kind: chain.KindCallback, Name: CallbackAbort, Action: cancel},
	}
	for _, r := range regs {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// Events answers plain messages outside a dialog with a hint.
func Events(events *chain.Events, msgr chain.Messenger) {
	events.OnMessage(func(ctx context.Context, upd *chain.Update) error {
		return msgr.Send(ctx, upd.Chat(), "Send /start to create your profile.", nil)
	})
}

func start(ctx context.Context, a *chain.Argument) error {
	if err := a.Transfer(nil); err != nil {
		return err
	}
	return a.Reply(ctx, "What is your name?")
}

func takeName(ctx context.Context, a *chain.Argument) error {
	name := strings.TrimSpace(a.Text())
	if name == "" || utf8.RuneCountInString(name) > maxNameRunes {
		return chain.NewChatError(fmt.Sprintf("Please send a name of 1 to %d characters.", maxNameRunes))
	}
	if err := a.Transfer(Profile{Name: name}); err != nil {
		return err
	}
	return a.Reply(ctx, fmt.Sprintf("Nice to meet you, %s. How old are you?", name))
}

func takeAge(ctx context.Context, a *chain.Argument) error {
	age, err := strconv.Atoi(strings.TrimSpace(a.Text()))
	if err != nil || age <= 0 || age > 150 {
		a.Next(StepAge)
		a.NextContent = a.Content
		return a.Reply(ctx, "Please send your age as a number.")
	}
	p, ok, err := chain.Transferred[Profile](a)
	if err != nil {
		return err
	}
	if !ok {
		return chain.NewChatError("Your profile draft is gone. Send /start to begin again.")
	}
	p.Age = age
	p.Bio = fmt.Sprintf("%s, %d", p.Name, p.Age)

	saveBtn, err := a.CallbackButton(ctx, "Save", CallbackSave, p)
	if err != nil {
		return err
	}
	a.End()
	return a.Reply(ctx, fmt.Sprintf("Save profile %q?", p.Bio),
		[]chain.Button{saveBtn, chain.PlainButton("Edit", CallbackEdit)},
		[]chain.Button{chain.PlainButton("Cancel", CallbackAbort)},
	)
}

func save(ctx context.Context, a *chain.Argument) error {
	p, ok, err := chain.Transferred[Profile](a)
	if err != nil || !ok {
		return chain.NewChatError("This profile can no longer be saved.")
	}
	if err := a.Answer(ctx, "Saved"); err != nil {
		return err
	}
	return a.Reply(ctx, fmt.Sprintf("Profile saved: %s.", p.Bio))
}

func cancel(ctx context.Context, a *chain.Argument) error {
	a.End()
	if err := a.Transfer(nil); err != nil {
		return err
	}
	return a.Reply(ctx, "Cancelled.")
}

func stats(reg *chain.Registry) chain.Action {
	return func(ctx context.Context, a *chain.Argument) error {
		return a.Reply(ctx, fmt.Sprintf("%d handlers registered.", reg.Len()))
	}
}

func askAvatar(ctx context.Context, a *chain.Argument) error {
	return a.Reply(ctx, "Send a photo or an image file.")
}

func takeAvatar(ctx context.Context, a *chain.Argument) error {
	kind := "photo"
	if a.Update.Message.Type == chain.MessageDocument {
		kind = "file"
	}
	return a.Reply(ctx, fmt.Sprintf("Got your %s, thanks.", kind))
}
