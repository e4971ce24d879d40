package demo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/chain/callback"
	"github.com/m3rciful/chainbot/core/chain/state"
)

type recorder struct {
	mu      sync.Mutex
	texts   []string
	buttons [][]chain.Button
	answers []string
}

func (r *recorder) Send(_ context.Context, _ int64, text string, kb [][]chain.Button) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	r.buttons = kb
	return nil
}

func (r *recorder) AnswerCallback(_ context.Context, _, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, text)
	return nil
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

func setup(t *testing.T) (*chain.Dispatcher, *recorder) {
	t.Helper()
	reg := chain.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := &recorder{}
	events := chain.NewEvents()
	Events(events, rec)
	d, err := chain.NewDispatcher(chain.Options{
		Registry:     reg,
		States:       state.NewMemoryStore(),
		Codec:        callback.NewCodec(callback.NewMemoryStore(20)),
		Events:       events,
		Messenger:    rec,
		ErrorHandler: &chain.ReplyErrorHandler{Messenger: rec},
	})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	return d, rec
}

var nextID int

func text(s string) *chain.Update {
	nextID++
	return &chain.Update{ID: nextID, Kind: chain.UpdateMessage, Message: &chain.Message{
		ID: nextID, ChatID: 1, From: &chain.User{ID: 2}, Text: s, Type: chain.MessageText,
	}}
}

func press(data string) *chain.Update {
	nextID++
	return &chain.Update{ID: nextID, Kind: chain.UpdateCallbackQuery, Callback: &chain.CallbackQuery{
		ID: "q", From: &chain.User{ID: 2}, ChatID: 1, Data: data,
	}}
}

func TestProfileSignup(t *testing.T) {
	d, rec := setup(t)
	ctx := context.Background()
	long := strings.Repeat("Bartholomew", 3)

	steps := []struct {
		upd  *chain.Update
		want string
	}{
		{text("/start"), "What is your name?"},
		{text(long), "Nice to meet you, " + long + ". How old are you?"},
		{text("old"), "Please send your age as a number."},
		{text("41"), `Save profile "` + long + `, 41"?`},
	}
	for _, s := range steps {
		if err := d.Dispatch(ctx, s.upd); err != nil {
			t.Fatalf("dispatch %q: %v", s.upd.Message.Text, err)
		}
		if got := rec.last(); got != s.want {
			t.Fatalf("reply=%q want %q", got, s.want)
		}
	}

	saveData := rec.buttons[0][0].Data
	if !strings.HasPrefix(saveData, CallbackSave+"#") {
		t.Fatalf("long profile should spill into the content store, token %q", saveData)
	}
	if err := d.Dispatch(ctx, press(saveData)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.last() != "Profile saved: "+long+", 41." || rec.answers[len(rec.answers)-1] != "Saved" {
		t.Fatalf("reply=%q answers=%v", rec.last(), rec.answers)
	}

	if err := d.Dispatch(ctx, text("hello")); err != nil {
		t.Fatalf("passive: %v", err)
	}
	if rec.last() != "Send /start to create your profile." {
		t.Fatalf("passive reply=%q", rec.last())
	}
}

func TestNameValidation(t *testing.T) {
	d, rec := setup(t)
	ctx := context.Background()
	_ = d.Dispatch(ctx, text("/start"))
	err := d.Dispatch(ctx, text(strings.Repeat("x", maxNameRunes+1)))
	var chatErr *chain.ChatError
	if !errors.As(err, &chatErr) || rec.last() != chatErr.Text {
		t.Fatalf("expected chat error reply, err=%v reply=%q", err, rec.last())
	}
}

func TestAvatarAcceptsPhotoOnly(t *testing.T) {
	d, rec := setup(t)
	ctx := context.Background()
	_ = d.Dispatch(ctx, text("/avatar"))
	_ = d.Dispatch(ctx, text("no photo"))
	if rec.last() != "Please send a message of type: document, photo." {
		t.Fatalf("reply=%q", rec.last())
	}
	photo := text("")
	photo.Message.Type = chain.MessagePhoto
	if err := d.Dispatch(ctx, photo); err != nil {
		t.Fatalf("photo: %v", err)
	}
	if rec.last() != "Got your photo, thanks." {
		t.Fatalf("reply=%q", rec.last())
	}
}

func TestCancelButton(t *testing.T) {
	d, rec := setup(t)
	ctx := context.Background()
	_ = d.Dispatch(ctx, text("/start"))
	if err := d.Dispatch(ctx, press(CallbackAbort)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.last() != "Cancelled." {
		t.Fatalf("reply=%q", rec.last())
	}
	_ = d.Dispatch(ctx, text("Alice"))
	if rec.last() != "Send /start to create your profile." {
		t.Fatalf("dialog should be over, reply=%q", rec.last())
	}
}

func TestStatsReportsRegistrySize(t *testing.T) {
	d, rec := setup(t)
	if err := d.Dispatch(context.Background(), text("/stats")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := rec.last(); got != "11 handlers registered." {
		t.Fatalf("reply=%q", got)
	}
}
