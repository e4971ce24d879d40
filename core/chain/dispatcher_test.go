package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m3rciful/chainbot/core/chain/callback"
	"github.com/m3rciful/chainbot/core/chain/history"
	"github.com/m3rciful/chainbot/core/chain/state"
)

type sent struct {
	chatID   int64
	text     string
	keyboard [][]Button
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sent
	answers map[string]string
}

func (m *fakeMessenger) Send(_ context.Context, chatID int64, text string, keyboard [][]Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sent{chatID: chatID, text: text, keyboard: keyboard})
	return nil
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answers == nil {
		m.answers = make(map[string]string)
	}
	m.answers[id] = text
	return nil
}

func (m *fakeMessenger) last(t *testing.T) sent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("nothing was sent")
	}
	return m.sent[len(m.sent)-1]
}

const (
	chatID = int64(100)
	userID = int64(7)
)

func textUpdate(id int, text string) *Update {
	return &Update{
		ID:   id,
		Kind: UpdateMessage,
		Message: &Message{
			ID:     id,
			ChatID: chatID,
			From:   &User{ID: userID},
			Text:   text,
			Type:   MessageText,
		},
	}
}

func callbackUpdate(id int, data string) *Update {
	return &Update{
		ID:   id,
		Kind: UpdateCallbackQuery,
		Callback: &CallbackQuery{
			ID:     "cb-" + data,
			From:   &User{ID: userID},
			ChatID: chatID,
			Data:   data,
		},
	}
}

type harness struct {
	reg    *Registry
	states state.Store
	store  *callback.MemoryStore
	msgr   *fakeMessenger
	events *Events
	errs   []error
}

func newHarness() *harness {
	return &harness{
		reg:    NewRegistry(),
		states: state.NewMemoryStore(),
		store:  callback.NewMemoryStore(3),
		msgr:   &fakeMessenger{},
		events: NewEvents(),
	}
}

func (h *harness) dispatcher(t *testing.T, mod func(*Options)) *Dispatcher {
	t.Helper()
	opts := Options{
		Registry:  h.reg,
		States:    h.states,
		Codec:     callback.NewCodec(h.store),
		Events:    h.events,
		Messenger: h.msgr,
		ErrorHandler: ErrorHandlerFunc(func(_ context.Context, _ int64, _ *Update, err error) {
			h.errs = append(h.errs, err)
		}),
	}
	if mod != nil {
		mod(&opts)
	}
	d, err := NewDispatcher(opts)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func (h *harness) stateOf(t *testing.T) *state.DialogState {
	t.Helper()
	st, err := h.states.Get(context.Background(), chatID, userID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	return st
}

func TestDispatcherChainScenario(t *testing.T) {
	h := newHarness()
	var greeted, passive int
	mustOK(t, h.reg.RegisterCommand("start", Step("get_name"), func(ctx context.Context, a *Argument) error {
		return a.Reply(ctx, "What is your name?")
	}))
	mustOK(t, h.reg.RegisterStep("get_name", MessageText, nil, func(ctx context.Context, a *Argument) error {
		greeted++
		return a.Reply(ctx, "Hello, "+a.Text())
	}))
	h.events.OnMessage(func(context.Context, *Update) error { passive++; return nil })
	d := h.dispatcher(t, nil)
	ctx := context.Background()

	mustOK(t, d.Dispatch(ctx, textUpdate(1, "/start")))
	st := h.stateOf(t)
	if st == nil || st.Step == nil || *st.Step != "get_name" {
		t.Fatalf("after /start state=%+v", st)
	}

	mustOK(t, d.Dispatch(ctx, textUpdate(2, "Alice")))
	if greeted != 1 || h.msgr.last(t).text != "Hello, Alice" {
		t.Fatalf("step did not run, greeted=%d", greeted)
	}
	if st := h.stateOf(t); st == nil || st.Active() {
		t.Fatalf("chain should have ended, state=%+v", st)
	}

	mustOK(t, d.Dispatch(ctx, textUpdate(3, "hi again")))
	if passive != 1 || greeted != 1 {
		t.Fatalf("expected passive delivery, passive=%d greeted=%d", passive, greeted)
	}
}

func TestDispatcherCommandInterruptsStep(t *testing.T) {
	h := newHarness()
	var stepRuns, helpRuns int
	mustOK(t, h.reg.RegisterCommand("start", Step("get_name"), noop))
	mustOK(t, h.reg.RegisterCommand("help", nil, func(context.Context, *Argument) error { helpRuns++; return nil }))
	mustOK(t, h.reg.RegisterStep("get_name", "", nil, func(context.Context, *Argument) error { stepRuns++; return nil }))
	d := h.dispatcher(t, nil)

	mustOK(t, d.Dispatch(context.Background(), textUpdate(1, "/start")))
	mustOK(t, d.Dispatch(context.Background(), textUpdate(2, "/help")))
	if helpRuns != 1 || stepRuns != 0 {
		t.Fatalf("help=%d step=%d", helpRuns, stepRuns)
	}
	if st := h.stateOf(t); st.Active() {
		t.Fatalf("command without next step should end the chain, state=%+v", st)
	}
}

func TestDispatcherTransfersContentBetweenSteps(t *testing.T) {
	h := newHarness()
	var got profile
	mustOK(t, h.reg.RegisterCommand("start", Step("get_name"), noop))
	mustOK(t, h.reg.RegisterStep("get_name", "", Step("get_age"), func(_ context.Context, a *Argument) error {
		return a.Transfer(profile{Name: a.Text()})
	}))
	mustOK(t, h.reg.RegisterStep("get_age", "", nil, func(_ context.Context, a *Argument) error {
		p, ok, err := Transferred[profile](a)
		if err != nil || !ok {
			return errors.New("missing content")
		}
		got = p
		return nil
	}))
	d := h.dispatcher(t, nil)
	ctx := context.Background()
	mustOK(t, d.Dispatch(ctx, textUpdate(1, "/start")))
	mustOK(t, d.Dispatch(ctx, textUpdate(2, "Alice")))
	mustOK(t, d.Dispatch(ctx, textUpdate(3, "30")))
	if got.Name != "Alice" {
		t.Fatalf("content not transferred, got %+v", got)
	}
}

func TestDispatcherUnexpectedMessageType(t *testing.T) {
	h := newHarness()
	mustOK(t, h.reg.RegisterCommand("upload", Step("wait_photo"), noop))
	mustOK(t, h.reg.RegisterStep("wait_photo", MessagePhoto, nil, noop))
	d := h.dispatcher(t, nil)
	ctx := context.Background()
	mustOK(t, d.Dispatch(ctx, textUpdate(1, "/upload")))

	err := d.Dispatch(ctx, textUpdate(2, "not a photo"))
	var unexpected *UnexpectedMessageTypeError
	if !errors.As(err, &unexpected) {
		t.Fatalf("expected UnexpectedMessageTypeError, got %v", err)
	}
	if len(h.errs) != 1 {
		t.Fatalf("error handler calls=%d", len(h.errs))
	}
	if st := h.stateOf(t); st.Step == nil || *st.Step != "wait_photo" {
		t.Fatalf("failed step must keep state, got %+v", st)
	}

	unknown := textUpdate(3, "")
	unknown.Message.Type = MessageUnknown
	if err := d.Dispatch(ctx, unknown); !errors.Is(err, ErrUnsupportedMessage) {
		t.Fatalf("expected ErrUnsupportedMessage, got %v", err)
	}
}

func TestDispatcherCallbackSpillAndExpiry(t *testing.T) {
	h := newHarness()
	var tokens []string
	var received []string
	mustOK(t, h.reg.RegisterCommand("list", nil, func(ctx context.Context, a *Argument) error {
		for i := 0; i < 4; i++ {
			btn, err := a.CallbackButton(ctx, "item", "open", strings.Repeat(string(rune('a'+i)), 100))
			if err != nil {
				return err
			}
			tokens = append(tokens, btn.Data)
		}
		return nil
	}))
	mustOK(t, h.reg.RegisterCallback("open", nil, func(_ context.Context, a *Argument) error {
		received = append(received, *a.Content)
		return nil
	}))
	d := h.dispatcher(t, nil)
	ctx := context.Background()
	mustOK(t, d.Dispatch(ctx, textUpdate(1, "/list")))
	if len(tokens) != 4 {
		t.Fatalf("tokens=%v", tokens)
	}

	mustOK(t, d.Dispatch(ctx, callbackUpdate(2, tokens[3])))
	if len(received) != 1 || received[0] != strings.Repeat("d", 100) {
		t.Fatalf("received=%v", received)
	}
	if _, ok := h.msgr.answers["cb-"+tokens[3]]; !ok {
		t.Fatalf("callback query was not answered")
	}

	if err := d.Dispatch(ctx, callbackUpdate(3, tokens[0])); !errors.Is(err, ErrExpiredCallback) {
		t.Fatalf("expected expired callback, got %v", err)
	}
}

func TestDispatcherForeignCallbackTokenExpires(t *testing.T) {
	h := newHarness()
	var received []string
	mustOK(t, h.reg.RegisterCallback("pick", nil, func(_ context.Context, a *Argument) error {
		received = append(received, *a.Content)
		return nil
	}))
	d := h.dispatcher(t, nil)
	ctx := context.Background()
	codec := callback.NewCodec(h.store)

	token, err := codec.Encode(ctx, chatID, userID, "pick", "A-secret-"+strings.Repeat("a", 80))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	const otherUser = userID + 1
	if _, err := codec.Encode(ctx, chatID, otherUser, "pick", "B-secret-"+strings.Repeat("b", 80)); err != nil {
		t.Fatalf("encode other: %v", err)
	}

	tap := callbackUpdate(1, token)
	tap.Callback.From = &User{ID: otherUser}
	if err := d.Dispatch(ctx, tap); !errors.Is(err, ErrExpiredCallback) {
		t.Fatalf("expected expired callback, got %v", err)
	}
	if len(received) != 0 {
		t.Fatalf("handler received another user's payload: %q", received)
	}

	mustOK(t, d.Dispatch(ctx, callbackUpdate(2, token)))
	if len(received) != 1 || !strings.HasPrefix(received[0], "A-secret-") {
		t.Fatalf("owner tap: received=%q", received)
	}
}

func TestDispatcherInlineAndBareCallbacks(t *testing.T) {
	h := newHarness()
	var payloads []string
	mustOK(t, h.reg.RegisterCallback("vote", Step("comment"), func(_ context.Context, a *Argument) error {
		payloads = append(payloads, *a.Content)
		return nil
	}))
	mustOK(t, h.reg.RegisterStep("comment", "", nil, noop))
	d := h.dispatcher(t, nil)
	ctx := context.Background()
	mustOK(t, d.Dispatch(ctx, callbackUpdate(1, "vote|up")))
	mustOK(t, d.Dispatch(ctx, callbackUpdate(2, "vote")))
	if len(payloads) != 2 || payloads[0] != "up" || payloads[1] != "" {
		t.Fatalf("payloads=%q", payloads)
	}
	if st := h.stateOf(t); st.Step == nil || *st.Step != "comment" {
		t.Fatalf("callback next step not persisted, state=%+v", st)
	}

	var notFound *HandlerNotFoundError
	if err := d.Dispatch(ctx, callbackUpdate(3, "missing|x")); !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDispatcherDropsUpdatesWithoutSender(t *testing.T) {
	h := newHarness()
	ran := false
	mustOK(t, h.reg.RegisterCommand("start", nil, func(context.Context, *Argument) error { ran = true; return nil }))
	d := h.dispatcher(t, nil)
	upd := textUpdate(1, "/start")
	upd.Message.From = nil
	mustOK(t, d.Dispatch(context.Background(), upd))
	if ran {
		t.Fatalf("update without sender must not reach handlers")
	}
}

func TestDispatcherPassiveKinds(t *testing.T) {
	h := newHarness()
	var polls int
	h.events.OnPoll(func(context.Context, *Update) error { polls++; return nil })
	h.events.OnInlineQuery(func(context.Context, *Update) error { panic("hook failure") })
	d := h.dispatcher(t, nil)
	mustOK(t, d.Dispatch(context.Background(), &Update{ID: 1, Kind: UpdatePoll}))
	mustOK(t, d.Dispatch(context.Background(), &Update{ID: 2, Kind: UpdateInlineQuery, From: &User{ID: userID}}))
	mustOK(t, d.Dispatch(context.Background(), &Update{ID: 3, Kind: UpdateChatMember}))
	if polls != 1 {
		t.Fatalf("polls=%d", polls)
	}
	if st := h.stateOf(t); st != nil {
		t.Fatalf("passive updates must not touch state, got %+v", st)
	}
}

func TestDispatcherTimeoutDoesNotPersist(t *testing.T) {
	h := newHarness()
	release := make(chan struct{})
	mustOK(t, h.reg.RegisterCommand("slow", Step("after"), func(ctx context.Context, _ *Argument) error {
		<-ctx.Done()
		<-release
		return nil
	}))
	mustOK(t, h.reg.RegisterStep("after", "", nil, noop))
	d := h.dispatcher(t, func(o *Options) { o.Timeout = 20 * time.Millisecond })
	defer close(release)

	err := d.Dispatch(context.Background(), textUpdate(1, "/slow"))
	if !errors.Is(err, ErrHandlerTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if st := h.stateOf(t); st != nil {
		t.Fatalf("timed out action must not persist, got %+v", st)
	}
}

func TestDispatcherSerializesSameIdentity(t *testing.T) {
	h := newHarness()
	mustOK(t, h.reg.RegisterCommand("count", Step("count"), func(_ context.Context, a *Argument) error {
		return a.Transfer(0)
	}))
	mustOK(t, h.reg.RegisterStep("count", "", Step("count"), func(_ context.Context, a *Argument) error {
		n, _, err := Transferred[int](a)
		if err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
		return a.Transfer(n + 1)
	}))
	var errMu sync.Mutex
	d := h.dispatcher(t, func(o *Options) {
		o.ErrorHandler = ErrorHandlerFunc(func(_ context.Context, _ int64, _ *Update, err error) {
			errMu.Lock()
			h.errs = append(h.errs, err)
			errMu.Unlock()
		})
	})
	ctx := context.Background()
	mustOK(t, d.Dispatch(ctx, textUpdate(1, "/count")))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = d.Dispatch(ctx, textUpdate(100+i, "tick"))
		}(i)
	}
	wg.Wait()

	if len(h.errs) != 0 {
		t.Fatalf("dispatch errors: %v", h.errs)
	}
	st := h.stateOf(t)
	if st == nil || st.Content == nil || *st.Content != "20" {
		t.Fatalf("lost transitions, state=%+v", st)
	}
}

func TestDispatcherOtherIdentityNotBlocked(t *testing.T) {
	h := newHarness()
	entered := make(chan struct{})
	release := make(chan struct{})
	var holds atomic.Int32
	mustOK(t, h.reg.RegisterCommand("hold", nil, func(_ context.Context, a *Argument) error {
		if a.UserID == userID && holds.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	}))
	d := h.dispatcher(t, nil)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() { firstDone <- d.Dispatch(ctx, textUpdate(1, "/hold")) }()
	<-entered

	sameDone := make(chan error, 1)
	go func() { sameDone <- d.Dispatch(ctx, textUpdate(2, "/hold")) }()

	other := textUpdate(3, "/hold")
	other.Message.From = &User{ID: userID + 1}
	otherDone := make(chan error, 1)
	go func() { otherDone <- d.Dispatch(ctx, other) }()

	select {
	case err := <-otherDone:
		mustOK(t, err)
	case <-time.After(time.Second):
		t.Fatal("another identity waited on a busy one")
	}
	select {
	case <-sameDone:
		t.Fatal("same identity ran while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	mustOK(t, <-firstDone)
	select {
	case err := <-sameDone:
		mustOK(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued update never ran")
	}
}

func TestDispatcherTimedOutActionHasNoSideEffects(t *testing.T) {
	h := newHarness()
	resumed := make(chan struct{})
	finished := make(chan [2]error, 1)
	mustOK(t, h.reg.RegisterCommand("late", nil, func(ctx context.Context, a *Argument) error {
		<-ctx.Done()
		<-resumed
		_, btnErr := a.CallbackButton(ctx, "more", "open", strings.Repeat("x", 100))
		replyErr := a.Reply(ctx, "too late")
		finished <- [2]error{btnErr, replyErr}
		return nil
	}))
	d := h.dispatcher(t, func(o *Options) { o.Timeout = 20 * time.Millisecond })

	if err := d.Dispatch(context.Background(), textUpdate(1, "/late")); !errors.Is(err, ErrHandlerTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	close(resumed)
	errs := <-finished
	for _, err := range errs {
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline error after timeout, got %v", err)
		}
	}
	if n := h.store.Len(userID); n != 0 {
		t.Fatalf("timed-out action spilled %d contents", n)
	}
	h.msgr.mu.Lock()
	defer h.msgr.mu.Unlock()
	if len(h.msgr.sent) != 0 {
		t.Fatalf("timed-out action sent %+v", h.msgr.sent)
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	h := newHarness()
	mustOK(t, h.reg.RegisterCommand("boom", Step("x"), func(context.Context, *Argument) error { panic("bad") }))
	d := h.dispatcher(t, nil)
	err := d.Dispatch(context.Background(), textUpdate(1, "/boom"))
	var pErr *PanicError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if deriveErrorCode(err) != "PANIC" {
		t.Fatalf("code=%s", deriveErrorCode(err))
	}
}

func TestDispatcherClearContentOnEnd(t *testing.T) {
	for _, clearOnEnd := range []bool{false, true} {
		h := newHarness()
		mustOK(t, h.reg.RegisterCommand("keep", nil, func(_ context.Context, a *Argument) error {
			return a.Transfer("draft")
		}))
		d := h.dispatcher(t, func(o *Options) { o.ClearContentOnEnd = clearOnEnd })
		mustOK(t, d.Dispatch(context.Background(), textUpdate(1, "/keep")))
		st := h.stateOf(t)
		if clearOnEnd && st != nil && st.Content != nil {
			t.Fatalf("content should be cleared on end, got %+v", st)
		}
		if !clearOnEnd && (st == nil || st.Content == nil || *st.Content != "draft") {
			t.Fatalf("content should be kept, got %+v", st)
		}
	}
}

func TestDispatcherRecordsHistory(t *testing.T) {
	h := newHarness()
	log := history.NewMemoryLog(10)
	d := h.dispatcher(t, func(o *Options) { o.History = log })
	mustOK(t, d.Dispatch(context.Background(), textUpdate(5, "hello")))
	entries, err := log.Recent(context.Background(), chatID, userID, 10)
	if err != nil || len(entries) != 1 || entries[0].MessageID != 5 {
		t.Fatalf("history=%+v err=%v", entries, err)
	}
}

func TestDispatcherMiddlewareOrder(t *testing.T) {
	h := newHarness()
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, upd *Update) error {
				order = append(order, name)
				return next(ctx, upd)
			}
		}
	}
	d := h.dispatcher(t, func(o *Options) { o.Middlewares = []Middleware{mw("outer"), mw("inner")} })
	mustOK(t, d.Dispatch(context.Background(), textUpdate(1, "hi")))
	if strings.Join(order, ",") != "outer,inner" {
		t.Fatalf("order=%v", order)
	}
}

func TestReplyErrorHandlerTexts(t *testing.T) {
	msgr := &fakeMessenger{}
	eh := &ReplyErrorHandler{Messenger: msgr, Texts: ReplyTexts{Fallback: "oops"}}
	cases := []struct {
		err  error
		want string
	}{
		{NewChatError("Name too long"), "Name too long"},
		{&HandlerNotFoundError{Kind: KindCommand, Name: "/nope"}, "Unknown command /nope."},
		{&UnexpectedMessageTypeError{Step: "s", Got: MessageText, Accepted: []MessageType{MessageVideo, MessagePhoto}}, "Please send a message of type: photo, video."},
		{ErrExpiredCallback, DefaultReplyTexts.ExpiredCallback},
		{&MalformedTokenError{Token: "", Reason: "empty"}, DefaultReplyTexts.BadCallback},
		{errors.New("db down"), "oops"},
	}
	for _, c := range cases {
		if got := eh.Text(c.err); got != c.want {
			t.Fatalf("Text(%v)=%q want %q", c.err, got, c.want)
		}
	}

	eh.HandleError(context.Background(), chatID, textUpdate(1, "x"), NewChatError("bad input"))
	if msgr.last(t).text != "bad input" {
		t.Fatalf("reply not sent")
	}
	eh.HandleError(context.Background(), chatID, callbackUpdate(2, "x"), ErrExpiredCallback)
	if msgr.answers["cb-x"] != DefaultReplyTexts.ExpiredCallback {
		t.Fatalf("callback not answered with error text: %v", msgr.answers)
	}
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
