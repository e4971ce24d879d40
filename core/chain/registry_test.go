package chain

import (
	"context"
	"errors"
	"testing"
)

func noop(context.Context, *Argument) error { return nil }

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterCommand("start", nil, noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.RegisterCommand("/START", nil, noop); !errors.Is(err, ErrDuplicateHandler) {
		t.Fatalf("expected duplicate command, got %v", err)
	}
	if err := r.RegisterStep("get_name", "", nil, noop); err != nil {
		t.Fatalf("register step: %v", err)
	}
	if err := r.RegisterStep("get_name", MessageText, nil, noop); !errors.Is(err, ErrDuplicateHandler) {
		t.Fatalf("expected duplicate step, got %v", err)
	}
	if err := r.RegisterStep("get_name", MessagePhoto, nil, noop); err != nil {
		t.Fatalf("same step for another type should register: %v", err)
	}
	if err := r.RegisterCallback("pick", nil, noop); err != nil {
		t.Fatalf("register callback: %v", err)
	}
	if err := r.RegisterCallback("pick", nil, noop); !errors.Is(err, ErrDuplicateHandler) {
		t.Fatalf("expected duplicate callback, got %v", err)
	}
	if r.Len() != 4 {
		t.Fatalf("len=%d want 4", r.Len())
	}
}

func TestRegistryNamespacesAreSeparate(t *testing.T) {
	r := NewRegistry()
	for _, err := range []error{
		r.RegisterStep("menu", "", nil, noop),
		r.RegisterCallback("menu", nil, noop),
		r.RegisterCommand("menu", nil, noop),
	} {
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if _, err := r.Resolve(KindCommand, "/menu", ""); err != nil {
		t.Fatalf("resolve command: %v", err)
	}
	if _, err := r.Resolve(KindCallback, "menu", ""); err != nil {
		t.Fatalf("resolve callback: %v", err)
	}
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()
	cases := []error{
		r.RegisterCommand("start", nil, nil),
		r.RegisterCommand("/", nil, noop),
		r.RegisterStep(" ", "", nil, noop),
		r.RegisterCallback("a|b", nil, noop),
		r.RegisterCallback("a#b", nil, noop),
		r.RegisterCallback("", nil, noop),
	}
	for i, err := range cases {
		if !errors.Is(err, ErrInvalidHandler) {
			t.Fatalf("case %d: expected ErrInvalidHandler, got %v", i, err)
		}
	}
}

func TestRegistrySealed(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	if err := r.RegisterCommand("start", nil, noop); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
}

func TestRegistryResolveStepType(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterStep("upload", MessagePhoto, nil, noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.RegisterStep("upload", MessageDocument, nil, noop); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Resolve(KindStep, "upload", MessageText)
	var unexpected *UnexpectedMessageTypeError
	if !errors.As(err, &unexpected) {
		t.Fatalf("expected UnexpectedMessageTypeError, got %v", err)
	}
	if len(unexpected.Accepted) != 2 || unexpected.Got != MessageText {
		t.Fatalf("unexpected error contents: %+v", unexpected)
	}

	_, err = r.Resolve(KindStep, "missing", MessageText)
	var notFound *HandlerNotFoundError
	if !errors.As(err, &notFound) || notFound.Code() != "STEP_NOT_FOUND" {
		t.Fatalf("expected step not found, got %v", err)
	}
}

func TestRegistryCommandsSorted(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Registration{Kind: KindCommand, Name: "help", Action: noop, Description: "Show help"})
	_ = r.RegisterCommand("about", nil, noop)
	_ = r.RegisterStep("help", "", nil, noop)
	cmds := r.Commands()
	if len(cmds) != 2 || cmds[0].Name != "/about" || cmds[1].Name != "/help" || cmds[1].Description != "Show help" {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
}

func TestCommandName(t *testing.T) {
	cases := []struct {
		in, name, args string
		ok             bool
	}{
		{"/start", "/start", "", true},
		{"/start@chainbot deep link", "/start", "deep link", true},
		{"  /help  ", "/help", "", true},
		{"/", "", "", false},
		{"hello /start", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, c := range cases {
		name, args, ok := CommandName(c.in)
		if name != c.name || args != c.args || ok != c.ok {
			t.Fatalf("CommandName(%q) = %q, %q, %v", c.in, name, args, ok)
		}
	}
}
