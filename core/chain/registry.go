package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/chainbot/core/chain/callback"
	"github.com/m3rciful/chainbot/core/logger"
)

// CommandPrefix marks command texts.
const CommandPrefix = "/"

// HandlerKind distinguishes the three handler namespaces.
type HandlerKind int

const (
	KindCommand HandlerKind = iota
	KindStep
	KindCallback
)

func (k HandlerKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindStep:
		return "step"
	case KindCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Action is the user code attached to a registration.
type Action func(ctx context.Context, arg *Argument) error

// Registration describes one handler. MessageType applies to steps only and
// defaults to text. Next, when set, seeds Argument.NextStep before the action runs.
type Registration struct {
	Kind        HandlerKind
	Name        string
	MessageType MessageType
	Next        *string
	Action      Action
	// Description is published in the bot command menu for visible commands.
	Description string
	// AdminOnly commands are hidden from the menu and gated by middleware.AdminOnly.
	AdminOnly bool
}

type registryKey struct {
	kind HandlerKind
	name string
	typ  MessageType
}

// Registry maps (kind, name, message type) to registrations. It is safe for
// concurrent reads; writes are rejected once sealed.
type Registry struct {
	mu        sync.RWMutex
	entries   map[registryKey]*Registration
	stepTypes map[string][]MessageType
	commands  []*Registration
	sealed    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[registryKey]*Registration),
		stepTypes: make(map[string][]MessageType),
	}
}

// Step returns a pointer to name for use as a static next step.
func Step(name string) *string {
	return &name
}

// RegisterCommand registers a command handler. The name is normalized to carry
// the leading slash.
func (r *Registry) RegisterCommand(name string, next *string, action Action) error {
	return r.Register(Registration{Kind: KindCommand, Name: name, Next: next, Action: action})
}

// RegisterStep registers a step handler for a message type; an empty type means text.
func (r *Registry) RegisterStep(name string, typ MessageType, next *string, action Action) error {
	return r.Register(Registration{Kind: KindStep, Name: name, MessageType: typ, Next: next, Action: action})
}

// RegisterCallback registers a callback handler. The name must be usable inside a callback token.
func (r *Registry) RegisterCallback(name string, next *string, action Action) error {
	return r.Register(Registration{Kind: KindCallback, Name: name, Next: next, Action: action})
}

// Register adds a registration after normalizing and validating it.
func (r *Registry) Register(reg Registration) error {
	if reg.Action == nil {
		return fmt.Errorf("%w: %s %q has no action", ErrInvalidHandler, reg.Kind, reg.Name)
	}
	reg.Name = strings.TrimSpace(reg.Name)
	switch reg.Kind {
	case KindCommand:
		reg.Name = normalizeCommand(reg.Name)
		if reg.Name == CommandPrefix || strings.ContainsAny(reg.Name, " @") {
			return fmt.Errorf("%w: command name %q", ErrInvalidHandler, reg.Name)
		}
		reg.MessageType = ""
	case KindStep:
		if reg.Name == "" {
			return fmt.Errorf("%w: empty step name", ErrInvalidHandler)
		}
		if reg.MessageType == "" {
			reg.MessageType = MessageText
		}
	case KindCallback:
		if err := callback.ValidateName(reg.Name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidHandler, err)
		}
		reg.MessageType = ""
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidHandler, reg.Kind)
	}

	key := registryKey{kind: reg.Kind, name: reg.Name, typ: reg.MessageType}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.entries[key]; exists {
		if reg.Kind == KindStep {
			return fmt.Errorf("%w: step %q for %s messages", ErrDuplicateHandler, reg.Name, reg.MessageType)
		}
		return fmt.Errorf("%w: %s %q", ErrDuplicateHandler, reg.Kind, reg.Name)
	}
	stored := reg
	r.entries[key] = &stored
	switch reg.Kind {
	case KindStep:
		r.stepTypes[reg.Name] = append(r.stepTypes[reg.Name], reg.MessageType)
	case KindCommand:
		r.commands = append(r.commands, &stored)
	}

	logger.TWire.Debug("handler registered",
		slog.String("event", "wire.handler"),
		slog.String("kind", reg.Kind.String()),
		slog.String("handler", reg.Name),
		slog.String("message_type", string(reg.MessageType)),
		slog.String("next_step", deref(reg.Next)),
	)
	return nil
}

// Seal freezes the registry. Registrations after Seal fail with ErrRegistrySealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve returns the registration for kind and name. For steps the message
// type must match a registered type exactly; when the step exists only for
// other types an *UnexpectedMessageTypeError lists the accepted ones.
func (r *Registry) Resolve(kind HandlerKind, name string, typ MessageType) (*Registration, error) {
	switch kind {
	case KindCommand:
		name = normalizeCommand(name)
		typ = ""
	case KindStep:
		if typ == "" {
			typ = MessageText
		}
	default:
		typ = ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.entries[registryKey{kind: kind, name: name, typ: typ}]; ok {
		return reg, nil
	}
	if kind == KindStep {
		if accepted := r.stepTypes[name]; len(accepted) > 0 {
			return nil, &UnexpectedMessageTypeError{
				Step:     name,
				Got:      typ,
				Accepted: append([]MessageType(nil), accepted...),
			}
		}
	}
	return nil, &HandlerNotFoundError{Kind: kind, Name: name}
}

// Commands returns the registered commands sorted by name.
func (r *Registry) Commands() []Registration {
	r.mu.RLock()
	out := make([]Registration, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, *c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func normalizeCommand(name string) string {
	if !strings.HasPrefix(name, CommandPrefix) {
		name = CommandPrefix + name
	}
	return strings.ToLower(name)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// LogSummary emits one line describing the registered handlers.
func (r *Registry) LogSummary(ctx context.Context) {
	r.mu.RLock()
	counts := map[HandlerKind]int{}
	for k := range r.entries {
		counts[k.kind]++
	}
	r.mu.RUnlock()
	logger.LogEvent(ctx, logger.TWire, slog.LevelInfo, "wire.summary",
		slog.Int("commands", counts[KindCommand]),
		slog.Int("steps", counts[KindStep]),
		slog.Int("callbacks", counts[KindCallback]),
	)
}
