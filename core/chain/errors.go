package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/m3rciful/chainbot/core/chain/callback"
)

var (
	// ErrDuplicateHandler reports a second registration for the same kind, name and message type.
	ErrDuplicateHandler = errors.New("chain: duplicate handler")
	// ErrRegistrySealed is returned when registering after the dispatcher started.
	ErrRegistrySealed = errors.New("chain: registry sealed")
	// ErrInvalidHandler reports a registration with an empty name, nil action or unusable callback name.
	ErrInvalidHandler = errors.New("chain: invalid handler")
	// ErrExpiredCallback reports a callback reference evicted from the content store.
	ErrExpiredCallback = callback.ErrExpired
	// ErrUnsupportedMessage reports a message whose content type is not supported.
	ErrUnsupportedMessage = errors.New("chain: unsupported message type")
	// ErrHandlerTimeout reports an action that outlived the dispatch timeout.
	ErrHandlerTimeout = errors.New("chain: handler timed out")
)

// HandlerNotFoundError reports a lookup miss in the registry.
type HandlerNotFoundError struct {
	Kind HandlerKind
	Name string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("chain: %s handler %q not found", e.Kind, e.Name)
}

// Code returns a stable error code for logs.
func (e *HandlerNotFoundError) Code() string {
	return strings.ToUpper(e.Kind.String()) + "_NOT_FOUND"
}

// UnexpectedMessageTypeError reports a step that exists but does not accept
// the incoming message type.
type UnexpectedMessageTypeError struct {
	Step     string
	Got      MessageType
	Accepted []MessageType
}

func (e *UnexpectedMessageTypeError) Error() string {
	return fmt.Sprintf("chain: step %q does not accept %s messages (accepted: %s)", e.Step, e.Got, joinTypes(e.Accepted))
}

// Code returns a stable error code for logs.
func (e *UnexpectedMessageTypeError) Code() string { return "UNEXPECTED_MESSAGE_TYPE" }

// MalformedTokenError reports callback data that cannot be decoded.
type MalformedTokenError = callback.MalformedTokenError

// ChatError carries a message meant for the user. Handlers return it to abort
// a step with a reply instead of a generic failure notice.
type ChatError struct {
	Text string
	Err  error
}

// NewChatError returns a ChatError with the given user-facing text.
func NewChatError(text string) *ChatError {
	return &ChatError{Text: text}
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return e.Text + ": " + e.Err.Error()
	}
	return e.Text
}

func (e *ChatError) Unwrap() error { return e.Err }

// Code returns a stable error code for logs.
func (e *ChatError) Code() string { return "CHAT_ERROR" }

func joinTypes(types []MessageType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
