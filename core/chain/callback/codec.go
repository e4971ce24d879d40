// Package callback packs handler routing and payloads into inline button
// callback data, which the transport bounds at 64 bytes.
//
// A token is either "name|payload" (inline) or "name#ref" (reference), where
// ref is the base36 id of a payload spilled into a per-user Store. A bare
// "name" is an inline token with an empty payload.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/metrics"
)

const (
	// MaxTokenLen is the transport limit for callback data in bytes.
	MaxTokenLen = 64
	// InlineSep separates the name from an inline payload.
	InlineSep = '|'
	// RefSep separates the name from a content store reference.
	RefSep = '#'

	// maxRefLen is the width of the largest int64 in base36.
	maxRefLen = 13
	// MaxNameLen leaves room for a separator and any reference id.
	MaxNameLen = MaxTokenLen - 1 - maxRefLen
)

// ErrExpired reports a reference whose payload is no longer in the store.
var ErrExpired = errors.New("chain: callback content expired")

// MalformedTokenError reports callback data that cannot be decoded.
type MalformedTokenError struct {
	Token  string
	Reason string
}

func (e *MalformedTokenError) Error() string {
	return fmt.Sprintf("chain: malformed callback token %q: %s", e.Token, e.Reason)
}

// Code returns a stable error code for logs.
func (e *MalformedTokenError) Code() string { return "MALFORMED_TOKEN" }

// Token is a decoded callback token. For reference tokens Value holds the
// base36 reference id; Resolve turns it into the payload.
type Token struct {
	Name      string
	Value     string
	Reference bool
}

// ValidateName reports whether name can be used as a callback routing name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("empty callback name")
	case strings.ContainsRune(name, InlineSep) || strings.ContainsRune(name, RefSep):
		return fmt.Errorf("callback name %q contains a reserved character (%q or %q)", name, InlineSep, RefSep)
	case len(name) > MaxNameLen:
		return fmt.Errorf("callback name %q is %d bytes, max %d", name, len(name), MaxNameLen)
	}
	return nil
}

// Codec encodes and decodes callback tokens, spilling oversized payloads into a Store.
type Codec struct {
	store Store
}

// NewCodec returns a codec backed by store. A nil store limits the codec to inline tokens.
func NewCodec(store Store) *Codec {
	return &Codec{store: store}
}

// Encode builds a token for name and payload. Payloads that keep the token
// within MaxTokenLen are embedded; larger ones are stored for userID and
// referenced by id.
func (c *Codec) Encode(ctx context.Context, chatID, userID int64, name, payload string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if payload == "" {
		metrics.CallbackTokens.WithLabelValues("inline").Inc()
		return name, nil
	}
	if inline := name + string(InlineSep) + payload; len(inline) <= MaxTokenLen {
		metrics.CallbackTokens.WithLabelValues("inline").Inc()
		return inline, nil
	}
	if c.store == nil {
		return "", fmt.Errorf("callback %q: payload of %d bytes needs a content store", name, len(payload))
	}
	ref, err := c.store.Put(ctx, userID, payload)
	if err != nil {
		return "", fmt.Errorf("store callback content: %w", err)
	}
	token := name + string(RefSep) + FormatRef(ref)
	metrics.CallbackTokens.WithLabelValues("reference").Inc()
	if logger.ShouldSampleDebug() {
		logger.LogEvent(ctx, logger.Callback, slog.LevelDebug, "callback.spill",
			slog.Int64("chat_id", chatID),
			slog.Int64("user_id", userID),
			slog.String("cb_name", name),
			slog.Int64("ref", ref),
			slog.Int("payload_bytes", len(payload)),
		)
	}
	return token, nil
}

// Decode parses a token without touching the store.
func (c *Codec) Decode(token string) (Token, error) {
	return Decode(token)
}

// Decode parses a token without touching the store.
func Decode(token string) (Token, error) {
	switch {
	case token == "":
		return Token{}, &MalformedTokenError{Token: token, Reason: "empty"}
	case len(token) > MaxTokenLen:
		return Token{}, &MalformedTokenError{Token: token, Reason: "longer than 64 bytes"}
	}
	idx := strings.IndexAny(token, "|#")
	if idx < 0 {
		return Token{Name: token}, nil
	}
	if idx == 0 {
		return Token{}, &MalformedTokenError{Token: token, Reason: "empty name"}
	}
	name, rest := token[:idx], token[idx+1:]
	if token[idx] == InlineSep {
		return Token{Name: name, Value: rest}, nil
	}
	if _, err := ParseRef(rest); err != nil {
		return Token{}, &MalformedTokenError{Token: token, Reason: "bad reference"}
	}
	return Token{Name: name, Value: rest, Reference: true}, nil
}

// Resolve returns the payload of tok, reading reference tokens from the
// store. A reference that is no longer stored yields ErrExpired.
func (c *Codec) Resolve(ctx context.Context, userID int64, tok Token) (string, error) {
	if !tok.Reference {
		return tok.Value, nil
	}
	ref, err := ParseRef(tok.Value)
	if err != nil {
		return "", &MalformedTokenError{Token: tok.Name + string(RefSep) + tok.Value, Reason: "bad reference"}
	}
	if c.store == nil {
		return "", ErrExpired
	}
	payload, ok, err := c.store.Get(ctx, userID, ref)
	if err != nil {
		return "", fmt.Errorf("load callback content: %w", err)
	}
	if !ok {
		metrics.CallbackExpired.Inc()
		return "", ErrExpired
	}
	return payload, nil
}

// FormatRef renders a reference id for a token.
func FormatRef(ref int64) string {
	return strconv.FormatInt(ref, 36)
}

// ParseRef parses a reference id rendered by FormatRef.
func ParseRef(s string) (int64, error) {
	if s == "" || len(s) > maxRefLen {
		return 0, fmt.Errorf("invalid reference %q", s)
	}
	ref, err := strconv.ParseInt(s, 36, 64)
	if err != nil || ref <= 0 {
		return 0, fmt.Errorf("invalid reference %q", s)
	}
	return ref, nil
}
