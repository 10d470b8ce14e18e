// Package llm abstracts the streaming text-generation backend.
//
// Relays depend only on Generator; the eino-backed implementation in this
// package adapts any eino chat model (OpenAI, Anthropic, ARK) to it.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Role is the speaker of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a client-supplied role name to a Role. Unrecognized names
// are treated as user turns.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSystem:
		return RoleSystem
	case RoleAssistant:
		return RoleAssistant
	default:
		return RoleUser
	}
}

// Message is one entry of a role-ordered prompt.
type Message struct {
	Role    Role
	Content string
}

// Options tune a single generation.
type Options struct {
	Temperature float32
	// MaxTokens of zero leaves the backend default in place.
	MaxTokens int
}

// Stream yields text fragments until it returns io.EOF or a backend error.
// Close releases the underlying connection and may be called at any time.
type Stream interface {
	Recv() (string, error)
	Close()
}

// Generator starts a streamed completion. Cancelling ctx aborts it.
type Generator interface {
	Generate(ctx context.Context, messages []Message, opts Options) (Stream, error)
}

// ErrUnavailable is returned when no backend is configured.
var ErrUnavailable = errors.New("text generation backend unavailable")

// Unavailable is a Generator that always fails. The server runs with it when
// no provider could be created, so AI requests fail per request instead of
// the process refusing to start.
type Unavailable struct {
	Reason error
}

// Generate fails with ErrUnavailable, joined with Reason when set.
func (u Unavailable) Generate(context.Context, []Message, Options) (Stream, error) {
	if u.Reason != nil {
		return nil, errors.Join(ErrUnavailable, u.Reason)
	}
	return nil, ErrUnavailable
}

// Collect drains s, calling onFragment for each fragment, and returns the
// concatenation. It stops at the first error other than io.EOF.
func Collect(s Stream, onFragment func(string)) (string, error) {
	defer s.Close()

	var b strings.Builder
	for {
		fragment, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
	}
}
