// Package llmtest provides a scripted llm.Generator for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/llm"
)

// Call records one Generate invocation.
type Call struct {
	Messages []llm.Message
	Options  llm.Options
}

// Generator replays Fragments on every call. When OpenErr is set Generate
// fails; when StreamErr is set the stream fails after FailAfter fragments.
// A non-nil Gate is received from before the first fragment.
type Generator struct {
	Fragments []string
	OpenErr   error
	StreamErr error
	FailAfter int
	Gate      chan struct{}

	mu    sync.Mutex
	calls []Call
}

// New returns a Generator that streams fragments.
func New(fragments ...string) *Generator {
	return &Generator{Fragments: fragments}
}

func (g *Generator) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	g.mu.Lock()
	g.calls = append(g.calls, Call{Messages: append([]llm.Message(nil), messages...), Options: opts})
	g.mu.Unlock()

	if g.OpenErr != nil {
		return nil, g.OpenErr
	}
	fragments := g.Fragments
	if g.StreamErr != nil && g.FailAfter < len(fragments) {
		fragments = fragments[:g.FailAfter]
	}
	return &stream{ctx: ctx, fragments: fragments, err: g.StreamErr, gate: g.Gate}, nil
}

// Calls returns every recorded invocation.
func (g *Generator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallCount returns the number of Generate invocations.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type stream struct {
	ctx       context.Context
	fragments []string
	err       error
	gate      chan struct{}
}

func (s *stream) Recv() (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
		s.gate = nil
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *stream) Close() {}
