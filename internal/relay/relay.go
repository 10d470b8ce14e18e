// Package relay streams AI generations back to the connection that asked
// for them: free-form chat, and document edits that are written back into
// the shared document.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/document"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/llm"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/logging"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/metrics"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/protocol"
)

// DefaultHistoryLimit is how many prior chat turns are sent to the backend.
const DefaultHistoryLimit = 10

const (
	chatFailure = "Failed to process chat message"
	editFailure = "Failed to process edit request"
)

// Sender delivers a frame to one connection.
type Sender interface {
	SendTo(id string, frame []byte)
}

// Broadcaster delivers to one connection or to all of them.
type Broadcaster interface {
	Sender
	BroadcastAll(frame []byte)
}

// ChatRelay answers chat messages with the document as context.
type ChatRelay struct {
	generator    llm.Generator
	docs         *document.Store
	out          Sender
	historyLimit int
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// NewChatRelay returns a ChatRelay. A historyLimit below one uses DefaultHistoryLimit.
func NewChatRelay(generator llm.Generator, docs *document.Store, out Sender, historyLimit int, m *metrics.Metrics) *ChatRelay {
	if historyLimit < 1 {
		historyLimit = DefaultHistoryLimit
	}
	return &ChatRelay{
		generator:    generator,
		docs:         docs,
		out:          out,
		historyLimit: historyLimit,
		metrics:      m,
		log:          logging.Component("chat"),
	}
}

// Handle streams the reply to connID. Failures end the exchange with a
// single chat-error frame.
func (r *ChatRelay) Handle(ctx context.Context, connID string, msg protocol.ChatMessage) {
	start := time.Now()
	full, err := r.stream(ctx, connID, msg)
	if err != nil {
		r.metrics.StreamFinished("chat", "error", time.Since(start))
		r.log.Error().Err(err).Str("conn", connID).Msg("chat failed")
		r.out.SendTo(connID, protocol.ChatError(chatFailure))
		return
	}
	r.metrics.StreamFinished("chat", "ok", time.Since(start))
	r.out.SendTo(connID, protocol.ChatStreamComplete(full))
}

func (r *ChatRelay) stream(ctx context.Context, connID string, msg protocol.ChatMessage) (string, error) {
	stream, err := r.generator.Generate(ctx, r.prompt(msg), llm.Options{Temperature: 0.7})
	if err != nil {
		return "", fmt.Errorf("start chat stream: %w", err)
	}

	r.out.SendTo(connID, protocol.ChatStreamStart())
	return llm.Collect(stream, func(fragment string) {
		r.metrics.Fragment("chat")
		r.out.SendTo(connID, protocol.ChatStreamChunk(fragment))
	})
}

func (r *ChatRelay) prompt(msg protocol.ChatMessage) []llm.Message {
	content := r.docs.Content()
	if content == "" {
		content = "No document content yet."
	}

	history := msg.ConversationHistory
	if len(history) > r.historyLimit {
		history = history[len(history)-r.historyLimit:]
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role: llm.RoleSystem,
		Content: "You are an AI assistant that helps with document editing and general chat.\n" +
			"Current document content: " + content + "\n\n" +
			"Provide helpful responses and when discussing document edits, be specific about suggestions.",
	})
	for _, h := range history {
		messages = append(messages, llm.Message{Role: llm.ParseRole(h.Role), Content: h.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: msg.Message})
}

const editSystemPrompt = `You are an AI document editor. When given editing instructions, provide the edited content directly.
Output only the edited text, with no commentary or quotation marks.
Be precise and maintain the document's style and format while implementing the requested changes.`

// EditRelay rewrites the document, or a range of it, and applies the result.
type EditRelay struct {
	generator llm.Generator
	docs      *document.Store
	out       Broadcaster
	metrics   *metrics.Metrics
	log       zerolog.Logger

	onApplied func(content string, version uint64)
}

// NewEditRelay returns an EditRelay.
func NewEditRelay(generator llm.Generator, docs *document.Store, out Broadcaster, m *metrics.Metrics) *EditRelay {
	return &EditRelay{
		generator: generator,
		docs:      docs,
		out:       out,
		metrics:   m,
		log:       logging.Component("edit"),
	}
}

// OnApplied registers fn to run after an edit result has been stored and
// broadcast. fn runs before any later write is accepted and must not write
// to the store.
func (r *EditRelay) OnApplied(fn func(content string, version uint64)) {
	r.onApplied = fn
}

// Handle runs one edit session for connID. On success the spliced document
// is stored, broadcast to every connection including the requester, and
// reported to the requester. On failure the requester gets one
// ai-edit-error and the store is left alone.
func (r *EditRelay) Handle(ctx context.Context, connID string, req protocol.EditRequest) {
	base := r.docs.Content()
	if req.DocumentContext != nil {
		base = *req.DocumentContext
	}

	session, err := NewEditSession(connID, req, base)
	if err != nil {
		r.log.Warn().Err(err).Str("conn", connID).Msg("edit request rejected")
		r.out.SendTo(connID, protocol.EditError("Could not locate the selected text in the document"))
		return
	}
	log := r.log.With().Str("session", session.ID).Str("conn", connID).Stringer("scope", session.Scope).Logger()

	start := time.Now()
	if err := r.stream(ctx, session); err != nil {
		session.fail()
		r.metrics.StreamFinished("edit", "error", time.Since(start))
		log.Error().Err(err).Msg("edit failed")
		r.out.SendTo(connID, protocol.EditError(editFailure))
		return
	}
	r.metrics.StreamFinished("edit", "ok", time.Since(start))

	final := session.Final()
	version := r.docs.Commit(final, connID, document.SourceAIEdit, func(version uint64) {
		r.out.BroadcastAll(protocol.DocumentReplaced(final, connID))
		if r.onApplied != nil {
			r.onApplied(final, version)
		}
	})
	r.out.SendTo(connID, protocol.EditStreamComplete(session.Accumulated(), final, session.Instruction))
	session.complete()
	log.Info().Uint64("version", version).Msg("edit applied")
}

func (r *EditRelay) stream(ctx context.Context, s *EditSession) error {
	stream, err := r.generator.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: editSystemPrompt},
		{Role: llm.RoleUser, Content: editPrompt(s)},
	}, llm.Options{Temperature: 0.3})
	if err != nil {
		return fmt.Errorf("start edit stream: %w", err)
	}

	s.begin()
	r.out.SendTo(s.ConnID, protocol.EditStreamStart())
	_, err = llm.Collect(stream, func(fragment string) {
		s.append(fragment)
		r.metrics.Fragment("edit")
		r.out.SendTo(s.ConnID, protocol.EditStreamChunk(fragment))
	})
	return err
}

func editPrompt(s *EditSession) string {
	if s.SelectedText != "" {
		return fmt.Sprintf("Edit this selected text: %q based on the instruction: %q.\nDocument context: %s",
			s.SelectedText, s.Instruction, s.Base)
	}
	return fmt.Sprintf("Edit the entire document based on this instruction: %q.\nCurrent document: %s",
		s.Instruction, s.Base)
}
