package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/document"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/llm"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/llm/llmtest"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/protocol"
)

type frame map[string]any

// outbox records frames per destination; broadcasts go under "*".
type outbox struct {
	mu     sync.Mutex
	frames map[string][]frame
}

func newOutbox() *outbox { return &outbox{frames: make(map[string][]frame)} }

func (o *outbox) SendTo(id string, b []byte) { o.add(id, b) }

func (o *outbox) BroadcastAll(b []byte) { o.add("*", b) }

func (o *outbox) add(dest string, b []byte) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		panic(err)
	}
	o.mu.Lock()
	o.frames[dest] = append(o.frames[dest], f)
	o.mu.Unlock()
}

func (o *outbox) types(dest string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, f := range o.frames[dest] {
		out = append(out, f["type"].(string))
	}
	return out
}

func (o *outbox) get(dest string, i int) frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames[dest][i]
}

func strptr(s string) *string { return &s }

func TestChatRelay_StreamsToRequester(t *testing.T) {
	docs := document.NewStore()
	docs.ApplyUpdate("My essay", "b")
	gen := llmtest.New("Hel", "lo")
	out := newOutbox()
	relay := NewChatRelay(gen, docs, out, 0, nil)

	relay.Handle(context.Background(), "a", protocol.ChatMessage{
		Message: "thoughts?",
		ConversationHistory: []protocol.HistoryMessage{
			{Role: "user", Content: "earlier"},
			{Role: "assistant", Content: "reply"},
		},
	})

	assert.Equal(t, []string{"chat-stream-start", "chat-stream-chunk", "chat-stream-chunk", "chat-stream-complete"}, out.types("a"))
	assert.Equal(t, "Hel", out.get("a", 1)["chunk"])
	assert.Equal(t, "lo", out.get("a", 2)["chunk"])
	assert.Equal(t, "Hello", out.get("a", 3)["fullResponse"])
	assert.Empty(t, out.types("*"))

	call := gen.Calls()[0]
	require.Len(t, call.Messages, 4)
	assert.Equal(t, llm.RoleSystem, call.Messages[0].Role)
	assert.Contains(t, call.Messages[0].Content, "Current document content: My essay")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "earlier"}, call.Messages[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "reply"}, call.Messages[2])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "thoughts?"}, call.Messages[3])
	assert.InDelta(t, 0.7, call.Options.Temperature, 1e-6)
}

func TestChatRelay_EmptyDocumentAndHistoryLimit(t *testing.T) {
	gen := llmtest.New("ok")
	relay := NewChatRelay(gen, document.NewStore(), newOutbox(), 3, nil)

	var history []protocol.HistoryMessage
	for i := 0; i < 8; i++ {
		history = append(history, protocol.HistoryMessage{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	relay.Handle(context.Background(), "a", protocol.ChatMessage{Message: "now", ConversationHistory: history})

	msgs := gen.Calls()[0].Messages
	require.Len(t, msgs, 5)
	assert.Contains(t, msgs[0].Content, "No document content yet.")
	assert.Equal(t, "m5", msgs[1].Content)
	assert.Equal(t, "m7", msgs[3].Content)
	assert.Equal(t, "now", msgs[4].Content)
}

func TestChatRelay_Failures(t *testing.T) {
	tests := []struct {
		name  string
		gen   *llmtest.Generator
		types []string
	}{
		{
			name:  "backend refuses",
			gen:   &llmtest.Generator{OpenErr: llm.ErrUnavailable},
			types: []string{"chat-error"},
		},
		{
			name:  "fails mid stream",
			gen:   &llmtest.Generator{Fragments: []string{"par", "tial"}, FailAfter: 1, StreamErr: errors.New("reset")},
			types: []string{"chat-stream-start", "chat-stream-chunk", "chat-error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newOutbox()
			NewChatRelay(tt.gen, document.NewStore(), out, 0, nil).
				Handle(context.Background(), "a", protocol.ChatMessage{Message: "hi"})

			assert.Equal(t, tt.types, out.types("a"))
			last := out.get("a", len(tt.types)-1)
			assert.Equal(t, "Failed to process chat message", last["message"])
		})
	}
}

func TestEditRelay_RangeSplice(t *testing.T) {
	docs := document.NewStore()
	docs.ApplyUpdate("hi there", "a")
	gen := llmtest.New("Good ", "day")
	out := newOutbox()
	relay := NewEditRelay(gen, docs, out, nil)

	var applied string
	relay.OnApplied(func(content string, version uint64) {
		applied = content
		assert.Equal(t, uint64(2), version)
	})

	relay.Handle(context.Background(), "a", protocol.EditRequest{
		Instruction:     "make formal",
		SelectedText:    "hi",
		DocumentContext: strptr("hi there"),
		SelectionRange:  rng(0, 2),
	})

	assert.Equal(t, []string{"ai-edit-stream-start", "ai-edit-stream-chunk", "ai-edit-stream-chunk", "ai-edit-stream-complete"}, out.types("a"))
	complete := out.get("a", 3)
	assert.Equal(t, "Good day", complete["editedContent"])
	assert.Equal(t, "Good day there", complete["finalContent"])
	assert.Equal(t, "make formal", complete["originalInstruction"])

	require.Equal(t, []string{"document-update"}, out.types("*"))
	update := out.get("*", 0)
	assert.Equal(t, "Good day there", update["content"])
	assert.Equal(t, "a", update["senderId"])

	snap := docs.Snapshot()
	assert.Equal(t, "Good day there", snap.Content)
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, document.SourceAIEdit, docs.History()[1].Source)
	assert.Equal(t, "Good day there", applied)

	call := gen.Calls()[0]
	assert.Contains(t, call.Messages[1].Content, `Edit this selected text: "hi"`)
	assert.Contains(t, call.Messages[1].Content, `"make formal"`)
	assert.InDelta(t, 0.3, call.Options.Temperature, 1e-6)
}

func TestEditRelay_WholeDocument(t *testing.T) {
	docs := document.NewStore()
	docs.ApplyUpdate("something else", "b")
	gen := llmtest.New("final ", "text")
	out := newOutbox()

	NewEditRelay(gen, docs, out, nil).Handle(context.Background(), "a", protocol.EditRequest{
		Instruction:     "rewrite",
		DocumentContext: strptr("draft"),
	})

	assert.Equal(t, "final text", docs.Content())
	assert.Equal(t, "final text", out.get("*", 0)["content"])
	assert.Contains(t, gen.Calls()[0].Messages[1].Content, "Current document: draft")
}

func TestEditRelay_EmptyWholeDocumentResultClears(t *testing.T) {
	docs := document.NewStore()
	docs.ApplyUpdate("hi there", "b")
	out := newOutbox()

	NewEditRelay(llmtest.New(), docs, out, nil).Handle(context.Background(), "a", protocol.EditRequest{
		Instruction: "delete everything",
	})

	assert.Equal(t, []string{"ai-edit-stream-start", "ai-edit-stream-complete"}, out.types("a"))
	assert.Equal(t, "", out.get("a", 1)["editedContent"])
	require.Equal(t, []string{"document-update"}, out.types("*"))
	assert.Equal(t, "", out.get("*", 0)["content"])

	snap := docs.Snapshot()
	assert.Equal(t, "", snap.Content)
	assert.Equal(t, uint64(2), snap.Version)
}

// gatedOutbox holds the first BroadcastAll until release is closed.
type gatedOutbox struct {
	*outbox
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (o *gatedOutbox) BroadcastAll(b []byte) {
	o.once.Do(func() {
		close(o.entered)
		<-o.release
	})
	o.outbox.BroadcastAll(b)
}

func TestEditRelay_UserWriteWaitsForEditBroadcast(t *testing.T) {
	docs := document.NewStore()
	docs.ApplyUpdate("hi there", "b")
	out := &gatedOutbox{outbox: newOutbox(), entered: make(chan struct{}), release: make(chan struct{})}

	var applied []string
	relay := NewEditRelay(llmtest.New("hello"), docs, out, nil)
	relay.OnApplied(func(content string, _ uint64) { applied = append(applied, content) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Handle(context.Background(), "a", protocol.EditRequest{Instruction: "x", SelectedText: "hi"})
	}()
	<-out.entered

	written := make(chan struct{})
	go func() {
		docs.ApplyUpdate("user text", "b")
		close(written)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "hello there", docs.Content())

	close(out.release)
	<-done
	<-written

	assert.Equal(t, "user text", docs.Content())
	assert.Equal(t, uint64(3), docs.Snapshot().Version)
	assert.Equal(t, []string{"hello there"}, applied)
	assert.Equal(t, "hello there", out.get("*", 0)["content"])
}

func TestEditRelay_BaseDefaultsToStore(t *testing.T) {
	docs := document.NewStore()
	docs.ApplyUpdate("one two three", "b")
	out := newOutbox()

	NewEditRelay(llmtest.New("2"), docs, out, nil).Handle(context.Background(), "a", protocol.EditRequest{
		Instruction:  "digits",
		SelectedText: "two",
	})

	assert.Equal(t, "one 2 three", docs.Content())
}

func TestEditRelay_FailureLeavesStoreUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		gen   *llmtest.Generator
		req   protocol.EditRequest
		types []string
	}{
		{
			name:  "mid stream",
			gen:   &llmtest.Generator{Fragments: []string{"Good ", "day"}, FailAfter: 1, StreamErr: errors.New("reset")},
			req:   protocol.EditRequest{Instruction: "formal", SelectedText: "hi", SelectionRange: rng(0, 2)},
			types: []string{"ai-edit-stream-start", "ai-edit-stream-chunk", "ai-edit-error"},
		},
		{
			name:  "backend refuses",
			gen:   &llmtest.Generator{OpenErr: llm.ErrUnavailable},
			req:   protocol.EditRequest{Instruction: "formal"},
			types: []string{"ai-edit-error"},
		},
		{
			name:  "unlocatable selection",
			gen:   llmtest.New("x"),
			req:   protocol.EditRequest{Instruction: "formal", SelectedText: "nope"},
			types: []string{"ai-edit-error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := document.NewStore()
			docs.ApplyUpdate("hi there", "b")
			before := docs.Snapshot()
			out := newOutbox()

			NewEditRelay(tt.gen, docs, out, nil).Handle(context.Background(), "a", tt.req)

			assert.Equal(t, tt.types, out.types("a"))
			assert.Empty(t, out.types("*"))
			assert.Equal(t, before, docs.Snapshot())
			assert.Len(t, docs.History(), 1)
		})
	}
}

func TestEditRelay_UnlocatableSelectionSkipsBackend(t *testing.T) {
	gen := llmtest.New("x")
	NewEditRelay(gen, document.NewStore(), newOutbox(), nil).Handle(context.Background(), "a", protocol.EditRequest{
		Instruction:    "formal",
		SelectedText:   "hi",
		SelectionRange: rng(4, 9),
	})
	assert.Equal(t, 0, gen.CallCount())
}
