// Package protocol defines the JSON envelopes exchanged over a connection.
//
// Every envelope is an object with a string "type" tag. Inbound envelopes
// decode into a closed set of Go types implementing Inbound; a tag outside
// that set decodes to Unknown so callers can count it instead of guessing.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the envelope "type" tag.
type Kind string

// Inbound kinds.
const (
	KindDocumentUpdate Kind = "document-update"
	KindChatMessage    Kind = "chat-message"
	KindEditRequest    Kind = "ai-document-edit-request"
)

var (
	// ErrMalformed reports bytes that are not a JSON object.
	ErrMalformed = errors.New("malformed envelope")
	// ErrMissingType reports an envelope without a "type" tag.
	ErrMissingType = errors.New("envelope has no type")
	// ErrInvalidPayload reports a recognized kind whose fields are unusable.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Inbound is implemented only by the types in this file.
type Inbound interface {
	Kind() Kind
	sealed()
}

// Selection is a caret range as reported by a text area.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DocumentUpdate replaces the shared document with Content.
type DocumentUpdate struct {
	Content        string
	CursorPosition *int
	Selection      *Selection
}

// HistoryMessage is one prior chat turn supplied by the client.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessage asks the assistant a question about the document.
type ChatMessage struct {
	Message             string
	ConversationHistory []HistoryMessage
}

// EditRequest asks the assistant to rewrite the selection or the whole document.
type EditRequest struct {
	Instruction  string
	SelectedText string
	// DocumentContext is the client's copy of the document, nil when omitted.
	DocumentContext *string
	// SelectionRange holds [start, end) in UTF-16 code units, nil when omitted.
	SelectionRange *[2]int
}

// Unknown carries a tag this server does not handle.
type Unknown struct {
	Type string
}

func (DocumentUpdate) Kind() Kind { return KindDocumentUpdate }
func (ChatMessage) Kind() Kind { return KindChatMessage }
func (EditRequest) Kind() Kind { return KindEditRequest }
func (u Unknown) Kind() Kind { return Kind(u.Type) }

func (DocumentUpdate) sealed() {}
func (ChatMessage) sealed() {}
func (EditRequest) sealed() {}
func (Unknown) sealed() {}

type envelope struct {
	Type string `json:"type"`
}

type documentUpdateWire struct {
	Content        *string    `json:"content"`
	CursorPosition *int       `json:"cursorPosition"`
	Selection      *Selection `json:"selection"`
}

type chatMessageWire struct {
	Message             string           `json:"message"`
	ConversationHistory []HistoryMessage `json:"conversationHistory"`
}

type editRequestWire struct {
	Instruction     string     `json:"instruction"`
	SelectedText    string     `json:"selectedText"`
	DocumentContext *string    `json:"documentContext"`
	SelectionRange  []int      `json:"selectionRange"`
	Selection       *Selection `json:"selection"`
}

// Decode parses one inbound frame.
//
// Errors wrap ErrMalformed or ErrMissingType when the envelope itself is
// unreadable, and ErrInvalidPayload when the kind is known but its fields
// are not. An unrecognized tag is not an error.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch Kind(env.Type) {
	case KindDocumentUpdate:
		return decodeDocumentUpdate(data)
	case KindChatMessage:
		return decodeChatMessage(data)
	case KindEditRequest:
		return decodeEditRequest(data)
	default:
		return Unknown{Type: env.Type}, nil
	}
}

func decodeDocumentUpdate(data []byte) (Inbound, error) {
	var w documentUpdateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, invalid(KindDocumentUpdate, err.Error())
	}
	if w.Content == nil {
		return nil, invalid(KindDocumentUpdate, "content is required")
	}
	return DocumentUpdate{
		Content:        *w.Content,
		CursorPosition: w.CursorPosition,
		Selection:      w.Selection,
	}, nil
}

func decodeChatMessage(data []byte) (Inbound, error) {
	var w chatMessageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, invalid(KindChatMessage, err.Error())
	}
	if strings.TrimSpace(w.Message) == "" {
		return nil, invalid(KindChatMessage, "message is required")
	}
	return ChatMessage{
		Message:             w.Message,
		ConversationHistory: w.ConversationHistory,
	}, nil
}

func decodeEditRequest(data []byte) (Inbound, error) {
	var w editRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, invalid(KindEditRequest, err.Error())
	}
	if strings.TrimSpace(w.Instruction) == "" {
		return nil, invalid(KindEditRequest, "instruction is required")
	}

	req := EditRequest{
		Instruction:     w.Instruction,
		SelectedText:    w.SelectedText,
		DocumentContext: w.DocumentContext,
	}
	switch {
	case w.SelectionRange != nil:
		if len(w.SelectionRange) != 2 {
			return nil, invalid(KindEditRequest, "selectionRange must have two elements")
		}
		req.SelectionRange = &[2]int{w.SelectionRange[0], w.SelectionRange[1]}
	case w.Selection != nil:
		req.SelectionRange = &[2]int{w.Selection.Start, w.Selection.End}
	}
	return req, nil
}

func invalid(kind Kind, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, kind, reason)
}
