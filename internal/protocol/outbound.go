package protocol

import (
	"encoding/json"
	"time"
)

// Outbound kinds.
const (
	KindDocumentSync       Kind = "document-sync"
	KindChatStreamStart    Kind = "chat-stream-start"
	KindChatStreamChunk    Kind = "chat-stream-chunk"
	KindChatStreamComplete Kind = "chat-stream-complete"
	KindChatError          Kind = "chat-error"
	KindAICommentary       Kind = "ai-commentary"
	KindEditStreamStart    Kind = "ai-edit-stream-start"
	KindEditStreamChunk    Kind = "ai-edit-stream-chunk"
	KindEditStreamComplete Kind = "ai-edit-stream-complete"
	KindEditError          Kind = "ai-edit-error"
	KindError              Kind = "error"
)

// now is replaced in tests.
var now = time.Now

func timestamp() int64 { return now().UnixMilli() }

type documentSyncFrame struct {
	Type      Kind   `json:"type"`
	Content   string `json:"content"`
	Version   uint64 `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

type documentUpdateFrame struct {
	Type           Kind       `json:"type"`
	Content        string     `json:"content"`
	CursorPosition *int       `json:"cursorPosition,omitempty"`
	Selection      *Selection `json:"selection,omitempty"`
	SenderID       string     `json:"senderId"`
	Timestamp      int64      `json:"timestamp"`
}

type streamMarkFrame struct {
	Type      Kind  `json:"type"`
	Timestamp int64 `json:"timestamp"`
}

type chunkFrame struct {
	Type      Kind   `json:"type"`
	Chunk     string `json:"chunk"`
	Timestamp int64  `json:"timestamp"`
}

type chatCompleteFrame struct {
	Type         Kind   `json:"type"`
	FullResponse string `json:"fullResponse"`
	Timestamp    int64  `json:"timestamp"`
}

type commentaryFrame struct {
	Type       Kind   `json:"type"`
	Commentary string `json:"commentary"`
	Timestamp  int64  `json:"timestamp"`
}

type editCompleteFrame struct {
	Type                Kind   `json:"type"`
	EditedContent       string `json:"editedContent"`
	FinalContent        string `json:"finalContent"`
	OriginalInstruction string `json:"originalInstruction"`
	Timestamp           int64  `json:"timestamp"`
}

type errorFrame struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

// The frame types above hold only strings, ints and pointers to them, so
// json.Marshal cannot fail on them.
func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("protocol: encode frame: " + err.Error())
	}
	return b
}

// DocumentSync is the snapshot sent to a connection when it joins.
func DocumentSync(content string, version uint64) []byte {
	return marshal(documentSyncFrame{
		Type:      KindDocumentSync,
		Content:   content,
		Version:   version,
		Timestamp: timestamp(),
	})
}

// DocumentUpdateFrom relays a user edit, echoing its caret information.
func DocumentUpdateFrom(u DocumentUpdate, senderID string) []byte {
	return marshal(documentUpdateFrame{
		Type:           KindDocumentUpdate,
		Content:        u.Content,
		CursorPosition: u.CursorPosition,
		Selection:      u.Selection,
		SenderID:       senderID,
		Timestamp:      timestamp(),
	})
}

// DocumentReplaced announces content written on behalf of senderID.
func DocumentReplaced(content, senderID string) []byte {
	return marshal(documentUpdateFrame{
		Type:      KindDocumentUpdate,
		Content:   content,
		SenderID:  senderID,
		Timestamp: timestamp(),
	})
}

// ChatStreamStart opens a chat reply.
func ChatStreamStart() []byte {
	return marshal(streamMarkFrame{Type: KindChatStreamStart, Timestamp: timestamp()})
}

// ChatStreamChunk carries one fragment of a chat reply.
func ChatStreamChunk(chunk string) []byte {
	return marshal(chunkFrame{Type: KindChatStreamChunk, Chunk: chunk, Timestamp: timestamp()})
}

// ChatStreamComplete closes a chat reply with the whole text.
func ChatStreamComplete(fullResponse string) []byte {
	return marshal(chatCompleteFrame{
		Type:         KindChatStreamComplete,
		FullResponse: fullResponse,
		Timestamp:    timestamp(),
	})
}

// ChatError ends a chat exchange that failed.
func ChatError(message string) []byte {
	return marshal(errorFrame{Type: KindChatError, Message: message})
}

// AICommentary is the remark broadcast after editing pauses.
func AICommentary(commentary string) []byte {
	return marshal(commentaryFrame{
		Type:       KindAICommentary,
		Commentary: commentary,
		Timestamp:  timestamp(),
	})
}

// EditStreamStart opens an edit session.
func EditStreamStart() []byte {
	return marshal(streamMarkFrame{Type: KindEditStreamStart, Timestamp: timestamp()})
}

// EditStreamChunk carries one fragment of the replacement text.
func EditStreamChunk(chunk string) []byte {
	return marshal(chunkFrame{Type: KindEditStreamChunk, Chunk: chunk, Timestamp: timestamp()})
}

// EditStreamComplete reports the streamed text and the document it produced.
func EditStreamComplete(edited, final, instruction string) []byte {
	return marshal(editCompleteFrame{
		Type:                KindEditStreamComplete,
		EditedContent:       edited,
		FinalContent:        final,
		OriginalInstruction: instruction,
		Timestamp:           timestamp(),
	})
}

// EditError ends an edit session that failed; the document is unchanged.
func EditError(message string) []byte {
	return marshal(errorFrame{Type: KindEditError, Message: message})
}

// Error is the generic failure frame for a request that could not be processed.
func Error(message string) []byte {
	return marshal(errorFrame{Type: KindError, Message: message})
}
