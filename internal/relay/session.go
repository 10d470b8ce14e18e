package relay

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/oklog/ulid/v2"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/protocol"
)

// ErrInvalidSelection is returned when the requested range cannot be mapped
// onto the base text.
var ErrInvalidSelection = errors.New("invalid selection")

// Scope is the part of the base text an edit replaces. The zero value is the
// whole document.
type Scope struct {
	Range bool
	// Start and End are byte offsets into the session's base text.
	Start, End int
}

// WholeDocument returns the scope replacing all of the base text.
func WholeDocument() Scope { return Scope{} }

// Range returns the scope replacing base[start:end].
func Range(start, end int) Scope { return Scope{Range: true, Start: start, End: end} }

func (s Scope) String() string {
	if !s.Range {
		return "document"
	}
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// State is the lifecycle of an EditSession.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EditSession tracks one accepted edit request. Base and Scope are fixed at
// creation; the store is never re-read while the session is alive.
type EditSession struct {
	ID           string
	ConnID       string
	Instruction  string
	SelectedText string
	Scope        Scope
	Base         string

	accumulated strings.Builder
	state       State
}

// NewEditSession resolves req against base. The scope is a range whenever
// SelectedText is non-empty: taken from SelectionRange when present, else
// the first occurrence of SelectedText in base.
func NewEditSession(connID string, req protocol.EditRequest, base string) (*EditSession, error) {
	s := &EditSession{
		ID:           ulid.Make().String(),
		ConnID:       connID,
		Instruction:  req.Instruction,
		SelectedText: req.SelectedText,
		Base:         base,
	}
	if req.SelectedText == "" {
		return s, nil
	}

	if req.SelectionRange != nil {
		start, ok := utf16ToByteOffset(base, req.SelectionRange[0])
		if !ok {
			return nil, fmt.Errorf("%w: start %d outside document", ErrInvalidSelection, req.SelectionRange[0])
		}
		end, ok := utf16ToByteOffset(base, req.SelectionRange[1])
		if !ok {
			return nil, fmt.Errorf("%w: end %d outside document", ErrInvalidSelection, req.SelectionRange[1])
		}
		if start > end {
			return nil, fmt.Errorf("%w: start after end", ErrInvalidSelection)
		}
		s.Scope = Range(start, end)
		return s, nil
	}

	start := strings.Index(base, req.SelectedText)
	if start < 0 {
		return nil, fmt.Errorf("%w: selected text not found", ErrInvalidSelection)
	}
	s.Scope = Range(start, start+len(req.SelectedText))
	return s, nil
}

// State returns the session's lifecycle state.
func (s *EditSession) State() State { return s.state }

func (s *EditSession) begin() { s.state = StateStreaming }

func (s *EditSession) append(fragment string) { s.accumulated.WriteString(fragment) }

func (s *EditSession) fail() { s.state = StateError }

func (s *EditSession) complete() { s.state = StateComplete }

// Accumulated is the text streamed so far.
func (s *EditSession) Accumulated() string { return s.accumulated.String() }

// Final splices the streamed text into the base according to the scope.
func (s *EditSession) Final() string {
	if !s.Scope.Range {
		return s.Accumulated()
	}
	return s.Base[:s.Scope.Start] + s.Accumulated() + s.Base[s.Scope.End:]
}

// utf16ToByteOffset maps an offset counted in UTF-16 code units onto s. It
// fails for negative offsets, offsets past the end and offsets that split a
// surrogate pair.
func utf16ToByteOffset(s string, units int) (int, bool) {
	if units < 0 {
		return 0, false
	}
	count := 0
	for i, r := range s {
		if count == units {
			return i, true
		}
		if count > units {
			return 0, false
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		count += n
	}
	if count == units {
		return len(s), true
	}
	return 0, false
}
