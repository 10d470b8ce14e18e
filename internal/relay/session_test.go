package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/protocol"
)

func rng(start, end int) *[2]int { return &[2]int{start, end} }

func TestNewEditSession_Scope(t *testing.T) {
	tests := []struct {
		name  string
		req   protocol.EditRequest
		base  string
		scope Scope
	}{
		{
			name:  "no selection is whole document",
			req:   protocol.EditRequest{Instruction: "fix"},
			base:  "draft",
			scope: WholeDocument(),
		},
		{
			name:  "explicit range",
			req:   protocol.EditRequest{Instruction: "fix", SelectedText: "hi", SelectionRange: rng(0, 2)},
			base:  "hi there",
			scope: Range(0, 2),
		},
		{
			name:  "range counted in utf16 units",
			req:   protocol.EditRequest{Instruction: "fix", SelectedText: "b", SelectionRange: rng(3, 4)},
			base:  "é😀b",
			scope: Range(6, 7),
		},
		{
			name:  "empty range inserts",
			req:   protocol.EditRequest{Instruction: "fix", SelectedText: "x", SelectionRange: rng(5, 5)},
			base:  "hello",
			scope: Range(5, 5),
		},
		{
			name:  "located by first occurrence",
			req:   protocol.EditRequest{Instruction: "fix", SelectedText: "there"},
			base:  "hi there, there",
			scope: Range(3, 8),
		},
		{
			name:  "range without selected text is ignored",
			req:   protocol.EditRequest{Instruction: "fix", SelectionRange: rng(0, 1)},
			base:  "abc",
			scope: WholeDocument(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewEditSession("conn", tt.req, tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.scope, s.Scope)
			assert.Equal(t, tt.base, s.Base)
			assert.Equal(t, StateIdle, s.State())
			assert.NotEmpty(t, s.ID)
		})
	}
}

func TestNewEditSession_InvalidSelection(t *testing.T) {
	tests := []struct {
		name string
		req  protocol.EditRequest
		base string
	}{
		{"start past end of base", protocol.EditRequest{SelectedText: "x", SelectionRange: rng(10, 12)}, "short"},
		{"negative start", protocol.EditRequest{SelectedText: "x", SelectionRange: rng(-1, 2)}, "short"},
		{"inverted", protocol.EditRequest{SelectedText: "x", SelectionRange: rng(3, 1)}, "short"},
		{"splits surrogate pair", protocol.EditRequest{SelectedText: "x", SelectionRange: rng(1, 2)}, "😀a"},
		{"text not in base", protocol.EditRequest{SelectedText: "missing"}, "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEditSession("conn", tt.req, tt.base)
			assert.ErrorIs(t, err, ErrInvalidSelection)
		})
	}
}

func TestEditSession_Final(t *testing.T) {
	s, err := NewEditSession("a", protocol.EditRequest{SelectedText: "hi", SelectionRange: rng(0, 2)}, "hi there")
	require.NoError(t, err)
	s.append("Good ")
	s.append("day")
	assert.Equal(t, "Good day", s.Accumulated())
	assert.Equal(t, "Good day there", s.Final())

	whole, err := NewEditSession("a", protocol.EditRequest{}, "draft")
	require.NoError(t, err)
	whole.append("final ")
	whole.append("text")
	assert.Equal(t, "final text", whole.Final())
}

func TestUTF16ToByteOffset(t *testing.T) {
	s := "a😀b"
	for units, want := range map[int]int{0: 0, 1: 1, 3: 5, 4: 6} {
		got, ok := utf16ToByteOffset(s, units)
		assert.True(t, ok, "units %d", units)
		assert.Equal(t, want, got, "units %d", units)
	}
	_, ok := utf16ToByteOffset(s, 2)
	assert.False(t, ok)
	_, ok = utf16ToByteOffset(s, 5)
	assert.False(t, ok)
}
