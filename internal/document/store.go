// Package document holds the single shared document and its edit history.
package document

import (
	"sync"
	"time"
)

// Source tags who produced a history entry.
type Source string

const (
	SourceUser   Source = "user"
	SourceAIEdit Source = "ai-edit"
)

// HistoryEntry records one accepted write.
type HistoryEntry struct {
	Version   uint64    `json:"version"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	EditorID  string    `json:"editorId,omitempty"`
}

// Snapshot is a consistent copy of the current state.
type Snapshot struct {
	Content      string    `json:"content"`
	Version      uint64    `json:"version"`
	LastEditorID string    `json:"lastEditorId,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store owns the document. Every write replaces the whole content; there is
// no merging, the last write wins.
type Store struct {
	// commitMu orders writes together with their announcements. mu only
	// guards the fields, so readers are never held up by a publish.
	commitMu sync.Mutex

	mu           sync.RWMutex
	content      string
	version      uint64
	lastEditorID string
	updatedAt    time.Time
	history      []HistoryEntry

	now func() time.Time
}

// NewStore returns an empty document at version 0.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// ApplyUpdate stores content written by a user and returns the new version.
func (s *Store) ApplyUpdate(content, editorID string) uint64 {
	return s.Commit(content, editorID, SourceUser, nil)
}

// ApplyEditResult stores content produced by an AI edit and returns the new version.
func (s *Store) ApplyEditResult(content, editorID string) uint64 {
	return s.Commit(content, editorID, SourceAIEdit, nil)
}

// Commit stores content and then calls publish with the new version before
// any other write can start. Announcements made from publish therefore go
// out in version order and the last one always matches the stored content.
// publish may read the store but must not write to it.
func (s *Store) Commit(content, editorID string, source Source, publish func(version uint64)) uint64 {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	version := s.apply(content, editorID, source)
	if publish != nil {
		publish(version)
	}
	return version
}

func (s *Store) apply(content, editorID string, source Source) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	s.version++
	s.content = content
	s.lastEditorID = editorID
	s.updatedAt = ts
	s.history = append(s.history, HistoryEntry{
		Version:   s.version,
		Content:   content,
		Timestamp: ts,
		Source:    source,
		EditorID:  editorID,
	})
	return s.version
}

// Snapshot returns the current content and version.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Content:      s.content,
		Version:      s.version,
		LastEditorID: s.lastEditorID,
		UpdatedAt:    s.updatedAt,
	}
}

// Content is shorthand for Snapshot().Content.
func (s *Store) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content
}

// History returns a copy of every write in order.
func (s *Store) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}
