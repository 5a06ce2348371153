// Package memory defines the captured-note document shared by the store
// and the index manager.
package memory

import (
	"strings"
	"time"
)

// Memory is one captured note. Only derived statistics ever reach the
// index; the source text lives in the store.
type Memory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Tags      []string  `json:"tags,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// IndexableText flattens the memory's salient fields in a fixed order
// (content, type, tags, source) so indexing is deterministic across
// rebuilds.
func (m Memory) IndexableText() string {
	parts := make([]string, 0, 3+len(m.Tags))
	if m.Content != "" {
		parts = append(parts, m.Content)
	}
	if m.Type != "" {
		parts = append(parts, m.Type)
	}
	parts = append(parts, m.Tags...)
	if m.Source != "" {
		parts = append(parts, m.Source)
	}
	return strings.Join(parts, " ")
}
