// Package models defines the domain types for Laguz.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Limits applied before any note content is persisted or transmitted.
const (
	MaxTitleLen   = 255
	MaxContentLen = 2_000_000
)

// TempIDPrefix marks locally-generated ids of notes the server has not
// confirmed yet.
const TempIDPrefix = "temp-"

// Note is the central entity: a rich-text note in the remote notepad.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Parent    string    `json:"parent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Temporary is true while the note exists only in the local cache and
	// has not been confirmed by the server.
	Temporary bool `json:"temporary,omitempty"`

	// Starter marks the tutorial note created once per account.
	Starter bool `json:"starter,omitempty"`
}

// NotePatch carries a partial update. Nil fields are left untouched.
type NotePatch struct {
	Title   *string   `json:"title,omitempty"`
	Content *string   `json:"content,omitempty"`
	Tags    *[]string `json:"tags,omitempty"`
	Parent  *string   `json:"parent,omitempty"`
}

// Apply shallow-merges the patch into n and stamps UpdatedAt.
func (p NotePatch) Apply(n *Note, now time.Time) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Tags != nil {
		n.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Parent != nil {
		n.Parent = *p.Parent
	}
	n.UpdatedAt = now
}

// NewTempID returns a fresh client-generated note id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Draft is an unsaved edit buffer for one note. Drafts are session-scoped:
// they do not survive process restart and are never merged, only overwritten.
type Draft struct {
	NoteID    string    `json:"noteId"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingDelete records a delete issued while offline, awaiting replay.
type PendingDelete struct {
	NoteID   string    `json:"noteId"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Profile is the authenticated user as returned by the auth endpoints.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
