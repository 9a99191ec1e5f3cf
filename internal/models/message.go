package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	// RoleUser marks messages typed by the signed-in user.
	RoleUser Role = "user"
	// RoleModel marks replies from the answering backend and client-authored notices.
	RoleModel Role = "model"
)

// AttachmentRef points at a document that travels with a conversation.
// DocumentID is nil until the backend has accepted the upload.
type AttachmentRef struct {
	Name       string  `json:"name"`
	MimeType   string  `json:"mime_type"`
	DocumentID *string `json:"document_id,omitempty"`
}

// Retrievable reports whether the backend can already look the document up.
func (a *AttachmentRef) Retrievable() bool {
	return a != nil && a.DocumentID != nil && *a.DocumentID != ""
}

// Clone returns a deep copy so callers never share the DocumentID pointer.
func (a *AttachmentRef) Clone() *AttachmentRef {
	if a == nil {
		return nil
	}
	c := *a
	if a.DocumentID != nil {
		id := *a.DocumentID
		c.DocumentID = &id
	}
	return &c
}

// Message is one transcript entry. It is never mutated after being appended.
type Message struct {
	// ID is generated client-side and doubles as an idempotency key for appends.
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Text       string         `json:"text"`
	Attachment *AttachmentRef `json:"attachment,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	IsError    bool           `json:"is_error"`
}

// NewUserMessage builds the message for a user query. The attachment is
// copied so later changes to the active document don't leak into history.
func NewUserMessage(text string, attachment *AttachmentRef, now time.Time) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleUser,
		Text:       text,
		Attachment: attachment.Clone(),
		CreatedAt:  now,
	}
}

// NewModelMessage builds a successful reply or a client-authored notice.
func NewModelMessage(text string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleModel,
		Text:      text,
		CreatedAt: now,
	}
}

// NewErrorMessage builds the visually distinct reply shown when the backend fails.
func NewErrorMessage(text string, now time.Time) Message {
	m := NewModelMessage(text, now)
	m.IsError = true
	return m
}

// HistoryEntry is the flattened form of a message sent to the answering backend.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FlattenHistory converts a transcript into backend history, dropping attachments.
func FlattenHistory(messages []Message) []HistoryEntry {
	history := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		history = append(history, HistoryEntry{Role: string(m.Role), Content: m.Text})
	}
	return history
}
