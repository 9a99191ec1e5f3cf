package models

import (
	"slices"
	"strings"
	"time"
)

// MaxTitleRunes caps the title derived from the first query.
const MaxTitleRunes = 40

// DefaultTitle is used when neither a query nor an attachment name is available.
const DefaultTitle = "New Chat"

// ConversationSummary is the list view of a conversation.
type ConversationSummary struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// ConversationRecord is the durable state of one conversation.
// Messages only ever grow; removing history means deleting the whole record.
type ConversationRecord struct {
	ID               string         `json:"id"`
	OwnerID          string         `json:"owner_id"`
	Title            string         `json:"title"`
	CreatedAt        time.Time      `json:"created_at"`
	LastUpdatedAt    time.Time      `json:"last_updated_at"`
	Messages         []Message      `json:"messages"`
	ActiveAttachment *AttachmentRef `json:"active_attachment,omitempty"`
}

// Summary projects the record onto its list entry.
func (r ConversationRecord) Summary() ConversationSummary {
	return ConversationSummary{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Title:         r.Title,
		CreatedAt:     r.CreatedAt,
		LastUpdatedAt: r.LastUpdatedAt,
	}
}

// Clone deep-copies the record so stores and controllers never alias slices.
func (r ConversationRecord) Clone() ConversationRecord {
	c := r
	c.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		m.Attachment = m.Attachment.Clone()
		c.Messages[i] = m
	}
	c.ActiveAttachment = r.ActiveAttachment.Clone()
	return c
}

// DeriveTitle picks the title of a new conversation: the first 40 characters
// of the query, else the attachment name, else DefaultTitle.
func DeriveTitle(query string, attachment *AttachmentRef) string {
	if q := strings.TrimSpace(query); q != "" {
		return truncateRunes(q, MaxTitleRunes)
	}
	if attachment != nil && attachment.Name != "" {
		return attachment.Name
	}
	return DefaultTitle
}

// SortSummaries orders summaries most recently updated first.
func SortSummaries(summaries []ConversationSummary) {
	slices.SortStableFunc(summaries, func(a, b ConversationSummary) int {
		return b.LastUpdatedAt.Compare(a.LastUpdatedAt)
	})
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
