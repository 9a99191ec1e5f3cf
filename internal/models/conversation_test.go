package models

import (
	"strings"
	"testing"
	"time"
)

func TestDeriveTitle(t *testing.T) {
	doc := "report.pdf"
	tests := []struct {
		name       string
		query      string
		attachment *AttachmentRef
		want       string
	}{
		{"short query", "Hello", nil, "Hello"},
		{"query trimmed", "  Hello  ", nil, "Hello"},
		{"long query cut at 40", strings.Repeat("a", 50), nil, strings.Repeat("a", 40)},
		{"exactly 40", strings.Repeat("b", 40), nil, strings.Repeat("b", 40)},
		{"multibyte cut by rune", strings.Repeat("é", 45), nil, strings.Repeat("é", 40)},
		{"falls back to attachment", "   ", &AttachmentRef{Name: doc}, doc},
		{"query wins over attachment", "Summarize", &AttachmentRef{Name: doc}, "Summarize"},
		{"attachment without name", "", &AttachmentRef{}, DefaultTitle},
		{"nothing", "", nil, DefaultTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveTitle(tt.query, tt.attachment)
			if got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestSortSummaries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	summaries := []ConversationSummary{
		{ID: "old", Title: "a", LastUpdatedAt: base},
		{ID: "new", Title: "z", LastUpdatedAt: base.Add(2 * time.Hour)},
		{ID: "mid", Title: "m", LastUpdatedAt: base.Add(time.Hour)},
	}

	SortSummaries(summaries)

	got := []string{summaries[0].ID, summaries[1].ID, summaries[2].ID}
	want := []string{"new", "mid", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRecordCloneDoesNotAlias(t *testing.T) {
	id := "doc123"
	rec := ConversationRecord{
		ID:               "c1",
		Messages:         []Message{{ID: "m1", Text: "hi", Attachment: &AttachmentRef{Name: "a", DocumentID: &id}}},
		ActiveAttachment: &AttachmentRef{Name: "a", DocumentID: &id},
	}

	c := rec.Clone()
	c.Messages[0].Text = "changed"
	*c.ActiveAttachment.DocumentID = "other"

	if rec.Messages[0].Text != "hi" {
		t.Errorf("original message mutated: %q", rec.Messages[0].Text)
	}
	if *rec.ActiveAttachment.DocumentID != "doc123" {
		t.Errorf("original attachment mutated: %q", *rec.ActiveAttachment.DocumentID)
	}
}

func TestFlattenHistory(t *testing.T) {
	now := time.Now()
	msgs := []Message{
		NewUserMessage("Hello", &AttachmentRef{Name: "x.pdf"}, now),
		NewModelMessage("Hi there", now),
	}

	got := FlattenHistory(msgs)

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != (HistoryEntry{Role: "user", Content: "Hello"}) {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1] != (HistoryEntry{Role: "model", Content: "Hi there"}) {
		t.Errorf("entry 1 = %+v", got[1])
	}
}

func TestNewUserMessageCopiesAttachment(t *testing.T) {
	id := "doc123"
	att := &AttachmentRef{Name: "a.pdf", DocumentID: &id}

	m := NewUserMessage("q", att, time.Now())
	*att.DocumentID = "changed"

	if m.Attachment == att {
		t.Fatal("attachment pointer shared with caller")
	}
	if *m.Attachment.DocumentID != "doc123" {
		t.Errorf("DocumentID = %q, want doc123", *m.Attachment.DocumentID)
	}
	if m.ID == "" || m.Role != RoleUser || m.IsError {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestNewErrorMessage(t *testing.T) {
	m := NewErrorMessage("rate limited", time.Now())
	if !m.IsError || m.Role != RoleModel {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestAttachmentRetrievable(t *testing.T) {
	empty := ""
	id := "doc"
	var nilRef *AttachmentRef
	if nilRef.Retrievable() {
		t.Error("nil ref retrievable")
	}
	if (&AttachmentRef{Name: "a"}).Retrievable() {
		t.Error("ref without id retrievable")
	}
	if (&AttachmentRef{DocumentID: &empty}).Retrievable() {
		t.Error("ref with empty id retrievable")
	}
	if !(&AttachmentRef{DocumentID: &id}).Retrievable() {
		t.Error("ref with id not retrievable")
	}
}
