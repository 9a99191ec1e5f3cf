package chat

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/raphaelgruber/docchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s store.Store, title string, texts ...string) string {
	t.Helper()
	msgs := make([]models.Message, 0, len(texts))
	for _, text := range texts {
		msgs = append(msgs, models.NewUserMessage(text, nil, time.Now()))
	}
	id, err := s.CreateConversation(context.Background(), "alice", models.ConversationRecord{Title: title, Messages: msgs})
	require.NoError(t, err)
	return id
}

func TestSelectLoadsConversation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	id := seed(t, h.store, "Cooking", "How long do eggs boil?")

	require.NoError(t, h.active.Select(ctx, id))

	view := h.active.View()
	assert.Equal(t, StateSynced, view.State)
	assert.Equal(t, id, view.ID)
	assert.Equal(t, []string{"user:How long do eggs boil?"}, texts(view.Messages))
}

func TestSelectSameConversationIsNoop(t *testing.T) {
	ctx := context.Background()
	held := &heldStore{Memory: store.NewMemory(nil)}
	h := newHarness(t, held)
	id := seed(t, held, "A", "a")

	require.NoError(t, h.active.Select(ctx, id))
	require.NoError(t, h.active.Select(ctx, id))

	held.mu.Lock()
	defer held.mu.Unlock()
	assert.Len(t, held.subs, 1)
}

func TestSelectRejectsEmptyID(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.active.Select(context.Background(), ""), ErrNoID)
}

func TestStaleSnapshotIsDropped(t *testing.T) {
	ctx := context.Background()
	held := &heldStore{Memory: store.NewMemory(nil)}
	h := newHarness(t, held)

	a := &models.ConversationRecord{ID: "A", OwnerID: "alice", Messages: []models.Message{models.NewUserMessage("from A", nil, time.Now())}}
	b := &models.ConversationRecord{ID: "B", OwnerID: "alice", Messages: []models.Message{models.NewUserMessage("from B", nil, time.Now())}}

	// A -> B -> A before B's first snapshot arrives.
	require.NoError(t, h.active.Select(ctx, "A"))
	require.NoError(t, h.active.Select(ctx, "B"))
	require.NoError(t, h.active.Select(ctx, "A"))

	subA1, subB, subA2 := held.sub(t, 0), held.sub(t, 1), held.sub(t, 2)
	assert.True(t, *subA1.dropped)
	assert.True(t, *subB.dropped)
	assert.False(t, *subA2.dropped)

	subB.fn(b, nil)
	subA1.fn(b, nil)
	view := h.active.View()
	assert.Equal(t, StateLoading, view.State)
	assert.Equal(t, "A", view.ID)
	assert.Empty(t, view.Messages)

	subA2.fn(a, nil)
	view = h.active.View()
	assert.Equal(t, StateSynced, view.State)
	assert.Equal(t, []string{"user:from A"}, texts(view.Messages))

	// A late push from B still changes nothing.
	subB.fn(b, nil)
	assert.Equal(t, []string{"user:from A"}, texts(h.active.View().Messages))
}

func TestSnapshotReplacesTranscriptWholesale(t *testing.T) {
	ctx := context.Background()
	held := &heldStore{Memory: store.NewMemory(nil)}
	h := newHarness(t, held)

	require.NoError(t, h.active.Select(ctx, "A"))
	sub := held.sub(t, 0)

	first := models.NewUserMessage("one", nil, time.Now())
	second := models.NewModelMessage("two", time.Now())
	sub.fn(&models.ConversationRecord{ID: "A", Messages: []models.Message{first}}, nil)
	sub.fn(&models.ConversationRecord{
		ID:               "A",
		Messages:         []models.Message{first, second},
		ActiveAttachment: &models.AttachmentRef{Name: "a.pdf"},
	}, nil)

	view := h.active.View()
	assert.Equal(t, []string{"user:one", "model:two"}, texts(view.Messages))
	require.NotNil(t, view.Attachment)
	assert.Equal(t, "a.pdf", view.Attachment.Name)
}

func TestSnapshotErrorWhileLoadingReturnsToEmpty(t *testing.T) {
	ctx := context.Background()
	held := &heldStore{Memory: store.NewMemory(nil)}
	h := newHarness(t, held)

	require.NoError(t, h.active.Select(ctx, "A"))
	held.sub(t, 0).fn(nil, assert.AnError)

	view := h.active.View()
	assert.Equal(t, StateEmpty, view.State)
	assert.Empty(t, view.ID)
	assert.NotEmpty(t, h.notices.Active())
}

func TestNewChatResets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	require.NoError(t, h.active.Attach(ctx, models.AttachmentRef{Name: "doc.pdf", DocumentID: strPtr("d1")}))
	require.NoError(t, h.active.Send(ctx, "Hello"))
	id := h.active.View().ID
	h.active.Stage(&models.AttachmentRef{Name: "next.pdf"})

	h.active.NewChat()

	view := h.active.View()
	assert.Equal(t, StateEmpty, view.State)
	assert.Empty(t, view.ID)
	assert.Empty(t, view.Messages)
	assert.Nil(t, view.Attachment)
	assert.Nil(t, view.Staged)

	rec := h.record(t, id)
	require.NotNil(t, rec, "new chat keeps the durable record")
	assert.Len(t, rec.Messages, 2)
	assert.True(t, h.list.Contains(id))

	// A new chat from Empty is also fine.
	h.active.NewChat()
	assert.Equal(t, StateEmpty, h.active.View().State)
}

func TestDeleteActiveEqualsNewChat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	require.NoError(t, h.active.Send(ctx, "Hello"))
	id := h.active.View().ID
	h.active.Stage(&models.AttachmentRef{Name: "next.pdf"})

	require.NoError(t, h.active.Delete(ctx, id))
	deleted := h.active.View()

	h2 := newHarness(t, nil)
	require.NoError(t, h2.active.Send(ctx, "Hello"))
	h2.active.Stage(&models.AttachmentRef{Name: "next.pdf"})
	h2.active.NewChat()
	fresh := h2.active.View()

	assert.Equal(t, fresh, deleted)
	assert.Nil(t, h.record(t, id))
	assert.False(t, h.list.Contains(id))
}

func TestDeleteOtherConversationKeepsActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	other := seed(t, h.store, "Other", "x")

	require.NoError(t, h.active.Send(ctx, "Hello"))
	id := h.active.View().ID

	require.NoError(t, h.active.Delete(ctx, other))

	view := h.active.View()
	assert.Equal(t, id, view.ID)
	assert.Equal(t, StateSynced, view.State)
	assert.False(t, h.list.Contains(other))
}

func TestRemoteDeletionWaitsForList(t *testing.T) {
	ctx := context.Background()
	held := &heldStore{Memory: store.NewMemory(nil)}
	h := newHarness(t, held)
	id := seed(t, held, "A", "a")

	require.NoError(t, h.active.Select(ctx, id))
	sub := held.sub(t, 0)
	sub.fn(&models.ConversationRecord{ID: id, Messages: []models.Message{models.NewUserMessage("a", nil, time.Now())}}, nil)

	// The record feed reports absence while the list still has it.
	sub.fn(nil, nil)
	assert.Equal(t, id, h.active.View().ID)

	require.NoError(t, held.DeleteConversation(ctx, "alice", id))
	view := h.active.View()
	assert.Equal(t, StateEmpty, view.State)
	assert.Empty(t, view.ID)
}

func TestSignOutResetsActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	require.NoError(t, h.active.Send(ctx, "Hello"))
	h.identity.SignOut()

	view := h.active.View()
	assert.Equal(t, StateEmpty, view.State)
	assert.Empty(t, view.Messages)
	assert.Equal(t, ListUnauthenticated, h.list.State())
}
