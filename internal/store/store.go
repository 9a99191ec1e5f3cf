// Package store defines the durable conversation store used by the chat
// controllers and provides an in-process implementation with realtime push.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/raphaelgruber/docchat/internal/models"
)

// ErrNotFound indicates the conversation does not exist for that owner.
var ErrNotFound = errors.New("conversation not found")

// Unsubscribe tears down a live feed. Calling it more than once is safe.
type Unsubscribe func()

// ListHandler receives every push of a conversation-list feed.
// Summaries are delivered in no particular order.
type ListHandler func(summaries []models.ConversationSummary, err error)

// RecordHandler receives every push of a single-conversation feed.
// A nil record means the conversation does not exist (anymore).
type RecordHandler func(record *models.ConversationRecord, err error)

// Store is a per-user, per-conversation durable store with realtime
// subscriptions. Operations are independent; there are no transactions
// spanning calls, and AppendMessage does not deduplicate.
type Store interface {
	// ListConversations subscribes to the owner's conversation summaries.
	ListConversations(ctx context.Context, ownerID string, fn ListHandler) (Unsubscribe, error)

	// SubscribeConversation subscribes to one record. The current state is
	// pushed once right after subscribing.
	SubscribeConversation(ctx context.Context, ownerID, id string, fn RecordHandler) (Unsubscribe, error)

	// CreateConversation stores a new record and returns its id.
	CreateConversation(ctx context.Context, ownerID string, initial models.ConversationRecord) (string, error)

	// AppendMessage appends to the record's messages and refreshes LastUpdatedAt.
	AppendMessage(ctx context.Context, ownerID, id string, msg models.Message) error

	// SetActiveAttachment replaces (or clears, with nil) the active document.
	SetActiveAttachment(ctx context.Context, ownerID, id string, attachment *models.AttachmentRef) error

	// DeleteConversation removes the whole record.
	DeleteConversation(ctx context.Context, ownerID, id string) error
}

// Once wraps fn so it runs at most one time.
func Once(fn func()) Unsubscribe {
	var once sync.Once
	return func() { once.Do(fn) }
}
