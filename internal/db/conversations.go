package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/raphaelgruber/docchat/internal/store"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

var _ store.Store = (*Client)(nil)

// conversationRow is the stored shape of a conversation.
type conversationRow struct {
	ID               surrealmodels.RecordID `json:"id"`
	Owner            string                 `json:"owner"`
	Title            string                 `json:"title"`
	CreatedAt        time.Time              `json:"created_at"`
	LastUpdatedAt    time.Time              `json:"last_updated_at"`
	Messages         []models.Message       `json:"messages,omitempty"`
	ActiveAttachment *models.AttachmentRef  `json:"active_attachment,omitempty"`
}

func (r conversationRow) record() (*models.ConversationRecord, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return nil, err
	}
	return &models.ConversationRecord{
		ID:               id,
		OwnerID:          r.Owner,
		Title:            r.Title,
		CreatedAt:        r.CreatedAt,
		LastUpdatedAt:    r.LastUpdatedAt,
		Messages:         r.Messages,
		ActiveAttachment: r.ActiveAttachment,
	}, nil
}

func conversationID(id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("conversation", id)
}

// CreateConversation stores a new conversation under a fresh id.
func (c *Client) CreateConversation(ctx context.Context, ownerID string, initial models.ConversationRecord) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("create conversation: empty owner")
	}
	defer c.metrics.Since(metrics.OpStoreWrite, time.Now())

	id := uuid.NewString()
	now := c.now().UTC()
	createdAt := initial.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := initial.LastUpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	messages := initial.Messages
	if messages == nil {
		messages = []models.Message{}
	}

	content := map[string]any{
		"owner":           ownerID,
		"title":           initial.Title,
		"created_at":      createdAt,
		"last_updated_at": updatedAt,
		"messages":        messages,
	}
	if initial.ActiveAttachment != nil {
		content["active_attachment"] = initial.ActiveAttachment
	}

	_, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		CREATE type::record("conversation", $id) CONTENT $content
	`, map[string]any{"id": id, "content": content})
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", wrapQueryError(err))
	}

	c.logger.Debug("conversation created", "owner", ownerID, "id", id)
	return id, nil
}

// AppendMessage appends msg to the conversation's transcript. Appends are
// not deduplicated.
func (c *Client) AppendMessage(ctx context.Context, ownerID, id string, msg models.Message) error {
	defer c.metrics.Since(metrics.OpStoreWrite, time.Now())

	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		UPDATE type::record("conversation", $id) SET
			messages += $message,
			last_updated_at = <datetime>$now
		WHERE owner = $owner
		RETURN AFTER
	`, map[string]any{
		"id":      id,
		"owner":   ownerID,
		"message": msg,
		"now":     c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("append message: %w", wrapQueryError(err))
	}
	if len(first(results)) == 0 {
		return fmt.Errorf("append message: %w", ErrNotFound)
	}
	return nil
}

// SetActiveAttachment replaces the conversation's attachment; nil removes it.
func (c *Client) SetActiveAttachment(ctx context.Context, ownerID, id string, attachment *models.AttachmentRef) error {
	defer c.metrics.Since(metrics.OpStoreWrite, time.Now())

	vars := map[string]any{"id": id, "owner": ownerID, "now": c.now().UTC()}
	set := "active_attachment = NONE"
	if attachment != nil {
		set = "active_attachment = $attachment"
		vars["attachment"] = attachment
	}

	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, fmt.Sprintf(`
		UPDATE type::record("conversation", $id) SET
			%s,
			last_updated_at = <datetime>$now
		WHERE owner = $owner
		RETURN AFTER
	`, set), vars)
	if err != nil {
		return fmt.Errorf("set active attachment: %w", wrapQueryError(err))
	}
	if len(first(results)) == 0 {
		return fmt.Errorf("set active attachment: %w", ErrNotFound)
	}
	return nil
}

// DeleteConversation removes the conversation and its transcript.
func (c *Client) DeleteConversation(ctx context.Context, ownerID, id string) error {
	defer c.metrics.Since(metrics.OpStoreWrite, time.Now())

	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		DELETE type::record("conversation", $id) WHERE owner = $owner RETURN BEFORE
	`, map[string]any{"id": id, "owner": ownerID})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", wrapQueryError(err))
	}
	if len(first(results)) == 0 {
		return fmt.Errorf("delete conversation: %w", ErrNotFound)
	}
	c.logger.Debug("conversation deleted", "owner", ownerID, "id", id)
	return nil
}

// GetConversation returns the conversation, or nil if it doesn't exist for this owner.
func (c *Client) GetConversation(ctx context.Context, ownerID, id string) (*models.ConversationRecord, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		SELECT * FROM type::record("conversation", $id) WHERE owner = $owner
	`, map[string]any{"id": id, "owner": ownerID})
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", wrapQueryError(err))
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].record()
}

// Summaries returns the owner's conversations, most recently updated first.
func (c *Client) Summaries(ctx context.Context, ownerID string) ([]models.ConversationSummary, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		SELECT id, owner, title, created_at, last_updated_at
		FROM conversation
		WHERE owner = $owner
		ORDER BY last_updated_at DESC
	`, map[string]any{"owner": ownerID})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", wrapQueryError(err))
	}

	rows := first(results)
	out := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		out = append(out, rec.Summary())
	}
	return out, nil
}
