package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/docchat/internal/backend"
	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/models"
)

// Send runs one user turn: optimistic local append, persistence, backend
// call, reply append and reply persistence.
//
// Only one Send may be in flight per controller; a concurrent call returns
// ErrSendInFlight without touching the transcript. Persistence failures are
// logged and reported as notices but never abort the turn. A backend failure
// appends a local error message and is returned.
func (c *ActiveController) Send(ctx context.Context, text string) error {
	owner, err := c.deps.owner()
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	attachment := c.attachment.Clone()
	history := models.FlattenHistory(c.transcript)
	userMsg := models.NewUserMessage(text, attachment, c.deps.now())
	c.transcript = append(c.transcript, userMsg)
	c.pending = true
	convID := c.id
	gen := c.gen
	c.mu.Unlock()
	c.notify()

	start := time.Now()
	defer func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
		c.deps.Metrics.Since(metrics.OpSend, start)
		c.notify()
	}()

	logger := c.logger.With("conversation", convID)
	convID = c.persistUserMessage(ctx, owner, convID, gen, userMsg, attachment)
	if convID != "" {
		logger = c.logger.With("conversation", convID)
	}

	req := backend.ChatRequest{Message: text, History: history}
	if attachment.Retrievable() {
		req.DocumentID = attachment.DocumentID
	}

	reply, err := c.ask(ctx, req)
	if err != nil {
		logger.Warn("answering backend failed", "error", err)
		c.deps.Metrics.RecordError(metrics.OpSend)
		c.appendLocal(gen, models.NewErrorMessage("Error: "+backend.Detail(err), c.deps.now()))
		c.deps.Notices.Post(NoticeError, backend.Detail(err))
		return fmt.Errorf("send: %w", err)
	}

	modelMsg := models.NewModelMessage(reply, c.deps.now())
	if !c.appendLocal(gen, modelMsg) {
		logger.Debug("reply arrived after switching conversations")
	}

	if convID != "" && c.deps.stillSignedInAs(owner) {
		err := c.deps.write(func() error { return c.deps.Store.AppendMessage(ctx, owner, convID, modelMsg) })
		if err != nil {
			c.deps.recoverable(logger, "couldn't save reply", err)
		}
	}

	c.mu.Lock()
	if c.gen == gen {
		c.staged = nil
	}
	c.mu.Unlock()

	logger.Debug("send completed", "reply_len", len(reply))
	return nil
}

// persistUserMessage stores the user message, creating the conversation when
// none is active. It returns the conversation id, or "" if creation failed.
func (c *ActiveController) persistUserMessage(ctx context.Context, owner, convID string, gen uint64, msg models.Message, attachment *models.AttachmentRef) string {
	if !c.deps.stillSignedInAs(owner) {
		return ""
	}

	if convID != "" {
		err := c.deps.write(func() error { return c.deps.Store.AppendMessage(ctx, owner, convID, msg) })
		if err != nil {
			c.deps.recoverable(c.logger, "couldn't save message", err, "conversation", convID)
		}
		return convID
	}

	now := c.deps.now()
	initial := models.ConversationRecord{
		OwnerID:          owner,
		Title:            models.DeriveTitle(msg.Text, attachment),
		CreatedAt:        now,
		LastUpdatedAt:    now,
		Messages:         []models.Message{msg},
		ActiveAttachment: attachment,
	}

	var id string
	err := c.deps.write(func() error {
		var err error
		id, err = c.deps.Store.CreateConversation(ctx, owner, initial)
		return err
	})
	if err != nil {
		c.deps.recoverable(c.logger, "couldn't create conversation", err)
		return ""
	}
	c.logger.Info("conversation created", "id", id, "title", initial.Title)

	c.adopt(ctx, owner, id, gen)
	return id
}

func (c *ActiveController) ask(ctx context.Context, req backend.ChatRequest) (string, error) {
	if c.deps.AnswerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deps.AnswerTimeout)
		defer cancel()
	}
	return c.deps.Backend.Chat(ctx, req)
}
