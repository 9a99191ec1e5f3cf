package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/docchat/internal/models"
)

// ForgetNotice is the transcript text announcing a cleared document.
func ForgetNotice(name string) string {
	return fmt.Sprintf("I've forgotten the document %q. Ask me anything, or attach another file.", name)
}

// Attach makes ref the active document, replacing any previous one.
// It is persisted at once when a conversation exists; otherwise the first
// send carries it into the new conversation.
func (c *ActiveController) Attach(ctx context.Context, ref models.AttachmentRef) error {
	owner, err := c.deps.owner()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.attachment = ref.Clone()
	id := c.id
	c.mu.Unlock()
	c.notify()

	if id == "" {
		return nil
	}
	err = c.deps.write(func() error { return c.deps.Store.SetActiveAttachment(ctx, owner, id, &ref) })
	if err != nil {
		c.deps.recoverable(c.logger, "couldn't save document", err, "conversation", id)
		return fmt.Errorf("attach document: %w", err)
	}
	return nil
}

// Clear forgets the active document. In a stored conversation this appends
// a model-authored notice and clears the document remotely too; before the
// first send it is purely local.
func (c *ActiveController) Clear(ctx context.Context) error {
	owner, err := c.deps.owner()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.attachment == nil {
		c.mu.Unlock()
		return nil
	}
	name := c.attachment.Name
	c.attachment = nil
	id := c.id
	var notice models.Message
	if id != "" {
		notice = models.NewModelMessage(ForgetNotice(name), c.deps.now())
		c.transcript = append(c.transcript, notice)
	}
	c.mu.Unlock()
	c.notify()

	if id == "" {
		return nil
	}

	var errs []error
	if err := c.deps.write(func() error { return c.deps.Store.AppendMessage(ctx, owner, id, notice) }); err != nil {
		c.deps.recoverable(c.logger, "couldn't save notice", err, "conversation", id)
		errs = append(errs, err)
	}
	if err := c.deps.write(func() error { return c.deps.Store.SetActiveAttachment(ctx, owner, id, nil) }); err != nil {
		c.deps.recoverable(c.logger, "couldn't clear document", err, "conversation", id)
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear document: %w", err)
	}
	return nil
}

// Stage records a file picked for upload but not yet the active document.
// A successful send or a new chat clears it.
func (c *ActiveController) Stage(ref *models.AttachmentRef) {
	c.mu.Lock()
	c.staged = ref.Clone()
	c.mu.Unlock()
	c.notify()
}

// Staged returns the pending upload selection, if any.
func (c *ActiveController) Staged() *models.AttachmentRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staged.Clone()
}
