package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/raphaelgruber/docchat/internal/store"
)

// State is the lifecycle of the active conversation.
type State int

const (
	// StateEmpty means no conversation is selected. The transcript may still
	// hold an optimistic first message while its conversation is created.
	StateEmpty State = iota
	// StateLoading means subscribed and waiting for the first snapshot.
	StateLoading
	// StateSynced means the transcript mirrors the last snapshot, possibly
	// followed by optimistic entries.
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Membership is the view of the conversation list the active controller
// needs to tell a deleted conversation from a lagging feed.
type Membership interface {
	Contains(id string) bool
	OnChange(fn func([]models.ConversationSummary)) func()
}

// View is a point-in-time copy of the active conversation.
type View struct {
	State      State
	ID         string
	Messages   []models.Message
	Attachment *models.AttachmentRef
	Staged     *models.AttachmentRef
	Pending    bool
}

// ActiveController holds the live transcript and document context of exactly
// one conversation at a time.
//
// Every subscription callback carries the generation it was created under;
// callbacks from a superseded generation are dropped, so a late snapshot for
// a conversation the user already left never touches the current transcript.
type ActiveController struct {
	deps    *Deps
	members Membership
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	id         string
	transcript []models.Message
	attachment *models.AttachmentRef
	staged     *models.AttachmentRef
	pending    bool
	// remoteAbsent is set when the last snapshot reported no record while
	// the list still had it.
	remoteAbsent bool
	gen          uint64
	unsub        store.Unsubscribe

	unbind    []func()
	listeners map[uint64]func(View)
	nextSub   uint64
}

// NewActiveController creates a controller in StateEmpty. members may be nil,
// in which case a missing record is always treated as deleted.
func NewActiveController(deps *Deps, members Membership) *ActiveController {
	return &ActiveController{
		deps:      deps,
		members:   members,
		logger:    deps.logger().With("component", "active-conversation"),
		listeners: make(map[uint64]func(View)),
	}
}

// Start follows identity and list changes.
func (c *ActiveController) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unbind != nil {
		return
	}
	c.unbind = append(c.unbind, c.deps.Identity.OnChange(c.handleIdentity))
	if c.members != nil {
		c.unbind = append(c.unbind, c.members.OnChange(func([]models.ConversationSummary) {
			c.reconcileDeletion()
		}))
	}
}

// Close stops following changes and drops the subscription.
func (c *ActiveController) Close() {
	c.mu.Lock()
	unbind := c.unbind
	c.unbind = nil
	prev := c.resetLocked()
	c.mu.Unlock()

	for _, fn := range unbind {
		fn()
	}
	prev()
}

// View returns a copy of the current state.
func (c *ActiveController) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// OnChange registers fn for every state change and returns a function removing it.
func (c *ActiveController) OnChange(fn func(View)) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Select makes id the active conversation. Selecting the active one is a no-op.
func (c *ActiveController) Select(ctx context.Context, id string) error {
	owner, err := c.deps.owner()
	if err != nil {
		return err
	}
	if id == "" {
		return ErrNoID
	}

	c.mu.Lock()
	if c.id == id {
		c.mu.Unlock()
		return nil
	}
	prev := c.resetLocked()
	c.id = id
	c.state = StateLoading
	gen := c.gen
	c.mu.Unlock()

	prev()
	c.notify()

	c.logger.Debug("conversation selected", "id", id)
	if err := c.subscribe(ctx, owner, id, gen); err != nil {
		c.mu.Lock()
		var prev store.Unsubscribe = func() {}
		if c.gen == gen {
			prev = c.resetLocked()
		}
		c.mu.Unlock()
		prev()
		c.notify()
		c.deps.recoverable(c.logger, "couldn't open conversation", err, "id", id)
		return fmt.Errorf("select conversation: %w", err)
	}
	return nil
}

// NewChat drops the active conversation. The durable record is untouched.
func (c *ActiveController) NewChat() {
	c.mu.Lock()
	prev := c.resetLocked()
	c.staged = nil
	c.mu.Unlock()

	prev()
	c.notify()
}

// Delete removes a conversation from the store. Deleting the active one
// leaves the controller exactly as NewChat would.
func (c *ActiveController) Delete(ctx context.Context, id string) error {
	owner, err := c.deps.owner()
	if err != nil {
		return err
	}
	if id == "" {
		return ErrNoID
	}

	if err := c.deps.write(func() error { return c.deps.Store.DeleteConversation(ctx, owner, id) }); err != nil {
		c.deps.recoverable(c.logger, "couldn't delete conversation", err, "id", id)
		return fmt.Errorf("delete conversation: %w", err)
	}
	c.logger.Info("conversation deleted", "id", id)

	c.mu.Lock()
	if c.id != id {
		c.mu.Unlock()
		return nil
	}
	prev := c.resetLocked()
	c.staged = nil
	c.mu.Unlock()

	prev()
	c.notify()
	return nil
}

// subscribe opens the record feed for generation gen. If the controller
// moved on while the subscription was being set up, it is torn down at once.
func (c *ActiveController) subscribe(ctx context.Context, owner, id string, gen uint64) error {
	unsub, err := c.deps.Store.SubscribeConversation(ctx, owner, id, func(rec *models.ConversationRecord, err error) {
		c.onSnapshot(gen, rec, err)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsub = unsub
	c.mu.Unlock()
	return nil
}

func (c *ActiveController) onSnapshot(gen uint64, rec *models.ConversationRecord, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("dropped stale snapshot")
		return
	}

	if err != nil {
		id := c.id
		prev := store.Unsubscribe(func() {})
		if c.state == StateLoading {
			prev = c.resetLocked()
		}
		c.mu.Unlock()
		prev()
		c.notify()
		c.deps.recoverable(c.logger, "conversation feed failed", err, "id", id)
		return
	}

	if rec != nil {
		c.transcript = rec.Clone().Messages
		c.attachment = rec.ActiveAttachment.Clone()
		c.state = StateSynced
		c.remoteAbsent = false
		c.mu.Unlock()
		c.notify()
		return
	}

	c.remoteAbsent = true
	if c.members != nil && c.members.Contains(c.id) {
		// The list feed still has it; wait until both agree.
		c.mu.Unlock()
		return
	}
	c.logger.Info("active conversation no longer exists", "id", c.id)
	prev := c.resetLocked()
	c.staged = nil
	c.mu.Unlock()

	prev()
	c.notify()
}

// reconcileDeletion finishes a deletion that the record feed reported first.
func (c *ActiveController) reconcileDeletion() {
	c.mu.Lock()
	if !c.remoteAbsent || c.id == "" || c.members.Contains(c.id) {
		c.mu.Unlock()
		return
	}
	c.logger.Info("active conversation no longer exists", "id", c.id)
	prev := c.resetLocked()
	c.staged = nil
	c.mu.Unlock()

	prev()
	c.notify()
}

func (c *ActiveController) handleIdentity(string) {
	c.mu.Lock()
	prev := c.resetLocked()
	c.staged = nil
	c.mu.Unlock()

	prev()
	c.notify()
}

// adopt makes a conversation created by the first send the active one,
// keeping the optimistic transcript. Nothing happens if the user moved on.
func (c *ActiveController) adopt(ctx context.Context, owner, id string, gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.id != "" {
		c.mu.Unlock()
		return
	}
	c.id = id
	c.state = StateLoading
	c.mu.Unlock()
	c.notify()

	if err := c.subscribe(ctx, owner, id, gen); err != nil {
		c.mu.Lock()
		if c.gen == gen && c.state == StateLoading {
			c.state = StateSynced
		}
		c.mu.Unlock()
		c.notify()
		c.deps.recoverable(c.logger, "couldn't follow new conversation", err, "id", id)
	}
}

// appendLocal appends msg if the controller still shows generation gen.
func (c *ActiveController) appendLocal(gen uint64, msg models.Message) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.transcript = append(c.transcript, msg)
	c.mu.Unlock()
	c.notify()
	return true
}

// resetLocked returns to StateEmpty under a new generation and hands back
// the previous subscription's teardown. Caller must hold c.mu and call the
// returned function after unlocking.
func (c *ActiveController) resetLocked() store.Unsubscribe {
	prev := c.unsub
	c.unsub = nil
	c.gen++
	c.id = ""
	c.transcript = nil
	c.attachment = nil
	c.remoteAbsent = false
	c.state = StateEmpty
	if prev == nil {
		return func() {}
	}
	return prev
}

func (c *ActiveController) viewLocked() View {
	msgs := make([]models.Message, len(c.transcript))
	copy(msgs, c.transcript)
	return View{
		State:      c.state,
		ID:         c.id,
		Messages:   msgs,
		Attachment: c.attachment.Clone(),
		Staged:     c.staged.Clone(),
		Pending:    c.pending,
	}
}

func (c *ActiveController) notify() {
	c.mu.Lock()
	view := c.viewLocked()
	listeners := make([]func(View), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(view)
	}
}
