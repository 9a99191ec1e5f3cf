package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/raphaelgruber/docchat/internal/store"
)

// ListState is the lifecycle of the conversation list.
type ListState int

const (
	ListUnauthenticated ListState = iota
	ListLoading
	ListReady
)

func (s ListState) String() string {
	switch s {
	case ListUnauthenticated:
		return "unauthenticated"
	case ListLoading:
		return "loading"
	case ListReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ListController mirrors the signed-in user's conversation summaries,
// most recently updated first.
type ListController struct {
	deps   *Deps
	logger *slog.Logger

	mu        sync.RWMutex
	state     ListState
	summaries []models.ConversationSummary
	gen       uint64
	unsub     store.Unsubscribe
	unbind    func()
	listeners map[uint64]func([]models.ConversationSummary)
	nextSub   uint64
}

// NewListController creates a controller. Call Start to follow the identity.
func NewListController(deps *Deps) *ListController {
	return &ListController{
		deps:      deps,
		logger:    deps.logger().With("component", "conversation-list"),
		listeners: make(map[uint64]func([]models.ConversationSummary)),
	}
}

// Start follows identity changes and subscribes for the current user, if any.
func (c *ListController) Start() {
	c.mu.Lock()
	if c.unbind != nil {
		c.mu.Unlock()
		return
	}
	c.unbind = c.deps.Identity.OnChange(c.handleIdentity)
	c.mu.Unlock()

	if owner, err := c.deps.owner(); err == nil {
		c.handleIdentity(owner)
	}
}

// Close stops following the identity and tears down the feed.
func (c *ListController) Close() {
	c.mu.Lock()
	unbind := c.unbind
	c.unbind = nil
	c.mu.Unlock()
	if unbind != nil {
		unbind()
	}
	c.handleIdentity("")
}

// State returns the current lifecycle state.
func (c *ListController) State() ListState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Summaries returns a copy of the current list.
func (c *ListController) Summaries() []models.ConversationSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ConversationSummary, len(c.summaries))
	copy(out, c.summaries)
	return out
}

// Contains reports whether id is in the current list.
func (c *ListController) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.summaries {
		if s.ID == id {
			return true
		}
	}
	return false
}

// OnChange registers fn for every list replacement and returns a function removing it.
func (c *ListController) OnChange(fn func([]models.ConversationSummary)) func() {
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

// handleIdentity tears down the old feed before anything else, so no push
// for the previous user can land after the switch.
func (c *ListController) handleIdentity(userID string) {
	c.mu.Lock()
	prev := c.unsub
	c.unsub = nil
	c.gen++
	gen := c.gen
	c.summaries = nil
	if userID == "" {
		c.state = ListUnauthenticated
	} else {
		c.state = ListLoading
	}
	c.mu.Unlock()

	if prev != nil {
		prev()
	}
	c.notify()

	if userID == "" {
		c.logger.Debug("conversation list cleared")
		return
	}

	c.logger.Debug("subscribing to conversation list", "owner", userID)
	unsub, err := c.deps.Store.ListConversations(context.Background(), userID, func(list []models.ConversationSummary, err error) {
		c.onPush(gen, list, err)
	})
	if err != nil {
		c.onPush(gen, nil, err)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		unsub()
		return
	}
	c.unsub = unsub
	c.mu.Unlock()
}

func (c *ListController) onPush(gen uint64, list []models.ConversationSummary, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = ListReady
	if err != nil {
		// Fall back to empty rather than showing a stale list.
		c.summaries = nil
		c.mu.Unlock()
		c.deps.recoverable(c.logger, "couldn't load conversations", err)
		c.notify()
		return
	}
	sorted := make([]models.ConversationSummary, len(list))
	copy(sorted, list)
	models.SortSummaries(sorted)
	c.summaries = sorted
	c.mu.Unlock()

	c.notify()
}

func (c *ListController) notify() {
	c.mu.RLock()
	summaries := make([]models.ConversationSummary, len(c.summaries))
	copy(summaries, c.summaries)
	listeners := make([]func([]models.ConversationSummary), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(summaries)
	}
}
