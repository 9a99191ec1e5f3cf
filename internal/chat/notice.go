package chat

import (
	"sync"
	"time"
)

// NoticeLevel classifies a notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient, user-visible message outside the transcript.
type Notice struct {
	ID        uint64
	Level     NoticeLevel
	Text      string
	PostedAt  time.Time
	ExpiresAt time.Time
}

// Notices is the notice surface. Notices dismiss themselves after the TTL.
// A nil *Notices drops everything.
type Notices struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	items     []Notice
	next      uint64
	nextSub   uint64
	listeners map[uint64]func(Notice)
}

// NewNotices creates a notice surface with the given time-to-live.
func NewNotices(ttl time.Duration) *Notices {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Notices{ttl: ttl, now: time.Now, listeners: make(map[uint64]func(Notice))}
}

// Post publishes a notice and hands it to every listener.
func (n *Notices) Post(level NoticeLevel, text string) {
	if n == nil {
		return
	}
	n.mu.Lock()
	n.next++
	now := n.now()
	notice := Notice{ID: n.next, Level: level, Text: text, PostedAt: now, ExpiresAt: now.Add(n.ttl)}
	n.items = append(n.pruneLocked(now), notice)
	listeners := make([]func(Notice), 0, len(n.listeners))
	for _, fn := range n.listeners {
		listeners = append(listeners, fn)
	}
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(notice)
	}
}

// Active returns the notices that have not expired or been dismissed.
func (n *Notices) Active() []Notice {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = n.pruneLocked(n.now())
	out := make([]Notice, len(n.items))
	copy(out, n.items)
	return out
}

// Dismiss removes a notice before it expires.
func (n *Notices) Dismiss(id uint64) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := n.items[:0]
	for _, it := range n.items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	n.items = kept
}

// OnPost registers fn for every new notice and returns a function removing it.
func (n *Notices) OnPost(fn func(Notice)) func() {
	n.mu.Lock()
	n.nextSub++
	id := n.nextSub
	n.listeners[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *Notices) pruneLocked(now time.Time) []Notice {
	kept := n.items[:0]
	for _, it := range n.items {
		if now.Before(it.ExpiresAt) {
			kept = append(kept, it)
		}
	}
	return kept
}
