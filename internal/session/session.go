// Package session holds the process-wide signed-in identity.
package session

import (
	"sync"
)

// Listener is notified with the new user id ("" when signed out).
type Listener func(userID string)

// Identity tracks who is signed in and fans out identity changes.
// It is the only trigger for controllers entering or leaving the
// unauthenticated state.
type Identity struct {
	mu        sync.RWMutex
	userID    string
	listeners map[uint64]Listener
	next      uint64
}

// NewIdentity returns a signed-out identity.
func NewIdentity() *Identity {
	return &Identity{listeners: make(map[uint64]Listener)}
}

// UserID returns the signed-in user and whether anyone is signed in.
func (i *Identity) UserID() (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.userID, i.userID != ""
}

// SignIn sets the identity. Listeners are not notified if it is unchanged.
func (i *Identity) SignIn(userID string) {
	i.set(userID)
}

// SignOut clears the identity.
func (i *Identity) SignOut() {
	i.set("")
}

// OnChange registers fn and returns a function removing it.
func (i *Identity) OnChange(fn Listener) func() {
	i.mu.Lock()
	i.next++
	id := i.next
	i.listeners[id] = fn
	i.mu.Unlock()

	return func() {
		i.mu.Lock()
		delete(i.listeners, id)
		i.mu.Unlock()
	}
}

func (i *Identity) set(userID string) {
	i.mu.Lock()
	if i.userID == userID {
		i.mu.Unlock()
		return
	}
	i.userID = userID
	listeners := make([]Listener, 0, len(i.listeners))
	for _, fn := range i.listeners {
		listeners = append(listeners, fn)
	}
	i.mu.Unlock()

	for _, fn := range listeners {
		fn(userID)
	}
}
