package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/docchat/internal/backend"
	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/raphaelgruber/docchat/internal/session"
	"github.com/raphaelgruber/docchat/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	mu    sync.Mutex
	reqs  []backend.ChatRequest
	reply string
	err   error

	// When set, Chat signals started and waits for release.
	started chan struct{}
	release chan struct{}
}

func (f *fakeAnswerer) Chat(ctx context.Context, req backend.ChatRequest) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	started, release := f.started, f.release
	reply, err := f.reply, f.err
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeAnswerer) requests() []backend.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]backend.ChatRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}

// heldStore records conversation subscriptions instead of delivering
// snapshots, so tests decide when and in which order pushes arrive.
type heldStore struct {
	*store.Memory

	mu   sync.Mutex
	subs []heldSub
}

type heldSub struct {
	id      string
	fn      store.RecordHandler
	dropped *bool
}

func (s *heldStore) SubscribeConversation(ctx context.Context, ownerID, id string, fn store.RecordHandler) (store.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := new(bool)
	s.subs = append(s.subs, heldSub{id: id, fn: fn, dropped: dropped})
	return func() {
		s.mu.Lock()
		*dropped = true
		s.mu.Unlock()
	}, nil
}

func (s *heldStore) sub(t *testing.T, i int) heldSub {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(t, len(s.subs), i)
	return s.subs[i]
}

type harness struct {
	deps     *Deps
	store    store.Store
	answerer *fakeAnswerer
	identity *session.Identity
	notices  *Notices
	list     *ListController
	active   *ActiveController
}

func newHarness(t *testing.T, st store.Store) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemory(nil)
	}
	h := &harness{
		store:    st,
		answerer: &fakeAnswerer{reply: "Hi there"},
		identity: session.NewIdentity(),
		notices:  NewNotices(time.Minute),
	}
	h.identity.SignIn("alice")
	h.deps = &Deps{
		Store:    st,
		Backend:  h.answerer,
		Identity: h.identity,
		Notices:  h.notices,
		Metrics:  metrics.NewCollector(),
	}
	h.list = NewListController(h.deps)
	h.list.Start()
	h.active = NewActiveController(h.deps, h.list)
	h.active.Start()
	t.Cleanup(func() {
		h.active.Close()
		h.list.Close()
	})
	return h
}

func (h *harness) record(t *testing.T, id string) *models.ConversationRecord {
	t.Helper()
	var got *models.ConversationRecord
	unsub, err := h.store.SubscribeConversation(context.Background(), "alice", id, func(rec *models.ConversationRecord, err error) {
		require.NoError(t, err)
		got = rec
	})
	require.NoError(t, err)
	unsub()
	return got
}

func texts(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Text
	}
	return out
}

func strPtr(s string) *string { return &s }
