package answer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/docchat/internal/backend"
)

type fakeStatusStore struct {
	mu     sync.Mutex
	saved  []backend.DocumentStatus
	stored map[string]*backend.DocumentStatus
	err    error
}

func (s *fakeStatusStore) SaveDocumentStatus(_ context.Context, id, name, status string, done, total int, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := backend.DocumentStatus{DocumentID: id, Name: name, Status: status, ChunksDone: done, ChunksTotal: total}
	if errMsg != nil {
		st.Error = *errMsg
	}
	s.saved = append(s.saved, st)
	return s.err
}

func (s *fakeStatusStore) GetDocumentStatus(_ context.Context, id string) (*backend.DocumentStatus, error) {
	return s.stored[id], nil
}

func (s *fakeStatusStore) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.saved))
	for i, st := range s.saved {
		out[i] = st.Status
	}
	return out
}

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	store := &fakeStatusStore{}
	tr := NewTracker(store)

	tr.Start(ctx, "paper.pdf_42", "paper.pdf")
	got, err := tr.Get(ctx, "paper.pdf_42")
	require.NoError(t, err)
	assert.Equal(t, backend.DocumentPending, got.Status)

	tr.Progress(ctx, "paper.pdf_42", 1, 3)
	tr.Progress(ctx, "paper.pdf_42", 2, 3)
	tr.Progress(ctx, "paper.pdf_42", 3, 3)
	got, _ = tr.Get(ctx, "paper.pdf_42")
	assert.Equal(t, backend.DocumentProcessing, got.Status)
	assert.Equal(t, 3, got.ChunksDone)
	assert.Equal(t, 3, got.ChunksTotal)

	tr.Complete(ctx, "paper.pdf_42")
	got, _ = tr.Get(ctx, "paper.pdf_42")
	assert.Equal(t, backend.DocumentReady, got.Status)

	// The middle progress update falls inside the debounce window.
	assert.Equal(t, []string{"pending", "processing", "processing", "ready"}, store.statuses())
}

func TestTrackerFail(t *testing.T) {
	ctx := context.Background()
	store := &fakeStatusStore{}
	tr := NewTracker(store)

	tr.Start(ctx, "a.txt_1", "a.txt")
	tr.Fail(ctx, "a.txt_1", errors.New("no text found in a.txt"))

	got, err := tr.Get(ctx, "a.txt_1")
	require.NoError(t, err)
	assert.Equal(t, backend.DocumentFailed, got.Status)
	assert.Equal(t, "no text found in a.txt", got.Error)
	assert.Equal(t, "no text found in a.txt", store.saved[len(store.saved)-1].Error)
}

func TestTrackerIgnoresUnknownJobs(t *testing.T) {
	ctx := context.Background()
	store := &fakeStatusStore{}
	tr := NewTracker(store)

	tr.Progress(ctx, "ghost", 1, 2)
	tr.Complete(ctx, "ghost")

	assert.Empty(t, store.saved)
	assert.Empty(t, tr.List())
}

func TestTrackerGetFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := &fakeStatusStore{stored: map[string]*backend.DocumentStatus{
		"old.pdf_7": {DocumentID: "old.pdf_7", Status: backend.DocumentReady},
	}}
	tr := NewTracker(store)

	got, err := tr.Get(ctx, "old.pdf_7")
	require.NoError(t, err)
	assert.Equal(t, backend.DocumentReady, got.Status)

	got, err = tr.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = NewTracker(nil).Get(ctx, "old.pdf_7")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTrackerPersistErrorIsNotFatal(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(&fakeStatusStore{err: errors.New("db down")})

	tr.Start(ctx, "a.txt_1", "a.txt")
	tr.Complete(ctx, "a.txt_1")

	got, err := tr.Get(ctx, "a.txt_1")
	require.NoError(t, err)
	assert.Equal(t, backend.DocumentReady, got.Status)
	assert.Len(t, tr.List(), 1)
}

func TestTrackerStartRefusesRunningJob(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(nil)

	require.True(t, tr.Start(ctx, "a.txt_1", "a.txt"))
	assert.False(t, tr.Start(ctx, "a.txt_1", "a.txt"), "pending")

	tr.Progress(ctx, "a.txt_1", 1, 2)
	assert.False(t, tr.Start(ctx, "a.txt_1", "a.txt"), "processing")
	got, _ := tr.Get(ctx, "a.txt_1")
	assert.Equal(t, 1, got.ChunksDone, "a refused start leaves the job alone")

	tr.Fail(ctx, "a.txt_1", errors.New("boom"))
	assert.True(t, tr.Start(ctx, "a.txt_1", "a.txt"), "a failed run may be retried")
	got, _ = tr.Get(ctx, "a.txt_1")
	assert.Equal(t, backend.DocumentPending, got.Status)
	assert.Empty(t, got.Error)
}
