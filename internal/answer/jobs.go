package answer

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/docchat/internal/backend"
)

// StatusStore persists ingestion status so it survives restarts.
type StatusStore interface {
	SaveDocumentStatus(ctx context.Context, id, name, status string, done, total int, errMsg *string) error
	GetDocumentStatus(ctx context.Context, id string) (*backend.DocumentStatus, error)
}

// Tracker keeps the ingestion status of every document seen by this process.
type Tracker struct {
	mu    sync.RWMutex
	jobs  map[string]*job
	store StatusStore
}

type job struct {
	status    backend.DocumentStatus
	startedAt time.Time
	// lastPersist debounces progress writes.
	lastPersist time.Time
}

// NewTracker creates a tracker. store may be nil.
func NewTracker(store StatusStore) *Tracker {
	return &Tracker{jobs: make(map[string]*job), store: store}
}

// Start registers a pending job, replacing any finished run for id. It
// reports false, changing nothing, while a run for id is still pending or
// processing.
func (t *Tracker) Start(ctx context.Context, id, name string) bool {
	t.mu.Lock()
	if prev, ok := t.jobs[id]; ok && running(prev.status.Status) {
		t.mu.Unlock()
		return false
	}
	j := &job{
		status:    backend.DocumentStatus{DocumentID: id, Name: name, Status: backend.DocumentPending},
		startedAt: time.Now(),
	}
	t.jobs[id] = j
	t.mu.Unlock()
	t.persist(ctx, j.status)
	slog.Info("ingest job created", "document_id", id, "name", name)
	return true
}

func running(status string) bool {
	return status == backend.DocumentPending || status == backend.DocumentProcessing
}

// Progress marks the job processing with done of total chunks embedded.
func (t *Tracker) Progress(ctx context.Context, id string, done, total int) {
	t.mu.Lock()
	j, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	j.status.Status = backend.DocumentProcessing
	j.status.ChunksDone = done
	j.status.ChunksTotal = total
	// Persist every 2 seconds and on the last chunk.
	shouldPersist := time.Since(j.lastPersist) > 2*time.Second || done == total
	if shouldPersist {
		j.lastPersist = time.Now()
	}
	snap := j.status
	t.mu.Unlock()

	if shouldPersist {
		t.persist(ctx, snap)
	}
}

// Complete marks the job ready.
func (t *Tracker) Complete(ctx context.Context, id string) {
	t.finish(ctx, id, backend.DocumentReady, "")
}

// Fail marks the job failed with err.
func (t *Tracker) Fail(ctx context.Context, id string, err error) {
	t.finish(ctx, id, backend.DocumentFailed, err.Error())
}

func (t *Tracker) finish(ctx context.Context, id, status, errMsg string) {
	t.mu.Lock()
	j, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	j.status.Status = status
	j.status.Error = errMsg
	snap := j.status
	elapsed := time.Since(j.startedAt)
	t.mu.Unlock()

	t.persist(ctx, snap)
	slog.Info("ingest job finished", "document_id", id, "status", status, "chunks", snap.ChunksTotal, "duration_ms", elapsed.Milliseconds())
}

// Get returns the status for id, falling back to the status store.
func (t *Tracker) Get(ctx context.Context, id string) (*backend.DocumentStatus, error) {
	t.mu.RLock()
	j, ok := t.jobs[id]
	var snap backend.DocumentStatus
	if ok {
		snap = j.status
	}
	t.mu.RUnlock()
	if ok {
		return &snap, nil
	}
	if t.store == nil {
		return nil, nil
	}
	return t.store.GetDocumentStatus(ctx, id)
}

// List returns this process's jobs, most recent first.
func (t *Tracker) List() []backend.DocumentStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	jobs := make([]*job, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, j)
	}
	slices.SortFunc(jobs, func(a, b *job) int {
		return b.startedAt.Compare(a.startedAt)
	})

	out := make([]backend.DocumentStatus, len(jobs))
	for i, j := range jobs {
		out[i] = j.status
	}
	return out
}

func (t *Tracker) persist(ctx context.Context, s backend.DocumentStatus) {
	if t.store == nil {
		return
	}
	var errMsg *string
	if s.Error != "" {
		errMsg = &s.Error
	}
	if err := t.store.SaveDocumentStatus(ctx, s.DocumentID, s.Name, s.Status, s.ChunksDone, s.ChunksTotal, errMsg); err != nil {
		slog.Warn("failed to persist ingest status", "document_id", s.DocumentID, "error", err)
	}
}
