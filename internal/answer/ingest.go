package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrUnsupportedType is returned for uploads whose extension has no loader.
var ErrUnsupportedType = errors.New("unsupported file type")

// embedBatchSize is the number of chunks sent to the embedder per call.
const embedBatchSize = 16

// IngestOptions configures splitting and parallelism.
type IngestOptions struct {
	ChunkSize    int
	ChunkOverlap int
	// Concurrency caps documents ingested at once.
	Concurrency int
}

// Ingestor turns uploaded files into embedded chunks in the background.
type Ingestor struct {
	emb      Embedder
	chunks   ChunkStore
	tracker  *Tracker
	splitter textsplitter.TextSplitter
	sem      *semaphore.Weighted
	logger   *slog.Logger
	metrics  *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIngestor creates an ingestor. mc may be nil.
func NewIngestor(emb Embedder, chunks ChunkStore, tracker *Tracker, opts IngestOptions, logger *slog.Logger, mc *metrics.Collector) *Ingestor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		emb:     emb,
		chunks:  chunks,
		tracker: tracker,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(opts.ChunkSize),
			textsplitter.WithChunkOverlap(opts.ChunkOverlap),
		),
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		logger:  logger.With("component", "ingest"),
		metrics: mc,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// DocumentID derives the id of an uploaded file from its name and size.
// Uploading the same file twice yields the same id.
func DocumentID(name string, size int64) string {
	return fmt.Sprintf("%s_%d", name, size)
}

// Supported reports whether name has a known loader.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".docx", ".md", ".markdown":
		return true
	default:
		return false
	}
}

// Accept spools r to a temporary file and schedules its ingestion.
// It returns the document id as soon as the file is on disk. A file whose
// id is already being ingested is not scheduled twice.
func (in *Ingestor) Accept(name string, r io.Reader) (string, error) {
	if !Supported(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(name))
	}

	tmp, err := os.CreateTemp("", "docchat-*"+filepath.Ext(name))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	size, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("spool upload: %w", err)
	}

	id := DocumentID(name, size)
	if !in.tracker.Start(in.ctx, id, name) {
		// Same name and size as a running job, so it yields the same chunks.
		in.logger.Info("ingestion already running", "document_id", id)
		if err := os.Remove(tmp.Name()); err != nil {
			in.logger.Warn("failed to remove temp file", "path", tmp.Name(), "error", err)
		}
		return id, nil
	}

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer func() {
			if err := os.Remove(tmp.Name()); err != nil {
				in.logger.Warn("failed to remove temp file", "path", tmp.Name(), "error", err)
			}
		}()

		if err := in.sem.Acquire(in.ctx, 1); err != nil {
			in.tracker.Fail(context.Background(), id, err)
			return
		}
		defer in.sem.Release(1)

		if err := in.Ingest(in.ctx, id, name, tmp.Name()); err != nil {
			in.logger.Error("ingest failed", "document_id", id, "error", err)
			in.tracker.Fail(context.Background(), id, err)
			return
		}
		in.tracker.Complete(in.ctx, id)
	}()

	return id, nil
}

// Ingest loads, splits and embeds the file at path under document id.
// Chunks from an earlier ingestion of the same id are replaced.
func (in *Ingestor) Ingest(ctx context.Context, id, name, path string) error {
	start := time.Now()
	defer in.metrics.Since(metrics.OpIngest, start)

	text, err := loadText(ctx, name, path)
	if err != nil {
		in.metrics.RecordError(metrics.OpIngest)
		return err
	}

	parts, err := in.splitter.SplitText(text)
	if err != nil {
		in.metrics.RecordError(metrics.OpIngest)
		return fmt.Errorf("split: %w", err)
	}
	if len(parts) == 0 {
		in.metrics.RecordError(metrics.OpIngest)
		return fmt.Errorf("no text found in %s", name)
	}
	in.logger.Info("document split", "document_id", id, "chunks", len(parts))
	in.tracker.Progress(ctx, id, 0, len(parts))

	if err := in.chunks.DeleteChunks(ctx, id); err != nil {
		return err
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for lo := 0; lo < len(parts); lo += embedBatchSize {
		hi := min(lo+embedBatchSize, len(parts))
		g.Go(func() error {
			vectors, err := in.emb.EmbedBatch(gctx, parts[lo:hi])
			if err != nil {
				return err
			}
			batch := make([]models.DocumentChunk, 0, hi-lo)
			for i, vec := range vectors {
				batch = append(batch, models.DocumentChunk{
					DocumentID: id,
					Position:   lo + i,
					Content:    parts[lo+i],
					Embedding:  vec,
				})
			}
			if err := in.chunks.InsertChunks(gctx, batch); err != nil {
				return err
			}
			in.tracker.Progress(gctx, id, int(done.Add(int64(len(batch)))), len(parts))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		in.metrics.RecordError(metrics.OpIngest)
		return fmt.Errorf("embed chunks: %w", err)
	}

	in.logger.Info("document ingested", "document_id", id, "chunks", len(parts), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Close cancels running ingestions and waits for them to stop or ctx to end.
func (in *Ingestor) Close(ctx context.Context) error {
	in.cancel()
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadText extracts the full text of a file, pages joined by newlines.
func loadText(ctx context.Context, name, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}

	var loader documentloaders.Loader
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		loader = documentloaders.NewPDF(f, info.Size())
	case ".txt":
		loader = documentloaders.NewText(f)
	case ".docx":
		loader = newDocx(f, info.Size())
	case ".md", ".markdown":
		loader = newMarkdown(f)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(name))
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", name, err)
	}
	pages := make([]string, len(docs))
	for i, d := range docs {
		pages[i] = d.PageContent
	}
	return strings.Join(pages, "\n"), nil
}
