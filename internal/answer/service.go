// Package answer implements the answering backend: general chat, retrieval
// over an uploaded document, and document ingestion.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/docchat/internal/backend"
	"github.com/raphaelgruber/docchat/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	generalPrompt = "You are a helpful assistant. Answer the user's question based on the conversation history."

	ragPrompt = "You are an expert assistant. Your task is to provide a detailed and comprehensive answer to the user's question " +
		"based *only* on the following retrieved context. Synthesize the information, explain key concepts, and include " +
		"relevant details from the text. If the answer is not present in the context, state that you cannot answer " +
		"based on the provided document.\n\nContext:\n%s"

	multiQueryPrompt = `You are an AI language model assistant. Your task is to generate 3 different versions of the given user question to retrieve relevant documents from a vector database. By generating multiple perspectives on the user question, your goal is to help the user overcome some of the limitations of distance-based similarity search. Provide these alternative questions separated by newlines.
Original question: %s`

	// DefaultRetrievalK is the number of chunks fetched per query.
	DefaultRetrievalK = 7
)

// Generator produces model replies.
type Generator interface {
	Chat(ctx context.Context, system string, history []models.HistoryEntry, question string) (string, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore holds embedded document chunks.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error
	DeleteChunks(ctx context.Context, documentID string) error
	SearchChunks(ctx context.Context, documentID string, embedding []float32, k int) ([]models.DocumentChunk, error)
}

// Service answers chat requests.
type Service struct {
	gen    Generator
	emb    Embedder
	chunks ChunkStore
	logger *slog.Logger
	k      int
}

// NewService creates a chat service. k <= 0 selects DefaultRetrievalK.
func NewService(gen Generator, emb Embedder, chunks ChunkStore, k int, logger *slog.Logger) *Service {
	if k <= 0 {
		k = DefaultRetrievalK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gen: gen, emb: emb, chunks: chunks, k: k, logger: logger.With("component", "answer")}
}

// Chat answers req. Without a document id this is plain chat over the
// history; with one, the reply is grounded on the document's chunks.
func (s *Service) Chat(ctx context.Context, req backend.ChatRequest) (string, error) {
	if req.DocumentID == nil || *req.DocumentID == "" {
		s.logger.Debug("general chat", "history", len(req.History))
		reply, err := s.gen.Chat(ctx, generalPrompt, req.History, req.Message)
		if err != nil {
			return "", fmt.Errorf("general chat: %w", err)
		}
		return reply, nil
	}

	docID := *req.DocumentID
	s.logger.Debug("document chat", "document_id", docID, "history", len(req.History))

	chunks, err := s.retrieve(ctx, docID, req.Message)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}

	reply, err := s.gen.Chat(ctx, fmt.Sprintf(ragPrompt, formatChunks(chunks)), req.History, req.Message)
	if err != nil {
		return "", fmt.Errorf("document chat: %w", err)
	}
	return reply, nil
}

// retrieve searches the document with several rephrasings of question and
// returns the union of the hits, first occurrence wins.
func (s *Service) retrieve(ctx context.Context, docID, question string) ([]models.DocumentChunk, error) {
	queries := s.expandQuery(ctx, question)

	results := make([][]models.DocumentChunk, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, q := range queries {
		g.Go(func() error {
			vec, err := s.emb.Embed(gctx, q)
			if err != nil {
				return err
			}
			hits, err := s.chunks.SearchChunks(gctx, docID, vec, s.k)
			if err != nil {
				return err
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	var out []models.DocumentChunk
	for _, hits := range results {
		for _, h := range hits {
			if seen[h.Position] {
				continue
			}
			seen[h.Position] = true
			out = append(out, h)
		}
	}
	s.logger.Debug("retrieved chunks", "document_id", docID, "queries", len(queries), "chunks", len(out))
	return out, nil
}

// expandQuery asks the model for alternative phrasings. It falls back to
// the original question if generation fails or yields nothing.
func (s *Service) expandQuery(ctx context.Context, question string) []string {
	raw, err := s.gen.Generate(ctx, fmt.Sprintf(multiQueryPrompt, question))
	if err != nil {
		s.logger.Warn("query expansion failed", "error", err)
		return []string{question}
	}
	queries := parseQueries(raw)
	if len(queries) == 0 {
		return []string{question}
	}
	return queries
}

// parseQueries splits model output into one query per non-empty line,
// stripping list markers.
func parseQueries(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func formatChunks(chunks []models.DocumentChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, "\n\n")
}
