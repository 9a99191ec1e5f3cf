package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// InsertChunks stores the embedded chunks of one document.
func (c *Client) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(chunks))
	for _, ch := range chunks {
		rows = append(rows, map[string]any{
			"document_id": ch.DocumentID,
			"position":    ch.Position,
			"content":     ch.Content,
			"embedding":   ch.Embedding,
		})
	}

	_, err := surrealdb.Query[any](ctx, c.db, `INSERT INTO doc_chunk $chunks`, map[string]any{"chunks": rows})
	if err != nil {
		return fmt.Errorf("insert chunks: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteChunks removes every chunk of a document so it can be re-ingested.
func (c *Client) DeleteChunks(ctx context.Context, documentID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `DELETE doc_chunk WHERE document_id = $doc`, map[string]any{"doc": documentID})
	if err != nil {
		return fmt.Errorf("delete chunks: %w", wrapQueryError(err))
	}
	return nil
}

// SearchChunks returns the k chunks of a document nearest to embedding.
func (c *Client) SearchChunks(ctx context.Context, documentID string, embedding []float32, k int) ([]models.DocumentChunk, error) {
	if k <= 0 {
		k = 7
	}
	start := time.Now()
	defer c.metrics.Since(metrics.OpChunkSearch, start)

	// HNSW with ef=40; filtering on document_id after the KNN cut would
	// starve small documents, so over-fetch and trim.
	sql := fmt.Sprintf(`
		SELECT document_id, position, content, vector::distance::knn() AS distance
		FROM doc_chunk
		WHERE document_id = $doc AND embedding <|%d,40|> $emb
		ORDER BY distance
		LIMIT $k
	`, k*4)

	results, err := surrealdb.Query[[]models.DocumentChunk](ctx, c.db, sql, map[string]any{
		"doc": documentID,
		"emb": embedding,
		"k":   k,
	})
	if err != nil {
		c.metrics.RecordError(metrics.OpChunkSearch)
		return nil, fmt.Errorf("search chunks: %w", wrapQueryError(err))
	}

	chunks := first(results)
	if chunks == nil {
		chunks = []models.DocumentChunk{}
	}
	return chunks, nil
}
