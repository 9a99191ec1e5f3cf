package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/docchat/internal/backend"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// documentRow is the persisted ingestion status of an uploaded document.
type documentRow struct {
	ID          surrealmodels.RecordID `json:"id,omitempty"`
	Name        string                 `json:"name"`
	Status      string                 `json:"status"`
	ChunksDone  int                    `json:"chunks_done"`
	ChunksTotal int                    `json:"chunks_total"`
	Error       *string                `json:"error,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// SaveDocumentStatus upserts the status of a document by id.
func (c *Client) SaveDocumentStatus(ctx context.Context, id, name, status string, done, total int, errMsg *string) error {
	vars := map[string]any{
		"id":     id,
		"name":   name,
		"status": status,
		"done":   done,
		"total":  total,
	}
	errClause := "error = NONE"
	if errMsg != nil {
		errClause = "error = $error"
		vars["error"] = *errMsg
	}

	_, err := surrealdb.Query[any](ctx, c.db, fmt.Sprintf(`
		UPSERT type::record("document", $id) SET
			name = $name,
			status = $status,
			chunks_done = $done,
			chunks_total = $total,
			%s,
			updated_at = time::now()
	`, errClause), vars)
	if err != nil {
		return fmt.Errorf("save document status: %w", wrapQueryError(err))
	}
	return nil
}

// GetDocumentStatus returns the stored status, or nil if unknown.
func (c *Client) GetDocumentStatus(ctx context.Context, id string) (*backend.DocumentStatus, error) {
	results, err := surrealdb.Query[[]documentRow](ctx, c.db, `
		SELECT * FROM type::record("document", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get document status: %w", wrapQueryError(err))
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	status := &backend.DocumentStatus{
		DocumentID:  id,
		Name:        row.Name,
		Status:      row.Status,
		ChunksDone:  row.ChunksDone,
		ChunksTotal: row.ChunksTotal,
	}
	if row.Error != nil {
		status.Error = *row.Error
	}
	return status, nil
}
