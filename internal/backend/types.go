package backend

import (
	"errors"

	"github.com/raphaelgruber/docchat/internal/models"
)

// GenericErrorDetail is shown when a failed response carries no readable detail.
const GenericErrorDetail = "Sorry, something went wrong. Please try again."

// ErrMalformedResponse indicates a success status with an unusable body.
var ErrMalformedResponse = errors.New("malformed response from answering backend")

// ChatRequest is the body of POST /chat.
// DocumentID is serialized as null when no document is attached.
type ChatRequest struct {
	Message    string                `json:"message"`
	History    []models.HistoryEntry `json:"history"`
	DocumentID *string               `json:"document_id"`
}

// ChatResponse is the body of a successful POST /chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// UploadResponse is the body of a successful POST /upload.
type UploadResponse struct {
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
}

// ErrorResponse is the body of any failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// DocumentStatus reports background ingestion of an uploaded document.
type DocumentStatus struct {
	DocumentID  string `json:"document_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	ChunksDone  int    `json:"chunks_done"`
	ChunksTotal int    `json:"chunks_total"`
	Error       string `json:"error,omitempty"`
}

// Document ingestion states reported by DocumentStatus.
const (
	DocumentPending    = "pending"
	DocumentProcessing = "processing"
	DocumentReady      = "ready"
	DocumentFailed     = "failed"
)

// APIError is a non-success response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return e.Detail
}

// Detail extracts the human-readable part of an error for display.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
