package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/raphaelgruber/docchat/internal/answer"
	"github.com/raphaelgruber/docchat/internal/backend"
	"github.com/raphaelgruber/docchat/internal/metrics"
)

// maxUploadBytes caps a single upload.
const maxUploadBytes = 50 << 20

// Chatter answers chat requests.
type Chatter interface {
	Chat(ctx context.Context, req backend.ChatRequest) (string, error)
}

// Uploader accepts files for background ingestion.
type Uploader interface {
	Accept(name string, r io.Reader) (string, error)
}

// StatusReader reports ingestion progress.
type StatusReader interface {
	Get(ctx context.Context, id string) (*backend.DocumentStatus, error)
}

// Deps are the collaborators behind the HTTP routes.
type Deps struct {
	Chat    Chatter
	Upload  Uploader
	Status  StatusReader
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

type handlers struct {
	Deps
}

// NewHandler builds the routed, logged and CORS-enabled handler.
func NewHandler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{Deps: d}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("POST /chat", h.chat)
	mux.HandleFunc("POST /upload", h.upload)
	mux.HandleFunc("GET /documents/{id}", h.documentStatus)
	mux.HandleFunc("GET /stats", h.stats)

	return CORSMiddleware(LoggingMiddleware(d.Logger)(mux))
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "docchat answering backend is running."})
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req backend.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid chat request: "+err.Error())
		return
	}

	reply, err := h.Chat.Chat(r.Context(), req)
	if err != nil {
		h.Logger.Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred during chat processing: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, backend.ChatResponse{Reply: reply})
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil || header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file uploaded.")
		return
	}
	defer file.Close()

	id, err := h.Upload.Accept(header.Filename, file)
	if errors.Is(err, answer.ErrUnsupportedType) {
		writeError(w, http.StatusBadRequest, "Unsupported file type: "+header.Filename)
		return
	}
	if err != nil {
		h.Logger.Error("upload failed", "name", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to initiate file processing: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, backend.UploadResponse{
		Message:    "File upload accepted and is being processed.",
		DocumentID: id,
	})
}

func (h *handlers) documentStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.Status.Get(r.Context(), id)
	if err != nil {
		h.Logger.Error("document status failed", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read document status: "+err.Error())
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "Unknown document: "+id)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handlers) stats(w http.ResponseWriter, _ *http.Request) {
	if h.Metrics == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, h.Metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, backend.ErrorResponse{Detail: detail})
}
