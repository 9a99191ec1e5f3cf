package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/docchat/internal/answer"
	"github.com/raphaelgruber/docchat/internal/backend"
	"github.com/raphaelgruber/docchat/internal/metrics"
)

type fakeChatter struct {
	got   backend.ChatRequest
	reply string
	err   error
}

func (f *fakeChatter) Chat(_ context.Context, req backend.ChatRequest) (string, error) {
	f.got = req
	return f.reply, f.err
}

type fakeUploader struct {
	name    string
	content string
	err     error
}

func (f *fakeUploader) Accept(name string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.name, f.content = name, string(b)
	return answer.DocumentID(name, int64(len(b))), nil
}

type fakeStatus map[string]*backend.DocumentStatus

func (f fakeStatus) Get(_ context.Context, id string) (*backend.DocumentStatus, error) {
	return f[id], nil
}

type harness struct {
	chat    *fakeChatter
	upload  *fakeUploader
	handler http.Handler
}

func newHarness() *harness {
	h := &harness{chat: &fakeChatter{reply: "Hi there"}, upload: &fakeUploader{}}
	h.handler = NewHandler(Deps{
		Chat:   h.chat,
		Upload: h.upload,
		Status: fakeStatus{
			"paper.pdf_42": {DocumentID: "paper.pdf_42", Name: "paper.pdf", Status: backend.DocumentProcessing, ChunksDone: 3, ChunksTotal: 10},
		},
		Metrics: metrics.NewCollector(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body backend.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func TestChat(t *testing.T) {
	h := newHarness()
	body := `{"message":"What is the main result?","history":[{"role":"user","content":"Hello"},{"role":"model","content":"Hi there"}],"document_id":"doc123"}`

	rec := h.do(httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp backend.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hi there", resp.Reply)

	assert.Equal(t, "What is the main result?", h.chat.got.Message)
	assert.Len(t, h.chat.got.History, 2)
	require.NotNil(t, h.chat.got.DocumentID)
	assert.Equal(t, "doc123", *h.chat.got.DocumentID)
}

func TestChatNullDocument(t *testing.T) {
	h := newHarness()
	rec := h.do(httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"Hello","history":[],"document_id":null}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, h.chat.got.DocumentID)
}

func TestChatErrors(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		h := newHarness()
		rec := h.do(httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":`)))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, detail(t, rec), "Invalid chat request")
	})

	t.Run("answer failure", func(t *testing.T) {
		h := newHarness()
		h.chat.err = errors.New("rate limited")
		rec := h.do(httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"Hello"}`)))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "An error occurred during chat processing: rate limited", detail(t, rec))
	})

	t.Run("wrong method", func(t *testing.T) {
		h := newHarness()
		rec := h.do(httptest.NewRequest(http.MethodGet, "/chat", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	h := newHarness()
	rec := h.do(uploadRequest(t, "file", "paper.pdf", "%PDF-1.4 body"))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp backend.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "File upload accepted and is being processed.", resp.Message)
	assert.Equal(t, "paper.pdf_13", resp.DocumentID)
	assert.Equal(t, "paper.pdf", h.upload.name)
	assert.Equal(t, "%PDF-1.4 body", h.upload.content)
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		uploadErr  error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "missing file field",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "document", "paper.pdf", "x") },
			wantStatus: http.StatusBadRequest,
			wantDetail: "No file uploaded.",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("raw"))
			},
			wantStatus: http.StatusBadRequest,
			wantDetail: "No file uploaded.",
		},
		{
			name:       "unsupported type",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "file", "slides.pptx", "x") },
			uploadErr:  fmt.Errorf("%w: .pptx", answer.ErrUnsupportedType),
			wantStatus: http.StatusBadRequest,
			wantDetail: "Unsupported file type: slides.pptx",
		},
		{
			name:       "spool failure",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "file", "paper.pdf", "x") },
			uploadErr:  errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Failed to initiate file processing: disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.upload.err = tt.uploadErr
			rec := h.do(tt.req(t))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantDetail, detail(t, rec))
		})
	}
}

func TestDocumentStatus(t *testing.T) {
	h := newHarness()

	rec := h.do(httptest.NewRequest(http.MethodGet, "/documents/paper.pdf_42", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st backend.DocumentStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, backend.DocumentProcessing, st.Status)
	assert.Equal(t, 3, st.ChunksDone)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/documents/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHousekeepingRoutes(t *testing.T) {
	h := newHarness()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", http.StatusOK, "is running"},
		{"/favicon.ico", http.StatusNoContent, ""},
		{"/v1/models", http.StatusOK, `"data":[]`},
		{"/health", http.StatusOK, "ok"},
		{"/stats", http.StatusOK, "uptime_seconds"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := h.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestCORS(t *testing.T) {
	h := newHarness()

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := h.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
