// Package backend provides the HTTP client for the answering and upload backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/models"
)

// Client talks to the answering backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Collector
}

// New creates a client for the backend at baseURL.
// No request timeout is applied; callers bound calls through their context.
func New(baseURL string, mc *metrics.Collector) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		metrics:    mc,
	}
}

// Chat sends one question with its history and returns the reply text.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	start := time.Now()
	defer c.metrics.Since(metrics.OpBackendChat, start)

	if req.History == nil {
		req.History = []models.HistoryEntry{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp struct {
		Reply *string `json:"reply"`
	}
	if err := c.do(httpReq, &resp); err != nil {
		c.metrics.RecordError(metrics.OpBackendChat)
		return "", err
	}
	if resp.Reply == nil {
		c.metrics.RecordError(metrics.OpBackendChat)
		return "", fmt.Errorf("chat: %w", ErrMalformedResponse)
	}
	return *resp.Reply, nil
}

// Upload streams a file to the backend as multipart form field "file".
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*UploadResponse, error) {
	start := time.Now()
	defer c.metrics.Since(metrics.OpBackendUpload, start)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var resp UploadResponse
	if err := c.do(httpReq, &resp); err != nil {
		c.metrics.RecordError(metrics.OpBackendUpload)
		return nil, err
	}
	if resp.DocumentID == "" {
		return nil, fmt.Errorf("upload: %w", ErrMalformedResponse)
	}
	return &resp, nil
}

// DocumentStatus fetches the ingestion state of an uploaded document.
func (c *Client) DocumentStatus(ctx context.Context, documentID string) (*DocumentStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents/"+url.PathEscape(documentID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var status DocumentStatus
	if err := c.do(httpReq, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// do executes the request and decodes a 2xx body into out. Any other status
// becomes an *APIError carrying the backend's detail, or a generic fallback
// when the body is unreadable.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Detail: parseDetail(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// parseDetail extracts {"detail": "..."}; validation errors carry a list
// instead of a string and fall back to the generic text too.
func parseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return GenericErrorDetail
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err != nil || strings.TrimSpace(detail) == "" {
		return GenericErrorDetail
	}
	return detail
}
