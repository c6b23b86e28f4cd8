// Package meili is a minimal Meilisearch REST client covering the surface
// the service needs: search, index settings, document ingestion, task
// polling, and health.
package meili

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient abstracts the HTTP transport for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the connection settings.
type Config struct {
	Host    string
	APIKey  string
	Timeout time.Duration
}

// Client talks to one Meilisearch instance.
type Client struct {
	host   string
	apiKey string
	httpc  HTTPClient
}

// APIError is a Meilisearch error response body.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	ErrType    string `json:"type"`
	Link       string `json:"link"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meilisearch: %s (code=%s, status=%d)", e.Message, e.Code, e.StatusCode)
}

// SearchRequest is the body of a search call.
type SearchRequest struct {
	Query  string `json:"q"`
	Filter string `json:"filter,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// SearchResponse is the subset of the search result the service uses.
type SearchResponse struct {
	Hits               []map[string]interface{} `json:"hits"`
	EstimatedTotalHits int                      `json:"estimatedTotalHits"`
	ProcessingTimeMs   int                      `json:"processingTimeMs"`
	Query              string                   `json:"query"`
}

// Settings is the subset of index settings the sync job manages.
type Settings struct {
	SearchableAttributes []string `json:"searchableAttributes,omitempty"`
	FilterableAttributes []string `json:"filterableAttributes,omitempty"`
	SortableAttributes   []string `json:"sortableAttributes,omitempty"`
	DisplayedAttributes  []string `json:"displayedAttributes,omitempty"`
}

// TaskInfo is returned by mutating endpoints.
type TaskInfo struct {
	TaskUID int64  `json:"taskUid"`
	Status  string `json:"status"`
}

// Task is the polled task state.
type Task struct {
	UID    int64  `json:"uid"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewClient creates a client for the given host.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		host:   cfg.Host,
		apiKey: cfg.APIKey,
		httpc:  &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP creates a client with a caller-supplied transport.
func NewClientWithHTTP(cfg Config, httpc HTTPClient) *Client {
	return &Client{host: cfg.Host, apiKey: cfg.APIKey, httpc: httpc}
}

// Health checks the /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "available" {
		return fmt.Errorf("meilisearch unhealthy: status %q", out.Status)
	}
	return nil
}

// Search runs a search against one index.
func (c *Client) Search(ctx context.Context, index string, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	path := fmt.Sprintf("/indexes/%s/search", index)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSettings replaces the managed settings of an index.
func (c *Client) UpdateSettings(ctx context.Context, index string, settings Settings) (int64, error) {
	var out TaskInfo
	path := fmt.Sprintf("/indexes/%s/settings", index)
	if err := c.do(ctx, http.MethodPatch, path, settings, &out); err != nil {
		return 0, err
	}
	return out.TaskUID, nil
}

// AddDocuments upserts documents into an index.
func (c *Client) AddDocuments(ctx context.Context, index string, documents interface{}, primaryKey string) (int64, error) {
	var out TaskInfo
	path := fmt.Sprintf("/indexes/%s/documents", index)
	if primaryKey != "" {
		path += "?primaryKey=" + primaryKey
	}
	if err := c.do(ctx, http.MethodPost, path, documents, &out); err != nil {
		return 0, err
	}
	return out.TaskUID, nil
}

// WaitForTask polls a task until it succeeds, fails, or ctx expires.
func (c *Client) WaitForTask(ctx context.Context, taskUID int64) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		var task Task
		if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tasks/%d", taskUID), nil, &task); err != nil {
			return err
		}
		switch task.Status {
		case "succeeded":
			return nil
		case "failed", "canceled":
			if task.Error != nil {
				return fmt.Errorf("meilisearch task %d %s: %s (code=%s)", taskUID, task.Status, task.Error.Message, task.Error.Code)
			}
			return fmt.Errorf("meilisearch task %d %s", taskUID, task.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("meilisearch: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return fmt.Errorf("meilisearch: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("meilisearch: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("meilisearch: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(data)
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("meilisearch: decode response: %w", err)
		}
	}
	return nil
}
