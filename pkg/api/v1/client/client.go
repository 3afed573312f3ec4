// Package client provides the API client for interacting with the dashboard API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mzxrai/memva-sub002/internal/api/v1/handlers"
	"github.com/mzxrai/memva-sub002/internal/db/models"
)

// DefaultBaseURL is the default API server address.
const DefaultBaseURL = "http://localhost:8080"

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient talks to the dashboard API over HTTP.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (*APIClient, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &APIClient{
		baseURL:    opts.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// apiResponse mirrors the server's response envelope with the data left raw
// for per-call decoding.
type apiResponse struct {
	Slug  handlers.Slug   `json:"slug"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CreateJob enqueues a new job
func (c *APIClient) CreateJob(ctx context.Context, req handlers.CreateJobRequest) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobs lists jobs, optionally filtered by status and type
func (c *APIClient) GetJobs(ctx context.Context, status, jobType string, limit int) ([]models.Job, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if jobType != "" {
		query.Set("type", jobType)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}

	path := "/api/v1/jobs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var jobs []models.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJobStats returns per-status job counts
func (c *APIClient) GetJobStats(ctx context.Context) (map[string]int64, error) {
	var stats map[string]int64
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/stats", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// CancelJob cancels a pending or active job
func (c *APIClient) CancelJob(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%d/cancel", id), nil, nil)
}

// GetSessionPermissions lists a session's permission requests
func (c *APIClient) GetSessionPermissions(ctx context.Context, sessionID, status string) ([]models.PermissionRequest, error) {
	path := fmt.Sprintf("/api/v1/sessions/%s/permissions", url.PathEscape(sessionID))
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var reqs []models.PermissionRequest
	if err := c.do(ctx, http.MethodGet, path, nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// RecordDecision applies an allow/deny decision to a pending permission request
func (c *APIClient) RecordDecision(ctx context.Context, id, decision string) error {
	path := fmt.Sprintf("/api/v1/permissions/%s/decision", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, handlers.DecisionRequest{Decision: decision}, nil)
}

// GetSessionStatus returns a session's projected display status
func (c *APIClient) GetSessionStatus(ctx context.Context, sessionID string) (*handlers.SessionStatusData, error) {
	path := fmt.Sprintf("/api/v1/sessions/%s/status", url.PathEscape(sessionID))
	var data handlers.SessionStatusData
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Slug != handlers.SuccessSlug {
		return fmt.Errorf("API error (%s): %s", envelope.Slug, envelope.Error)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
