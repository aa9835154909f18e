package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the HTTP client the CLI uses to talk to a running daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a client for the daemon at bind, e.g. "127.0.0.1:7641".
func NewClient(bind string) *Client {
	base := strings.TrimSpace(bind)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// ListJobs fetches recent jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string) ([]JobView, error) {
	path := "/api/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// CreateJob enqueues a new job.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (JobView, error) {
	var out JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &out); err != nil {
		return JobView{}, err
	}
	return out.Job, nil
}

// GetJob fetches a single job by id.
func (c *Client) GetJob(ctx context.Context, id string) (JobView, error) {
	var out JobResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return JobView{}, err
	}
	return out.Job, nil
}

// CancelJob cancels a pending job by id.
func (c *Client) CancelJob(ctx context.Context, id string) (JobView, error) {
	var out JobResponse
	if err := c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return JobView{}, err
	}
	return out.Job, nil
}

// ApproveAsset advances an asset one workflow stage.
func (c *Client) ApproveAsset(ctx context.Context, assetID string) (WorkflowResponse, error) {
	var out WorkflowResponse
	err := c.do(ctx, http.MethodPost, "/api/workflow/"+url.PathEscape(assetID)+"/approve", nil, &out)
	return out, err
}

// AdvanceAsset sets an asset's workflow stage directly.
func (c *Client) AdvanceAsset(ctx context.Context, assetID, stage string) (WorkflowResponse, error) {
	var out WorkflowResponse
	err := c.do(ctx, http.MethodPost, "/api/workflow/"+url.PathEscape(assetID)+"/advance", AdvanceRequest{Stage: stage}, &out)
	return out, err
}

// SkipToExport jumps an asset straight to the exported stage.
func (c *Client) SkipToExport(ctx context.Context, assetID string) (WorkflowResponse, error) {
	var out WorkflowResponse
	err := c.do(ctx, http.MethodPost, "/api/workflow/"+url.PathEscape(assetID)+"/export", nil, &out)
	return out, err
}

// AssetStage fetches an asset's current workflow stage.
func (c *Client) AssetStage(ctx context.Context, assetID string) (WorkflowResponse, error) {
	var out WorkflowResponse
	err := c.do(ctx, http.MethodGet, "/api/workflow/"+url.PathEscape(assetID), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr == nil && payload.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, payload.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
