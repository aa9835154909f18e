package api

import (
	"time"

	"kiln/internal/queue"
	"kiln/internal/vram"
)

// JobView is the wire representation of a job.
type JobView struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	Progress    float64        `json:"progress"`
	Stage       string         `json:"stage,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
}

// FromJob converts a queue job into its wire representation.
func FromJob(job *queue.Job) JobView {
	if job == nil {
		return JobView{}
	}
	return JobView{
		ID:          job.ID,
		Type:        job.Type,
		Status:      string(job.Status),
		Priority:    job.Priority.String(),
		Progress:    job.Progress,
		Stage:       job.Stage,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.Error,
		Result:      job.Result,
	}
}

// CreateJobRequest enqueues a new job. ID is optional; the daemon assigns one
// when absent.
type CreateJobRequest struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Priority string         `json:"priority,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// PreflightView is the wire representation of a readiness check.
type PreflightView struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus is the top-level status payload.
type DaemonStatus struct {
	Running      bool                 `json:"running"`
	PID          int                  `json:"pid"`
	WorkerState  string               `json:"worker_state"`
	QueueDBPath  string               `json:"queue_db_path,omitempty"`
	LockFilePath string               `json:"lock_file_path,omitempty"`
	Queue        queue.StatusSnapshot `json:"queue"`
	Pipeline     vram.Status          `json:"pipeline"`
	Connections  int                  `json:"connections"`
	Preflight    []PreflightView      `json:"preflight,omitempty"`
}

// WorkflowResponse reports the outcome of a workflow operation.
type WorkflowResponse struct {
	AssetID  string   `json:"asset_id"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Advanced bool     `json:"advanced"`
	Skipped  []string `json:"skipped,omitempty"`
}

// AdvanceRequest sets an asset's workflow stage directly.
type AdvanceRequest struct {
	Stage string `json:"stage"`
}
