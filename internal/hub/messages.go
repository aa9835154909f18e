package hub

import (
	"time"

	"kiln/internal/queue"
)

// Message is an outbound push payload. Every message carries a "type" tag
// and an ISO-8601 "timestamp"; the hub stamps the timestamp when absent.
type Message map[string]any

func (m Message) stampNow() {
	if _, ok := m["timestamp"]; !ok {
		m["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
}

// Outbound message type tags.
const (
	TypeProgress        = "progress"
	TypeQueueStatus     = "queue_status"
	TypeJobCreated      = "job_created"
	TypeAssetReady      = "asset_ready"
	TypeError           = "error"
	TypePong            = "pong"
	TypeRiggingProgress = "rigging_progress"
	TypeRiggingComplete = "rigging_complete"
	TypePipelineStatus  = "pipeline_status"
	TypeWorkflowUpdate  = "workflow_update"
)

// ProgressMessage reports a job's progress fraction and stage label.
func ProgressMessage(jobID string, progress float64, stage string, status queue.Status) Message {
	return Message{
		"type":     TypeProgress,
		"job_id":   jobID,
		"progress": progress,
		"stage":    stage,
		"status":   string(status),
	}
}

// FailedProgressMessage reports a terminal failure for a job.
func FailedProgressMessage(jobID string, progress float64, stage, errMsg string) Message {
	return Message{
		"type":     TypeProgress,
		"job_id":   jobID,
		"progress": progress,
		"stage":    stage,
		"status":   string(queue.StatusFailed),
		"error":    errMsg,
	}
}

// QueueStatusMessage wraps a queue counters snapshot.
func QueueStatusMessage(status queue.StatusSnapshot) Message {
	return Message{
		"type":   TypeQueueStatus,
		"status": status,
	}
}

// JobCreatedMessage announces a newly enqueued job.
func JobCreatedMessage(jobID, jobType string, priority queue.Priority) Message {
	return Message{
		"type":     TypeJobCreated,
		"job_id":   jobID,
		"job_type": jobType,
		"priority": priority.String(),
	}
}

// AssetReadyMessage announces that a job produced a downloadable deliverable.
func AssetReadyMessage(assetID, name, downloadPath string) Message {
	return Message{
		"type":          TypeAssetReady,
		"asset_id":      assetID,
		"name":          name,
		"download_path": downloadPath,
	}
}

// ErrorMessage pushes a human-readable error to observers.
func ErrorMessage(context, errMsg string) Message {
	return Message{
		"type":    TypeError,
		"context": context,
		"error":   errMsg,
	}
}

// PongMessage answers an inbound ping.
func PongMessage() Message {
	return Message{"type": TypePong}
}

// RiggingProgressMessage reports progress of a rigging sub-workflow.
func RiggingProgressMessage(assetID string, progress float64, stage string) Message {
	return Message{
		"type":     TypeRiggingProgress,
		"asset_id": assetID,
		"progress": progress,
		"stage":    stage,
	}
}

// RiggingCompleteMessage announces a finished rigging sub-workflow.
func RiggingCompleteMessage(assetID, riggedPath string) Message {
	return Message{
		"type":        TypeRiggingComplete,
		"asset_id":    assetID,
		"rigged_path": riggedPath,
	}
}

// PipelineStatusMessage reports model slot residencies and device memory.
func PipelineStatusMessage(status any) Message {
	return Message{
		"type":   TypePipelineStatus,
		"status": status,
	}
}

// WorkflowUpdateMessage announces an asset's workflow stage transition.
func WorkflowUpdateMessage(assetID, stage, message string) Message {
	return Message{
		"type":     TypeWorkflowUpdate,
		"asset_id": assetID,
		"stage":    stage,
		"message":  message,
	}
}
