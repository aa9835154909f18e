package worker

import (
	"context"

	"kiln/internal/inference"
	"kiln/internal/queue"
	"kiln/internal/vram"
	"kiln/internal/workflow"
)

// Handler executes one job type. Execute receives the preprocessing artifact
// (nil when the job type needs none) and reports progress through onProgress.
type Handler interface {
	JobType() string
	// DeviceStage names the device-memory stage to prepare before Execute,
	// or empty when residency does not matter for this job type.
	DeviceStage() string
	Execute(ctx context.Context, job *queue.Job, artifact any, onProgress inference.ProgressFunc) (inference.Result, error)
}

// EngineHandler adapts an inference.Engine into a Handler.
type EngineHandler struct {
	jobType   string
	stage     string
	engine    inference.Engine
	outputDir string
}

// NewEngineHandler binds an engine to a job type and device stage.
func NewEngineHandler(jobType, stage string, engine inference.Engine, outputDir string) *EngineHandler {
	return &EngineHandler{jobType: jobType, stage: stage, engine: engine, outputDir: outputDir}
}

func (h *EngineHandler) JobType() string     { return h.jobType }
func (h *EngineHandler) DeviceStage() string { return h.stage }

func (h *EngineHandler) Execute(ctx context.Context, job *queue.Job, artifact any, onProgress inference.ProgressFunc) (inference.Result, error) {
	req := inference.Request{
		JobID:     job.ID,
		Payload:   job.Payload,
		Artifact:  artifact,
		OutputDir: h.outputDir,
	}
	return h.engine.Run(ctx, req, onProgress)
}

// DeviceStageFor maps a job type to the device-memory stage it computes in.
func DeviceStageFor(jobType string) string {
	switch jobType {
	case inference.JobTypeMeshGeneration:
		return vram.StageMesh
	case inference.JobTypeTextureGeneration:
		return vram.StageTexture
	case inference.JobTypeRigAsset:
		return vram.StageRigging
	case inference.JobTypeExportAsset:
		return vram.StageExport
	default:
		return ""
	}
}

// workflowTargetFor maps a successful job type to the asset workflow stage it
// establishes.
func workflowTargetFor(jobType string) (workflow.Stage, bool) {
	switch jobType {
	case inference.JobTypeMeshGeneration:
		return workflow.StageMeshGenerated, true
	case inference.JobTypeTextureGeneration:
		return workflow.StageTextured, true
	case inference.JobTypeRigAsset:
		return workflow.StageRigged, true
	case inference.JobTypeExportAsset:
		return workflow.StageExported, true
	default:
		return "", false
	}
}
