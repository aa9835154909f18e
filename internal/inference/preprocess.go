package inference

import (
	"context"
	"fmt"
	"time"

	"kiln/internal/queue"
)

// PreparedInput is the artifact handed from preprocessing to the engines:
// the validated, normalized input ready for GPU compute.
type PreparedInput struct {
	JobID     string
	InputPath string
	Params    map[string]any
	Duration  time.Duration
}

// SimulatedPreprocessor validates the job payload and produces a
// PreparedInput, standing in for real background removal and resizing.
type SimulatedPreprocessor struct {
	// Delay paces the simulated CPU work.
	Delay time.Duration
}

// Prepare validates the payload and returns the normalized input. Jobs whose
// payload names no input fail here, before any device memory is touched.
func (p *SimulatedPreprocessor) Prepare(ctx context.Context, job *queue.Job) (any, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	inputPath, _ := job.Payload["input_path"].(string)
	switch job.Type {
	case JobTypeMeshGeneration:
		if inputPath == "" {
			return nil, fmt.Errorf("job %s: payload missing input_path", job.ID)
		}
	case JobTypeTextureGeneration, JobTypeRigAsset, JobTypeExportAsset:
		if assetID, _ := job.Payload["asset_id"].(string); assetID == "" {
			return nil, fmt.Errorf("job %s: payload missing asset_id", job.ID)
		}
	}

	params := make(map[string]any, len(job.Payload))
	for k, v := range job.Payload {
		params[k] = v
	}
	return &PreparedInput{
		JobID:     job.ID,
		InputPath: inputPath,
		Params:    params,
		Duration:  p.Delay,
	}, nil
}
