package inference

import "context"

// Job type tokens accepted by the queue and dispatched by the worker.
const (
	JobTypeMeshGeneration    = "mesh_generation"
	JobTypeTextureGeneration = "texture_generation"
	JobTypeRigAsset          = "rig_asset"
	JobTypeExportAsset       = "export_asset"
)

// ProgressFunc receives monotonically non-decreasing progress fractions in
// [0,1] with a human-readable stage label. Implementations must tolerate
// being called from the engine's own goroutine.
type ProgressFunc func(fraction float64, stage string)

// Request carries everything an engine needs for one run.
type Request struct {
	JobID     string
	Payload   map[string]any
	Artifact  any
	OutputDir string
}

// Result is an engine's terminal report. Success with Artifacts, or a
// failure explanation in Error; engines report expected failures here rather
// than through the error return, which is reserved for infrastructure
// problems.
type Result struct {
	Success   bool
	AssetID   string
	AssetName string
	Artifacts map[string]any
	Metrics   map[string]any
	Error     string
}

// ToMap flattens the result into the queue's job result payload.
func (r Result) ToMap() map[string]any {
	out := map[string]any{"success": r.Success}
	if r.AssetID != "" {
		out["asset_id"] = r.AssetID
	}
	if r.AssetName != "" {
		out["asset_name"] = r.AssetName
	}
	if len(r.Artifacts) > 0 {
		out["artifacts"] = r.Artifacts
	}
	if len(r.Metrics) > 0 {
		out["metrics"] = r.Metrics
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// Engine runs one inference stage. Implementations wrap the actual model
// backends; the rest of the system depends only on this contract.
type Engine interface {
	Run(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error)
}
