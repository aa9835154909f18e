package workflow

import "strings"

// Stage is a human-reviewed checkpoint in an asset's lifecycle, distinct
// from a job's own pending/processing/completed status.
type Stage string

const (
	StageUploaded        Stage = "uploaded"
	StageMeshGenerated   Stage = "mesh_generated"
	StageMeshApproved    Stage = "mesh_approved"
	StageTextured        Stage = "textured"
	StageTextureApproved Stage = "texture_approved"
	StageRigged          Stage = "rigged"
	StageExported        Stage = "exported"
)

var stageOrder = []Stage{
	StageUploaded,
	StageMeshGenerated,
	StageMeshApproved,
	StageTextured,
	StageTextureApproved,
	StageRigged,
	StageExported,
}

var stageIndex = func() map[Stage]int {
	index := make(map[Stage]int, len(stageOrder))
	for i, stage := range stageOrder {
		index[stage] = i
	}
	return index
}()

// AllStages returns the ordered stage table.
func AllStages() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	_, ok := stageIndex[normalized]
	return normalized, ok
}

// NextStage returns the stage after current in the fixed table. The bool is
// false when current is terminal or unknown.
func NextStage(current Stage) (Stage, bool) {
	idx, ok := stageIndex[current]
	if !ok || idx >= len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[idx+1], true
}

// StagesBetween returns the stages strictly after from and strictly before
// to, in table order.
func StagesBetween(from, to Stage) []Stage {
	fromIdx, okFrom := stageIndex[from]
	toIdx, okTo := stageIndex[to]
	if !okFrom || !okTo || toIdx <= fromIdx+1 {
		return nil
	}
	between := make([]Stage, 0, toIdx-fromIdx-1)
	for _, stage := range stageOrder[fromIdx+1 : toIdx] {
		between = append(between, stage)
	}
	return between
}
