package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"kiln/internal/hub"
	"kiln/internal/logging"
)

// StageStore persists the workflow stage per asset.
type StageStore interface {
	AssetStage(ctx context.Context, assetID string) (string, bool, error)
	SetAssetStage(ctx context.Context, assetID, stage string) error
}

// Notifier pushes workflow transitions to observers. *hub.Hub satisfies it.
type Notifier interface {
	Broadcast(message hub.Message)
}

// Transition describes the outcome of a workflow operation.
type Transition struct {
	AssetID  string `json:"asset_id"`
	From     Stage  `json:"from"`
	To       Stage  `json:"to,omitempty"`
	Advanced bool   `json:"advanced"`
}

// Machine drives an asset through the ordered review stages. All stage
// mutations persist through the StageStore and broadcast through the
// Notifier.
type Machine struct {
	store    StageStore
	notifier Notifier
	logger   *slog.Logger
}

// NewMachine constructs a workflow state machine.
func NewMachine(store StageStore, notifier Notifier, logger *slog.Logger) *Machine {
	return &Machine{
		store:    store,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "workflow"),
	}
}

// Stage returns the asset's current stage, defaulting to uploaded for
// assets with no persisted stage yet.
func (m *Machine) Stage(ctx context.Context, assetID string) (Stage, error) {
	raw, found, err := m.store.AssetStage(ctx, assetID)
	if err != nil {
		return "", fmt.Errorf("load asset stage: %w", err)
	}
	if !found {
		return StageUploaded, nil
	}
	stage, ok := ParseStage(raw)
	if !ok {
		return "", fmt.Errorf("asset %s has unknown stage %q", assetID, raw)
	}
	return stage, nil
}

// Approve advances the asset exactly one position in the stage table.
// Approving an exported asset is a no-op reporting Advanced=false and an
// empty To stage.
func (m *Machine) Approve(ctx context.Context, assetID string) (Transition, error) {
	current, err := m.Stage(ctx, assetID)
	if err != nil {
		return Transition{}, err
	}

	next, ok := NextStage(current)
	if !ok {
		m.logger.Info("approve at terminal stage is a no-op",
			logging.String(logging.FieldAssetID, assetID),
			logging.String(logging.FieldStage, string(current)),
		)
		return Transition{AssetID: assetID, From: current}, nil
	}

	if err := m.setStage(ctx, assetID, next, "approved"); err != nil {
		return Transition{}, err
	}
	return Transition{AssetID: assetID, From: current, To: next, Advanced: true}, nil
}

// Advance sets the asset's stage directly without validating that the move
// is forward. This is a trusted operation for callers that already know the
// correct target, such as the worker marking mesh_generated after inference
// succeeds.
func (m *Machine) Advance(ctx context.Context, assetID string, target Stage) (Transition, error) {
	if _, ok := stageIndex[target]; !ok {
		return Transition{}, fmt.Errorf("invalid stage: %s", target)
	}
	current, err := m.Stage(ctx, assetID)
	if err != nil {
		return Transition{}, err
	}
	if err := m.setStage(ctx, assetID, target, "advanced"); err != nil {
		return Transition{}, err
	}
	return Transition{AssetID: assetID, From: current, To: target, Advanced: true}, nil
}

// SkipToExport jumps the asset straight to exported and returns the stages
// that were skipped, for auditing.
func (m *Machine) SkipToExport(ctx context.Context, assetID string) ([]Stage, error) {
	current, err := m.Stage(ctx, assetID)
	if err != nil {
		return nil, err
	}
	skipped := StagesBetween(current, StageExported)
	if current == StageExported {
		return nil, nil
	}
	if err := m.setStage(ctx, assetID, StageExported, "skipped to export"); err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		m.logger.Info("skipped stages on export",
			logging.String(logging.FieldAssetID, assetID),
			logging.Any("skipped", skipped),
		)
	}
	return skipped, nil
}

func (m *Machine) setStage(ctx context.Context, assetID string, stage Stage, reason string) error {
	if err := m.store.SetAssetStage(ctx, assetID, string(stage)); err != nil {
		return fmt.Errorf("persist asset stage: %w", err)
	}
	m.logger.Info("workflow stage changed",
		logging.String(logging.FieldAssetID, assetID),
		logging.String(logging.FieldStage, string(stage)),
		logging.String("reason", reason),
	)
	if m.notifier != nil {
		m.notifier.Broadcast(hub.WorkflowUpdateMessage(assetID, string(stage), reason))
	}
	return nil
}
