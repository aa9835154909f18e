package workflow

import (
	"context"
	"sync"
	"testing"

	"kiln/internal/hub"
	"kiln/internal/logging"
)

type memoryStageStore struct {
	mu     sync.Mutex
	stages map[string]string
}

func newMemoryStageStore() *memoryStageStore {
	return &memoryStageStore{stages: make(map[string]string)}
}

func (s *memoryStageStore) AssetStage(ctx context.Context, assetID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stage, found := s.stages[assetID]
	return stage, found, nil
}

func (s *memoryStageStore) SetAssetStage(ctx context.Context, assetID, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[assetID] = stage
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []hub.Message
}

func (n *recordingNotifier) Broadcast(message hub.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func newTestMachine(t *testing.T) (*Machine, *memoryStageStore, *recordingNotifier) {
	t.Helper()
	store := newMemoryStageStore()
	notifier := &recordingNotifier{}
	return NewMachine(store, notifier, logging.NewNop()), store, notifier
}

func TestStageDefaultsToUploaded(t *testing.T) {
	machine, _, _ := newTestMachine(t)

	stage, err := machine.Stage(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if stage != StageUploaded {
		t.Fatalf("stage = %s, want uploaded", stage)
	}
}

func TestApproveWalksTheFullTable(t *testing.T) {
	machine, _, _ := newTestMachine(t)
	ctx := context.Background()

	want := []Stage{
		StageMeshGenerated,
		StageMeshApproved,
		StageTextured,
		StageTextureApproved,
		StageRigged,
		StageExported,
	}
	for i, expected := range want {
		transition, err := machine.Approve(ctx, "asset-1")
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if !transition.Advanced || transition.To != expected {
			t.Fatalf("approve %d = %+v, want advance to %s", i, transition, expected)
		}
	}

	// The seventh approval is a no-op at the terminal stage.
	transition, err := machine.Approve(ctx, "asset-1")
	if err != nil {
		t.Fatalf("terminal approve: %v", err)
	}
	if transition.Advanced || transition.To != "" || transition.From != StageExported {
		t.Fatalf("terminal approve = %+v, want no-op at exported", transition)
	}
}

func TestApprovePersistsStage(t *testing.T) {
	machine, store, _ := newTestMachine(t)
	ctx := context.Background()

	if _, err := machine.Approve(ctx, "asset-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if stage := store.stages["asset-1"]; stage != string(StageMeshGenerated) {
		t.Fatalf("persisted stage = %q", stage)
	}
}

func TestAdvanceSetsStageDirectly(t *testing.T) {
	machine, _, _ := newTestMachine(t)
	ctx := context.Background()

	transition, err := machine.Advance(ctx, "asset-1", StageRigged)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if transition.From != StageUploaded || transition.To != StageRigged {
		t.Fatalf("transition = %+v", transition)
	}

	// Backward moves are trusted and allowed.
	transition, err = machine.Advance(ctx, "asset-1", StageMeshGenerated)
	if err != nil {
		t.Fatalf("backward advance: %v", err)
	}
	if transition.To != StageMeshGenerated {
		t.Fatalf("transition = %+v", transition)
	}
}

func TestAdvanceRejectsUnknownStage(t *testing.T) {
	machine, _, _ := newTestMachine(t)

	if _, err := machine.Advance(context.Background(), "asset-1", Stage("polished")); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestSkipToExportReportsSkippedStages(t *testing.T) {
	machine, store, _ := newTestMachine(t)
	ctx := context.Background()

	store.stages["asset-1"] = string(StageMeshApproved)

	skipped, err := machine.SkipToExport(ctx, "asset-1")
	if err != nil {
		t.Fatalf("skip to export: %v", err)
	}
	want := []Stage{StageTextured, StageTextureApproved, StageRigged}
	if len(skipped) != len(want) {
		t.Fatalf("skipped = %v, want %v", skipped, want)
	}
	for i := range want {
		if skipped[i] != want[i] {
			t.Fatalf("skipped[%d] = %s, want %s", i, skipped[i], want[i])
		}
	}
	if store.stages["asset-1"] != string(StageExported) {
		t.Fatalf("persisted stage = %q, want exported", store.stages["asset-1"])
	}
}

func TestSkipToExportFromExportedIsNoOp(t *testing.T) {
	machine, store, notifier := newTestMachine(t)
	ctx := context.Background()

	store.stages["asset-1"] = string(StageExported)

	skipped, err := machine.SkipToExport(ctx, "asset-1")
	if err != nil {
		t.Fatalf("skip to export: %v", err)
	}
	if skipped != nil {
		t.Fatalf("skipped = %v, want nil", skipped)
	}
	if len(notifier.messages) != 0 {
		t.Fatal("terminal skip must not broadcast")
	}
}

func TestTransitionsBroadcast(t *testing.T) {
	machine, _, notifier := newTestMachine(t)

	if _, err := machine.Approve(context.Background(), "asset-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(notifier.messages))
	}
	msg := notifier.messages[0]
	if msg["type"] != hub.TypeWorkflowUpdate {
		t.Fatalf("message type = %v", msg["type"])
	}
	if msg["stage"] != string(StageMeshGenerated) {
		t.Fatalf("message stage = %v", msg["stage"])
	}
}

func TestNextStageAndStagesBetween(t *testing.T) {
	if next, ok := NextStage(StageTextured); !ok || next != StageTextureApproved {
		t.Fatalf("NextStage(textured) = (%s, %v)", next, ok)
	}
	if _, ok := NextStage(StageExported); ok {
		t.Fatal("exported must have no next stage")
	}

	between := StagesBetween(StageUploaded, StageTextured)
	want := []Stage{StageMeshGenerated, StageMeshApproved}
	if len(between) != len(want) {
		t.Fatalf("between = %v, want %v", between, want)
	}
	if StagesBetween(StageRigged, StageExported) != nil {
		t.Fatal("adjacent stages have nothing between them")
	}
}

func TestParseStage(t *testing.T) {
	if stage, ok := ParseStage(" Mesh_Approved "); !ok || stage != StageMeshApproved {
		t.Fatalf("ParseStage = (%s, %v)", stage, ok)
	}
	if _, ok := ParseStage("shipped"); ok {
		t.Fatal("unknown stage must not parse")
	}
}
