package worker

import (
	"context"
	"testing"
	"time"

	"kiln/internal/config"
	"kiln/internal/hub"
	"kiln/internal/inference"
	"kiln/internal/logging"
	"kiln/internal/overlap"
	"kiln/internal/queue"
	"kiln/internal/testsupport"
	"kiln/internal/vram"
	"kiln/internal/workflow"
)

type fixture struct {
	cfg     *config.Config
	queue   *queue.Queue
	hub     *hub.Hub
	vram    *vram.Manager
	device  *inference.SimulatedDevice
	machine *workflow.Machine
	worker  *Worker
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	q := queue.New(cfg.Queue.MaxSize, logger)
	q.AttachMirror(st)
	h := hub.New(time.Second, logger)

	device := inference.NewSimulatedDevice(24576)
	manager := vram.NewManager(device, vram.Options{
		ReleaseThresholdMB: cfg.GPU.ReleaseThresholdMB,
		HeadroomMB:         cfg.GPU.HeadroomMB,
	}, logger)
	manager.RegisterSlot(vram.SlotGeometry, inference.NewSimulatedSlot(vram.SlotGeometry, cfg.GPU.GeometryFootprintMB, device))
	manager.RegisterSlot(vram.SlotTexture, inference.NewSimulatedSlot(vram.SlotTexture, cfg.GPU.TextureFootprintMB, device))

	machine := workflow.NewMachine(st, h, logger)
	w := New(cfg, q, h, manager, machine, &inference.SimulatedPreprocessor{}, logger)

	return &fixture{cfg: cfg, queue: q, hub: h, vram: manager, device: device, machine: machine, worker: w}
}

func (f *fixture) registerEngine(jobType, kind string, fail bool) {
	f.worker.Register(NewEngineHandler(jobType, DeviceStageFor(jobType), &inference.SimulatedEngine{Kind: kind, Fail: fail}, f.cfg.Paths.OutputDir))
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.worker.Start(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(f.worker.Stop)
}

func waitForStatus(t *testing.T, q *queue.Queue, id string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job := q.Job(id); job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job := q.Job(id)
	t.Fatalf("job %s never reached %s (last: %+v)", id, want, job)
	return nil
}

func TestWorkerCompletesJobAndAdvancesWorkflow(t *testing.T) {
	f := newFixture(t)
	f.registerEngine(inference.JobTypeMeshGeneration, "mesh", false)
	f.start(t)

	payload := map[string]any{"input_path": "chair.png", "asset_id": "asset-1", "name": "Chair"}
	if _, err := f.queue.Enqueue("job-1", inference.JobTypeMeshGeneration, payload, queue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job := waitForStatus(t, f.queue, "job-1", queue.StatusCompleted)
	if job.Result == nil || job.Result["success"] != true {
		t.Fatalf("result = %+v", job.Result)
	}
	if job.Progress != 1.0 {
		t.Fatalf("progress = %f, want 1.0", job.Progress)
	}

	stage, err := f.machine.Stage(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if stage != workflow.StageMeshGenerated {
		t.Fatalf("workflow stage = %s, want mesh_generated", stage)
	}

	if f.vram.Status().Slots[vram.SlotGeometry] != vram.ResidencyLoaded {
		t.Fatal("geometry slot should be resident after a mesh job")
	}
}

func TestWorkerIsolatesEngineFailures(t *testing.T) {
	f := newFixture(t)
	f.registerEngine(inference.JobTypeMeshGeneration, "mesh", true)
	f.registerEngine(inference.JobTypeTextureGeneration, "texture", false)
	f.start(t)

	meshPayload := map[string]any{"input_path": "a.png", "asset_id": "asset-a"}
	texPayload := map[string]any{"asset_id": "asset-b"}
	if _, err := f.queue.Enqueue("fails", inference.JobTypeMeshGeneration, meshPayload, queue.PriorityHigh); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := f.queue.Enqueue("succeeds", inference.JobTypeTextureGeneration, texPayload, queue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	failed := waitForStatus(t, f.queue, "fails", queue.StatusFailed)
	if failed.Error == "" {
		t.Fatal("failed job should carry the engine's error")
	}
	waitForStatus(t, f.queue, "succeeds", queue.StatusCompleted)
}

func TestWorkerFailsUnknownJobType(t *testing.T) {
	f := newFixture(t)
	f.registerEngine(inference.JobTypeMeshGeneration, "mesh", false)
	f.start(t)

	if _, err := f.queue.Enqueue("mystery", "hologram_generation", map[string]any{"input_path": "x.png"}, queue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job := waitForStatus(t, f.queue, "mystery", queue.StatusFailed)
	if job.Error == "" {
		t.Fatal("unknown job type should report an error")
	}
}

func TestWorkerFailsJobWithInvalidPayload(t *testing.T) {
	f := newFixture(t)
	f.registerEngine(inference.JobTypeMeshGeneration, "mesh", false)
	f.start(t)

	// Mesh generation requires input_path; its absence fails in preprocessing.
	if _, err := f.queue.Enqueue("empty", inference.JobTypeMeshGeneration, nil, queue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job := waitForStatus(t, f.queue, "empty", queue.StatusFailed)
	if job.Error == "" {
		t.Fatal("preprocessing failure should record an error")
	}
}

func TestWorkerWithOverlapPipeline(t *testing.T) {
	f := newFixture(t, testsupport.WithOverlap(true))
	f.registerEngine(inference.JobTypeMeshGeneration, "mesh", false)
	f.start(t)

	for _, id := range []string{"j1", "j2", "j3"} {
		payload := map[string]any{"input_path": id + ".png", "asset_id": "asset-" + id}
		if _, err := f.queue.Enqueue(id, inference.JobTypeMeshGeneration, payload, queue.PriorityNormal); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	for _, id := range []string{"j1", "j2", "j3"} {
		waitForStatus(t, f.queue, id, queue.StatusCompleted)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	f := newFixture(t)
	f.registerEngine(inference.JobTypeMeshGeneration, "mesh", false)

	if f.worker.State() != StateStopped {
		t.Fatalf("initial state = %s", f.worker.State())
	}
	if err := f.worker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.worker.State() != StateRunning {
		t.Fatalf("state after start = %s", f.worker.State())
	}
	if err := f.worker.Start(context.Background()); err == nil {
		t.Fatal("second start must fail")
	}

	payload := map[string]any{"input_path": "a.png", "asset_id": "asset-a"}
	if _, err := f.queue.Enqueue("job-1", inference.JobTypeMeshGeneration, payload, queue.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForStatus(t, f.queue, "job-1", queue.StatusCompleted)

	f.worker.Stop()
	if f.worker.State() != StateStopped {
		t.Fatalf("state after stop = %s", f.worker.State())
	}
	if f.vram.Status().Slots[vram.SlotGeometry] != vram.ResidencyUnloaded {
		t.Fatal("stop must unload all slots")
	}
	// Stop again is a no-op.
	f.worker.Stop()
}

func TestDeviceStageFor(t *testing.T) {
	cases := map[string]string{
		inference.JobTypeMeshGeneration:    vram.StageMesh,
		inference.JobTypeTextureGeneration: vram.StageTexture,
		inference.JobTypeRigAsset:          vram.StageRigging,
		inference.JobTypeExportAsset:       vram.StageExport,
		"unknown":                          "",
	}
	for jobType, want := range cases {
		if got := DeviceStageFor(jobType); got != want {
			t.Errorf("DeviceStageFor(%s) = %q, want %q", jobType, got, want)
		}
	}
}

var _ overlap.Preprocessor = (*inference.SimulatedPreprocessor)(nil)
