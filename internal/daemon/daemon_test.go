package daemon

import (
	"context"
	"strings"
	"testing"
	"time"

	"kiln/internal/api"
	"kiln/internal/config"
	"kiln/internal/hub"
	"kiln/internal/inference"
	"kiln/internal/logging"
	"kiln/internal/queue"
	"kiln/internal/store"
	"kiln/internal/testsupport"
	"kiln/internal/vram"
	"kiln/internal/worker"
	"kiln/internal/workflow"
)

func newTestDaemon(t *testing.T) (*Daemon, *config.Config) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
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
	w := worker.New(cfg, q, h, manager, machine, &inference.SimulatedPreprocessor{}, logger)
	for jobType, kind := range map[string]string{
		inference.JobTypeMeshGeneration:    "mesh",
		inference.JobTypeTextureGeneration: "texture",
	} {
		w.Register(worker.NewEngineHandler(jobType, worker.DeviceStageFor(jobType), &inference.SimulatedEngine{Kind: kind}, cfg.Paths.OutputDir))
	}

	d, err := New(cfg, st, q, h, manager, machine, w, logger)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	return d, cfg
}

func startDaemon(t *testing.T, d *Daemon) *api.Client {
	t.Helper()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)
	return api.NewClient(d.APIAddr())
}

func waitForJobStatus(t *testing.T, client *api.Client, id, want string) api.JobView {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := client.GetJob(ctx, id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return api.JobView{}
}

func TestDaemonServesJobLifecycle(t *testing.T) {
	d, _ := newTestDaemon(t)
	client := startDaemon(t, d)
	ctx := context.Background()

	created, err := client.CreateJob(ctx, api.CreateJobRequest{
		Type:     inference.JobTypeMeshGeneration,
		Priority: "high",
		Payload:  map[string]any{"input_path": "chair.png", "asset_id": "asset-1"},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if created.ID == "" || created.Priority != "high" {
		t.Fatalf("created = %+v", created)
	}

	done := waitForJobStatus(t, client, created.ID, "completed")
	if done.Result == nil || done.Result["success"] != true {
		t.Fatalf("result = %+v", done.Result)
	}

	stage, err := client.AssetStage(ctx, "asset-1")
	if err != nil {
		t.Fatalf("asset stage: %v", err)
	}
	if stage.To != string(workflow.StageMeshGenerated) {
		t.Fatalf("stage = %+v", stage)
	}

	jobs, err := client.ListJobs(ctx, "completed")
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != created.ID {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestDaemonStatusEndpoint(t *testing.T) {
	d, cfg := newTestDaemon(t)
	client := startDaemon(t, d)

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Fatal("daemon must report running")
	}
	if status.WorkerState != string(worker.StateRunning) {
		t.Fatalf("worker state = %s", status.WorkerState)
	}
	if !strings.HasPrefix(status.QueueDBPath, cfg.Paths.LogDir) {
		t.Fatalf("queue db path = %s", status.QueueDBPath)
	}
	for _, check := range status.Preflight {
		if !check.Passed {
			t.Fatalf("preflight %s failed: %s", check.Name, check.Detail)
		}
	}
}

func TestDaemonRejectsBadJobs(t *testing.T) {
	d, _ := newTestDaemon(t)
	client := startDaemon(t, d)
	ctx := context.Background()

	if _, err := client.CreateJob(ctx, api.CreateJobRequest{}); err == nil {
		t.Fatal("empty job type must be rejected")
	}
	if _, err := client.CreateJob(ctx, api.CreateJobRequest{
		Type:     inference.JobTypeMeshGeneration,
		Priority: "urgent",
	}); err == nil {
		t.Fatal("unknown priority must be rejected")
	}
	if _, err := client.GetJob(ctx, "no-such-job"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("missing job err = %v", err)
	}
}

func TestDaemonCancelSemantics(t *testing.T) {
	d, _ := newTestDaemon(t)
	client := startDaemon(t, d)
	ctx := context.Background()

	created, err := client.CreateJob(ctx, api.CreateJobRequest{
		Type:    inference.JobTypeMeshGeneration,
		Payload: map[string]any{"input_path": "a.png", "asset_id": "asset-a"},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	// By the time the job completes, cancellation must be refused.
	waitForJobStatus(t, client, created.ID, "completed")
	if _, err := client.CancelJob(ctx, created.ID); err == nil {
		t.Fatal("completed job must not be cancellable")
	}
	if _, err := client.CancelJob(ctx, "no-such-job"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("missing job cancel err = %v", err)
	}
}

func TestDaemonWorkflowEndpoints(t *testing.T) {
	d, _ := newTestDaemon(t)
	client := startDaemon(t, d)
	ctx := context.Background()

	approved, err := client.ApproveAsset(ctx, "asset-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !approved.Advanced || approved.To != string(workflow.StageMeshGenerated) {
		t.Fatalf("approve = %+v", approved)
	}

	advanced, err := client.AdvanceAsset(ctx, "asset-1", "mesh_approved")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if advanced.To != string(workflow.StageMeshApproved) {
		t.Fatalf("advance = %+v", advanced)
	}
	if _, err := client.AdvanceAsset(ctx, "asset-1", "polished"); err == nil {
		t.Fatal("unknown stage must be rejected")
	}

	exported, err := client.SkipToExport(ctx, "asset-1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.To != string(workflow.StageExported) || len(exported.Skipped) == 0 {
		t.Fatalf("export = %+v", exported)
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	d, cfg := newTestDaemon(t)
	startDaemon(t, d)

	st2, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	defer st2.Close()
	logger := logging.NewNop()
	q2 := queue.New(cfg.Queue.MaxSize, logger)
	h2 := hub.New(time.Second, logger)
	device := inference.NewSimulatedDevice(24576)
	v2 := vram.NewManager(device, vram.Options{}, logger)
	w2 := worker.New(cfg, q2, h2, v2, nil, &inference.SimulatedPreprocessor{}, logger)

	second, err := New(cfg, st2, q2, h2, v2, nil, w2, logger)
	if err != nil {
		t.Fatalf("second daemon: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance must fail to acquire the lock")
	}

	// Double start on a running daemon is also refused.
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("double start must fail")
	}
}
