package store_test

import (
	"context"
	"testing"
	"time"

	"kiln/internal/queue"
	"kiln/internal/store"
	"kiln/internal/testsupport"
)

func seedJob(t *testing.T, st *store.Store, id string, status queue.Status) {
	t.Helper()
	q := queue.New(10, nil)
	job, err := q.Enqueue(id, "mesh_generation", map[string]any{"input_path": "in.png"}, queue.PriorityHigh)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job.Status = status
	if err := st.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("save job: %v", err)
	}
}

func TestSaveAndGetJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	job := &queue.Job{
		ID:        "job-1",
		Type:      "texture_generation",
		Payload:   map[string]any{"asset_id": "asset-1"},
		Priority:  queue.PriorityLow,
		Status:    queue.StatusProcessing,
		Progress:  0.4,
		Stage:     "Texturing",
		CreatedAt: started,
		StartedAt: &started,
	}
	if err := st.SaveJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}

	record, err := st.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record == nil {
		t.Fatal("record not found")
	}
	if record.Type != "texture_generation" || record.Status != queue.StatusProcessing {
		t.Fatalf("record = %+v", record)
	}
	if record.Priority != queue.PriorityLow {
		t.Fatalf("priority = %v", record.Priority)
	}
	if record.Payload["asset_id"] != "asset-1" {
		t.Fatalf("payload = %+v", record.Payload)
	}
	if record.StartedAt == nil || !record.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", record.StartedAt, started)
	}
}

func TestSaveJobUpsertsExistingRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seedJob(t, st, "job-1", queue.StatusPending)

	completed := time.Now().UTC()
	updated := &queue.Job{
		ID:          "job-1",
		Type:        "mesh_generation",
		Status:      queue.StatusCompleted,
		Progress:    1.0,
		Result:      map[string]any{"success": true},
		CreatedAt:   completed.Add(-time.Minute),
		CompletedAt: &completed,
	}
	if err := st.SaveJob(ctx, updated); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	record, err := st.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != queue.StatusCompleted || record.Progress != 1.0 {
		t.Fatalf("record = %+v", record)
	}
	if record.Result["success"] != true {
		t.Fatalf("result = %+v", record.Result)
	}
}

func TestDeleteJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seedJob(t, st, "job-1", queue.StatusCompleted)
	if err := st.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	record, err := st.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record != nil {
		t.Fatal("record should be gone")
	}
}

func TestRecentJobsNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		job := &queue.Job{
			ID:        id,
			Type:      "mesh_generation",
			Status:    queue.StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := st.SaveJob(ctx, job); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	records, err := st.RecentJobs(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].ID != "new" || records[1].ID != "mid" {
		t.Fatalf("order = %s, %s", records[0].ID, records[1].ID)
	}
}

func TestAssetStageRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, found, err := st.AssetStage(ctx, "asset-1"); err != nil || found {
		t.Fatalf("fresh asset: found=%v err=%v", found, err)
	}

	if err := st.SetAssetStage(ctx, "asset-1", "mesh_generated"); err != nil {
		t.Fatalf("set stage: %v", err)
	}
	if err := st.SetAssetStage(ctx, "asset-1", "mesh_approved"); err != nil {
		t.Fatalf("update stage: %v", err)
	}

	stage, found, err := st.AssetStage(ctx, "asset-1")
	if err != nil {
		t.Fatalf("get stage: %v", err)
	}
	if !found || stage != "mesh_approved" {
		t.Fatalf("stage = (%q, %v)", stage, found)
	}
}

func TestReopenPreservesData(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seedJob(t, st, "job-1", queue.StatusCompleted)
	if err := st.SetAssetStage(context.Background(), "asset-1", "rigged"); err != nil {
		t.Fatalf("set stage: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	record, err := reopened.GetJob(context.Background(), "job-1")
	if err != nil || record == nil {
		t.Fatalf("get after reopen: %v %v", record, err)
	}
	stage, found, err := reopened.AssetStage(context.Background(), "asset-1")
	if err != nil || !found || stage != "rigged" {
		t.Fatalf("stage after reopen = (%q, %v, %v)", stage, found, err)
	}
}
