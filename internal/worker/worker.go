package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"kiln/internal/config"
	"kiln/internal/hub"
	"kiln/internal/inference"
	"kiln/internal/logging"
	"kiln/internal/overlap"
	"kiln/internal/queue"
	"kiln/internal/vram"
	"kiln/internal/workflow"
)

// State is the worker's lifecycle phase.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

type progressUpdate struct {
	jobID    string
	jobType  string
	assetID  string
	fraction float64
	stage    string
}

// Worker is the orchestrator: it pulls jobs (directly or through the overlap
// pipeline), prepares device memory for the job's stage, dispatches to the
// registered handler, and publishes progress and terminal results. One
// compute job runs at a time per device.
type Worker struct {
	cfg     *config.Config
	queue   *queue.Queue
	hub     *hub.Hub
	vram    *vram.Manager
	machine *workflow.Machine
	pre     overlap.Preprocessor

	handlers map[string]Handler
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	pipeline *overlap.Pipeline

	progressCh chan progressUpdate
	handlerSem chan struct{}
	wg         sync.WaitGroup
}

// New constructs a stopped worker. Register handlers before Start.
func New(cfg *config.Config, q *queue.Queue, h *hub.Hub, v *vram.Manager, machine *workflow.Machine, pre overlap.Preprocessor, logger *slog.Logger) *Worker {
	poolSize := cfg.Worker.HandlerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Worker{
		cfg:        cfg,
		queue:      q,
		hub:        h,
		vram:       v,
		machine:    machine,
		pre:        pre,
		handlers:   make(map[string]Handler),
		handlerSem: make(chan struct{}, poolSize),
		state:      StateStopped,
		logger:     logging.NewComponentLogger(logger, "worker"),
	}
}

// Register adds a handler for its job type. Must be called before Start.
func (w *Worker) Register(handler Handler) {
	w.handlers[handler.JobType()] = handler
}

// State returns the worker's current lifecycle phase.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start launches the orchestration loops. It returns an error unless the
// worker is currently stopped.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateStopped {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("worker is %s; cannot start", state)
	}
	w.state = StateStarting

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.progressCh = make(chan progressUpdate, 64)

	if w.cfg.Worker.OverlapEnabled && w.pre != nil {
		w.pipeline = overlap.New(w.queue, w.pre, w.hub, overlap.Options{
			Depth:    w.cfg.Worker.OverlapDepth,
			PoolSize: w.cfg.Worker.PreprocessPoolSize,
			Timeout:  time.Duration(w.cfg.Worker.PreprocessTimeout) * time.Second,
		}, w.logger)
		w.pipeline.Start(runCtx)
	} else {
		w.pipeline = nil
	}

	w.wg.Add(2)
	go w.pumpProgress(runCtx)
	go w.run(runCtx)
	if w.cfg.Queue.SweepIntervalMin > 0 {
		w.wg.Add(1)
		go w.sweep(runCtx)
	}

	w.state = StateRunning
	w.mu.Unlock()

	w.logger.Info("worker started",
		logging.Bool("overlap", w.pipeline != nil),
		logging.Int("handlers", len(w.handlers)),
	)
	return nil
}

// Stop cancels the loops, waits up to the configured stop timeout for them to
// exit, and unloads all device memory. Safe to call when already stopped.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return
	}
	w.state = StateStopping
	cancel := w.cancel
	pipeline := w.pipeline
	w.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		if pipeline != nil {
			pipeline.Wait()
		}
		close(done)
	}()

	timeout := time.Duration(w.cfg.Worker.StopTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		w.logger.Warn("worker loops did not stop in time; abandoning",
			logging.Duration("timeout", timeout))
	}

	w.vram.UnloadAll(context.Background())

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()
	w.logger.Info("worker stopped")
}

// run is the main orchestration loop. Any error other than cancellation is
// logged and followed by a brief sleep so a persistent fault cannot spin the
// loop hot.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	retry := time.Duration(w.cfg.Worker.ErrorRetryInterval) * time.Second
	if retry <= 0 {
		retry = 5 * time.Second
	}

	for {
		job, artifact, err := w.next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("worker loop error", logging.Error(err))
			select {
			case <-time.After(retry):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			// Job already finalized upstream (for example a preprocessing
			// failure on the direct path).
			continue
		}
		w.processJob(ctx, job, artifact)
	}
}

// next obtains the next job and its preprocessing artifact, either from the
// overlap pipeline or by dequeueing and preparing inline.
func (w *Worker) next(ctx context.Context) (*queue.Job, any, error) {
	if w.pipeline != nil {
		prepared, err := w.pipeline.Next(ctx)
		if err != nil {
			return nil, nil, err
		}
		return prepared.Job, prepared.Artifact, nil
	}

	job, err := w.queue.Dequeue(ctx)
	if err != nil {
		return nil, nil, err
	}
	if w.pre == nil {
		return job, nil, nil
	}

	w.publish(job.ID, 0.05, "Preprocessing input")
	artifact, prepErr := w.pre.Prepare(ctx, job)
	if prepErr != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		msg := fmt.Sprintf("preprocessing failed: %v", prepErr)
		w.logger.Error("preprocessing failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(prepErr),
		)
		w.queue.Complete(job.ID, nil, msg)
		w.hub.SendToJob(job.ID, hub.FailedProgressMessage(job.ID, 0, "Preprocessing failed", msg))
		w.broadcastQueueStatus()
		return nil, nil, nil
	}
	return job, artifact, nil
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job, artifact any) {
	requestID := uuid.NewString()
	jobLogger := w.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, job.Type),
		logging.String(logging.FieldCorrelationID, requestID),
	)
	defer w.broadcastQueueStatus()

	handler, ok := w.handlers[job.Type]
	if !ok {
		msg := fmt.Sprintf("no handler registered for job type %q", job.Type)
		jobLogger.Error("unknown job type")
		w.queue.Complete(job.ID, nil, msg)
		w.hub.SendToJob(job.ID, hub.FailedProgressMessage(job.ID, 0, "Dispatch failed", msg))
		return
	}

	if stage := handler.DeviceStage(); stage != "" {
		w.vram.Prepare(ctx, stage)
		w.hub.Broadcast(hub.PipelineStatusMessage(w.vram.Status()))
	}

	w.publish(job.ID, 0.1, "Starting "+queue.StageLabel(job.Type))

	result, err := w.dispatch(ctx, handler, job, artifact)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			jobLogger.Info("job interrupted by shutdown")
			return
		}
		w.finishFailed(jobLogger, job, err.Error())
		return
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "job reported failure without detail"
		}
		w.finishFailed(jobLogger, job, msg)
		return
	}

	w.queue.Complete(job.ID, result.ToMap(), "")
	w.hub.SendToJob(job.ID, hub.ProgressMessage(job.ID, 1.0, "Complete", queue.StatusCompleted))
	jobLogger.Info("job succeeded")

	if result.AssetID != "" {
		downloadPath, _ := result.Artifacts["path"].(string)
		w.hub.Broadcast(hub.AssetReadyMessage(result.AssetID, result.AssetName, downloadPath))
		if job.Type == inference.JobTypeRigAsset {
			w.hub.Broadcast(hub.RiggingCompleteMessage(result.AssetID, downloadPath))
		}
		if target, known := workflowTargetFor(job.Type); known && w.machine != nil {
			if _, err := w.machine.Advance(ctx, result.AssetID, target); err != nil {
				jobLogger.Error("workflow advance failed",
					logging.String(logging.FieldAssetID, result.AssetID),
					logging.Error(err),
				)
			}
		}
	}
}

// dispatch runs the handler on the bounded pool, converting panics into
// errors so one bad handler cannot take down the orchestrator.
func (w *Worker) dispatch(ctx context.Context, handler Handler, job *queue.Job, artifact any) (inference.Result, error) {
	select {
	case w.handlerSem <- struct{}{}:
	case <-ctx.Done():
		return inference.Result{}, ctx.Err()
	}

	assetID, _ := job.Payload["asset_id"].(string)
	onProgress := func(fraction float64, stage string) {
		select {
		case w.progressCh <- progressUpdate{
			jobID:    job.ID,
			jobType:  job.Type,
			assetID:  assetID,
			fraction: fraction,
			stage:    stage,
		}:
		case <-ctx.Done():
		}
	}

	type outcome struct {
		result inference.Result
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		defer func() { <-w.handlerSem }()
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := handler.Execute(ctx, job, artifact, onProgress)
		resultCh <- outcome{result: result, err: err}
	}()

	out := <-resultCh
	return out.result, out.err
}

func (w *Worker) finishFailed(jobLogger *slog.Logger, job *queue.Job, msg string) {
	jobLogger.Error("job failed", logging.String("reason", msg))
	w.queue.Complete(job.ID, nil, msg)
	w.hub.SendToJob(job.ID, hub.FailedProgressMessage(job.ID, job.Progress, "Failed", msg))
}

// pumpProgress is the single point where handler progress callbacks cross
// into the queue and the hub, keeping handlers free of direct fan-out calls.
func (w *Worker) pumpProgress(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-w.progressCh:
			w.queue.UpdateProgress(update.jobID, update.fraction, update.stage)
			w.hub.SendToJob(update.jobID,
				hub.ProgressMessage(update.jobID, update.fraction, update.stage, queue.StatusProcessing))
			if update.jobType == inference.JobTypeRigAsset && update.assetID != "" {
				w.hub.Broadcast(hub.RiggingProgressMessage(update.assetID, update.fraction, update.stage))
			}
		}
	}
}

func (w *Worker) publish(jobID string, fraction float64, stage string) {
	w.queue.UpdateProgress(jobID, fraction, stage)
	w.hub.SendToJob(jobID, hub.ProgressMessage(jobID, fraction, stage, queue.StatusProcessing))
}

func (w *Worker) broadcastQueueStatus() {
	w.hub.Broadcast(hub.QueueStatusMessage(w.queue.Status()))
}

// sweep periodically clears terminal jobs older than the retention window.
func (w *Worker) sweep(ctx context.Context) {
	defer w.wg.Done()

	interval := time.Duration(w.cfg.Queue.SweepIntervalMin) * time.Minute
	retention := time.Duration(w.cfg.Queue.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := w.queue.ClearCompleted(retention); removed > 0 {
				w.broadcastQueueStatus()
			}
		}
	}
}
