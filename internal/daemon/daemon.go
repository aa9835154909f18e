package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"kiln/internal/api"
	"kiln/internal/config"
	"kiln/internal/hub"
	"kiln/internal/logging"
	"kiln/internal/preflight"
	"kiln/internal/queue"
	"kiln/internal/store"
	"kiln/internal/vram"
	"kiln/internal/worker"
	"kiln/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	queue   *queue.Queue
	hub     *hub.Hub
	vram    *vram.Manager
	machine *workflow.Machine
	worker  *worker.Worker

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	api     *apiServer
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, q *queue.Queue, h *hub.Hub, v *vram.Manager, machine *workflow.Machine, wk *worker.Worker, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || q == nil || h == nil || v == nil || wk == nil {
		return nil, errors.New("daemon requires config, store, queue, hub, vram manager, and worker")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "kilnd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		queue:    q,
		hub:      h,
		vram:     v,
		machine:  machine,
		worker:   wk,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start runs preflight checks, acquires the daemon lock, and launches the
// worker and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	checks := preflight.RunAll(d.cfg)
	for _, check := range checks {
		if check.Passed {
			continue
		}
		if check.Fatal {
			return fmt.Errorf("preflight check %q failed: %s", check.Name, check.Detail)
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
		)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another kiln daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.worker.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker: %w", err)
	}

	server, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.worker.Stop()
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}
	d.api = server
	if err := d.api.start(runCtx); err != nil {
		d.worker.Stop()
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("kiln daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.worker.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("kiln daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, useful when the configured bind
// uses an ephemeral port. Empty until Start succeeds.
func (d *Daemon) APIAddr() string {
	if d.api == nil || d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}

// Status assembles the daemon status payload.
func (d *Daemon) Status() api.DaemonStatus {
	checks := preflight.RunAll(d.cfg)
	views := make([]api.PreflightView, len(checks))
	for i, check := range checks {
		views[i] = api.PreflightView{Name: check.Name, Passed: check.Passed, Detail: check.Detail}
	}
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		WorkerState:  string(d.worker.State()),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Queue:        d.queue.Status(),
		Pipeline:     d.vram.Status(),
		Connections:  d.hub.ConnectionCount(),
		Preflight:    views,
	}
}

// CreateJob validates and enqueues a new job, announcing it to observers.
func (d *Daemon) CreateJob(req api.CreateJobRequest) (*queue.Job, error) {
	jobType := strings.TrimSpace(req.Type)
	if jobType == "" {
		return nil, errors.New("job type is required")
	}
	priority, ok := queue.ParsePriority(req.Priority)
	if !ok {
		return nil, fmt.Errorf("unknown priority %q", req.Priority)
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	job, err := d.queue.Enqueue(id, jobType, req.Payload, priority)
	if err != nil {
		return nil, err
	}
	d.hub.Broadcast(hub.JobCreatedMessage(job.ID, job.Type, job.Priority))
	d.hub.Broadcast(hub.QueueStatusMessage(d.queue.Status()))
	return job, nil
}

// CancelJob cancels a pending job, reporting the job's latest state.
func (d *Daemon) CancelJob(id string) (*queue.Job, error) {
	if !d.queue.Cancel(id) {
		job := d.queue.Job(id)
		if job == nil {
			return nil, fmt.Errorf("job %s not found", id)
		}
		return nil, fmt.Errorf("%w: job %s is %s", queue.ErrNotCancellable, id, job.Status)
	}
	d.hub.Broadcast(hub.QueueStatusMessage(d.queue.Status()))
	return d.queue.Job(id), nil
}
