package overlap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kiln/internal/hub"
	"kiln/internal/logging"
	"kiln/internal/queue"
)

// Preprocessor is the CPU-bound preparation collaborator (background
// removal, resizing, input validation) run ahead of GPU compute.
type Preprocessor interface {
	Prepare(ctx context.Context, job *queue.Job) (any, error)
}

// Prepared is the hand-off unit between the preparation loop and the GPU
// loop.
type Prepared struct {
	Job          *queue.Job
	Artifact     any
	PrepDuration time.Duration
}

// Options tunes the pipeline.
type Options struct {
	// Depth bounds the hand-off channel; it is the system's backpressure
	// point. Small values keep at most one job ahead without unbounded
	// buildup.
	Depth int
	// PoolSize bounds concurrent preparation work so one stuck preparation
	// cannot wedge the feeder loop forever.
	PoolSize int
	// Timeout bounds a single preparation attempt.
	Timeout time.Duration
}

// Pipeline overlaps CPU-bound preparation of the next job with GPU-bound
// compute of the current job. One feeder loop pulls from the queue,
// prepares, and pushes into a small bounded channel the worker consumes.
type Pipeline struct {
	queue  *queue.Queue
	pre    Preprocessor
	hub    *hub.Hub
	out    chan Prepared
	sem    chan struct{}
	opts   Options
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New constructs an overlap pipeline.
func New(q *queue.Queue, pre Preprocessor, h *hub.Hub, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Depth <= 0 {
		opts.Depth = 2
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Pipeline{
		queue:  q,
		pre:    pre,
		hub:    h,
		out:    make(chan Prepared, opts.Depth),
		sem:    make(chan struct{}, opts.PoolSize),
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "overlap"),
	}
}

// Start launches the feeder loop. It exits only when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.feed(ctx)
}

// Wait blocks until the feeder loop has exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Next returns the next prepared job, blocking until one is available or
// ctx is cancelled.
func (p *Pipeline) Next(ctx context.Context) (Prepared, error) {
	select {
	case prepared := <-p.out:
		return prepared, nil
	case <-ctx.Done():
		return Prepared{}, ctx.Err()
	}
}

func (p *Pipeline) feed(ctx context.Context) {
	defer p.wg.Done()

	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}

		p.hub.SendToJob(job.ID, hub.ProgressMessage(job.ID, 0.05, "Preprocessing input", queue.StatusProcessing))
		p.queue.UpdateProgress(job.ID, 0.05, "Preprocessing input")

		started := time.Now()
		artifact, prepErr := p.prepare(ctx, job)
		if prepErr != nil {
			if ctx.Err() != nil {
				// Shutdown, not a job fault; leave the job as-is.
				return
			}
			// Preparation failures are isolated per job; the loop survives.
			msg := fmt.Sprintf("preprocessing failed: %v", prepErr)
			p.logger.Error("preprocessing failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(prepErr),
			)
			p.queue.Complete(job.ID, nil, msg)
			p.hub.SendToJob(job.ID, hub.FailedProgressMessage(job.ID, 0, "Preprocessing failed", msg))
			continue
		}

		prepared := Prepared{Job: job, Artifact: artifact, PrepDuration: time.Since(started)}
		p.logger.Debug("job preprocessed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Duration("prep_duration", prepared.PrepDuration),
		)

		// Bounded capacity: this send suspends when the GPU loop falls
		// behind, which is the system's only backpressure mechanism.
		select {
		case p.out <- prepared:
		case <-ctx.Done():
			return
		}
	}
}

// prepare runs one preparation attempt on the bounded pool with a timeout,
// converting panics into errors so a bad input cannot kill the feeder.
func (p *Pipeline) prepare(ctx context.Context, job *queue.Job) (artifact any, err error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	prepCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	type outcome struct {
		artifact any
		err      error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("preprocessor panic: %v", r)}
			}
		}()
		a, prepErr := p.pre.Prepare(prepCtx, job)
		resultCh <- outcome{artifact: a, err: prepErr}
	}()

	select {
	case out := <-resultCh:
		return out.artifact, out.err
	case <-prepCtx.Done():
		return nil, prepCtx.Err()
	}
}
