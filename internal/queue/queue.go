package queue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"kiln/internal/logging"
)

// Mirror persists job state outside the queue. Writes are best-effort: the
// queue logs mirror failures and never propagates them.
type Mirror interface {
	SaveJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
}

// Queue is a bounded priority job queue with a job registry. It owns all job
// mutation; accessors return copies.
type Queue struct {
	mu      sync.Mutex
	heap    jobHeap
	jobs    map[string]*Job
	current *Job
	notify  chan struct{}
	nextSeq uint64
	maxSize int

	completedCount int
	failedCount    int

	mirror Mirror
	logger *slog.Logger
}

// New constructs a queue bounded at maxSize pending items.
func New(maxSize int, logger *slog.Logger) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Queue{
		jobs:    make(map[string]*Job),
		notify:  make(chan struct{}, 1),
		maxSize: maxSize,
		logger:  logging.NewComponentLogger(logger, "queue"),
	}
}

// AttachMirror wires a best-effort persistence mirror. Must be called before
// the queue is shared across goroutines.
func (q *Queue) AttachMirror(mirror Mirror) {
	q.mirror = mirror
}

// Enqueue registers a new pending job and inserts it into the priority order.
func (q *Queue) Enqueue(id, jobType string, payload map[string]any, priority Priority) (*Job, error) {
	q.mu.Lock()
	if _, exists := q.jobs[id]; exists {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	if q.heap.Len() >= q.maxSize {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: capacity %d", ErrQueueFull, q.maxSize)
	}

	q.nextSeq++
	job := &Job{
		ID:        id,
		Type:      jobType,
		Payload:   payload,
		Priority:  priority,
		Status:    StatusPending,
		Stage:     StageLabel(string(StatusPending)),
		CreatedAt: time.Now().UTC(),
		seq:       q.nextSeq,
	}
	q.jobs[id] = job
	heap.Push(&q.heap, job)
	snapshot := job.clone()
	q.mu.Unlock()

	q.signal()
	q.mirrorSave(snapshot)
	q.logger.Info("job enqueued",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldJobType, jobType),
		logging.String("priority", priority.String()),
	)
	return snapshot, nil
}

// Dequeue blocks until a job is available or ctx is cancelled. Jobs cancelled
// while still pending are discarded transparently. The returned job has been
// marked processing and recorded as the queue's current job.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		for q.heap.Len() > 0 {
			job := heap.Pop(&q.heap).(*Job)
			if job.Status == StatusCancelled {
				// Cancelled while waiting; drop and keep looking.
				continue
			}
			now := time.Now().UTC()
			job.Status = StatusProcessing
			job.StartedAt = &now
			q.current = job
			snapshot := job.clone()
			q.mu.Unlock()

			q.mirrorSave(snapshot)
			q.logger.Info("job dequeued", logging.String(logging.FieldJobID, snapshot.ID))
			return snapshot, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Complete marks a job terminal. When errMsg is non-empty the job fails,
// otherwise it completes. Unknown ids and already-terminal jobs are logged
// no-ops.
func (q *Queue) Complete(id string, result map[string]any, errMsg string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		q.logger.Warn("complete for unknown job", logging.String(logging.FieldJobID, id))
		return
	}
	if job.Status.IsTerminal() {
		q.mu.Unlock()
		q.logger.Warn("complete for already terminal job",
			logging.String(logging.FieldJobID, id),
			logging.String("status", string(job.Status)),
		)
		return
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Result = result
	job.Error = errMsg
	if errMsg != "" {
		job.Status = StatusFailed
		q.failedCount++
	} else {
		job.Status = StatusCompleted
		job.Progress = 1.0
		q.completedCount++
	}
	if q.current != nil && q.current.ID == id {
		q.current = nil
	}
	snapshot := job.clone()
	q.mu.Unlock()

	q.mirrorSave(snapshot)
	q.logger.Info("job completed",
		logging.String(logging.FieldJobID, id),
		logging.String("status", string(snapshot.Status)),
	)
}

// UpdateProgress records progress for a job, clamping the fraction to [0, 1].
// Unknown ids are ignored.
func (q *Queue) UpdateProgress(id string, fraction float64, stage string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Progress = min(max(fraction, 0), 1)
	if stage != "" {
		job.Stage = stage
	}
	q.mu.Unlock()
}

// Cancel cancels a pending job. Processing jobs run to completion; there is
// no preemption mechanism, so Cancel reports false for any non-pending job.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusPending {
		q.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	job.Error = CancelledByUserReason
	snapshot := job.clone()
	q.mu.Unlock()

	q.mirrorSave(snapshot)
	q.logger.Info("job cancelled", logging.String(logging.FieldJobID, id))
	return true
}

// Job returns a copy of the job with the given id, or nil when unknown.
func (q *Queue) Job(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[id].clone()
}

// CurrentJob returns a copy of the job currently marked processing.
func (q *Queue) CurrentJob() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current.clone()
}

// Size returns the number of jobs waiting in the priority order.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// IsFull reports whether the queue is at capacity.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len() >= q.maxSize
}

// StatusSnapshot summarizes queue counters for observers.
type StatusSnapshot struct {
	QueueSize       int    `json:"queue_size"`
	CurrentJobID    string `json:"current_job_id,omitempty"`
	PendingCount    int    `json:"pending_count"`
	ProcessingCount int    `json:"processing_count"`
	CompletedCount  int    `json:"completed_count"`
	FailedCount     int    `json:"failed_count"`
	CancelledCount  int    `json:"cancelled_count"`
	TotalJobs       int    `json:"total_jobs"`
}

// Status returns queue counters. Pending and cancelled counts are derived
// from the registry; completed and failed are running totals.
func (q *Queue) Status() StatusSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := StatusSnapshot{
		QueueSize:      q.heap.Len(),
		CompletedCount: q.completedCount,
		FailedCount:    q.failedCount,
		TotalJobs:      len(q.jobs),
	}
	if q.current != nil {
		snapshot.CurrentJobID = q.current.ID
		snapshot.ProcessingCount = 1
	}
	for _, job := range q.jobs {
		switch job.Status {
		case StatusPending:
			snapshot.PendingCount++
		case StatusCancelled:
			snapshot.CancelledCount++
		}
	}
	return snapshot
}

// PendingJobs returns copies of all pending jobs in priority order.
func (q *Queue) PendingJobs() []*Job {
	q.mu.Lock()
	pending := make([]*Job, 0, q.heap.Len())
	for _, job := range q.jobs {
		if job.Status == StatusPending {
			pending = append(pending, job.clone())
		}
	}
	q.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].less(pending[j]) })
	return pending
}

// RecentJobs returns up to limit jobs across all statuses, newest first.
func (q *Queue) RecentJobs(limit int) []*Job {
	q.mu.Lock()
	jobs := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		jobs = append(jobs, job.clone())
	}
	q.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].seq > jobs[j].seq
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// ClearCompleted removes terminal jobs whose completion timestamp is older
// than maxAge and returns the number removed.
func (q *Queue) ClearCompleted(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	q.mu.Lock()
	var removed []string
	for id, job := range q.jobs {
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(q.jobs, id)
	}
	q.mu.Unlock()

	for _, id := range removed {
		q.mirrorDelete(id)
	}
	if len(removed) > 0 {
		q.logger.Info("cleared terminal jobs", logging.Int("count", len(removed)))
	}
	return len(removed)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) mirrorSave(job *Job) {
	if q.mirror == nil || job == nil {
		return
	}
	if err := q.mirror.SaveJob(context.Background(), job); err != nil {
		q.logger.Warn("mirror save failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
	}
}

func (q *Queue) mirrorDelete(id string) {
	if q.mirror == nil {
		return
	}
	if err := q.mirror.DeleteJob(context.Background(), id); err != nil {
		q.logger.Warn("mirror delete failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err),
		)
	}
}

// jobHeap implements container/heap ordered by Job.less.
type jobHeap []*Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)        { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
