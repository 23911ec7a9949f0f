package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
)

// MemoryConfig tunes the in-memory queue.
type MemoryConfig struct {
	// MaxSize bounds pending jobs; zero means 1024.
	MaxSize int
	// RetentionTTL keeps finished jobs queryable before the sweeper drops
	// them; zero means an hour.
	RetentionTTL time.Duration
}

const (
	defaultMaxSize      = 1024
	defaultRetentionTTL = time.Hour
	sweepInterval       = 30 * time.Second
)

// Memory is the reference queue: bounded, priority-ordered (FIFO within a
// level), with retry rescheduling and finished-job retention.
type Memory struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *jobHeap
	jobs    map[string]*Job
	seq     uint64
	closed  bool

	maxSize      int
	retentionTTL time.Duration

	waitSamples []float64
	execSamples []float64

	sweepStop chan struct{}
}

func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = defaultRetentionTTL
	}
	q := &Memory{
		pending:      &jobHeap{},
		jobs:         make(map[string]*Job),
		maxSize:      cfg.MaxSize,
		retentionTTL: cfg.RetentionTTL,
		sweepStop:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.sweepLoop()
	return q
}

func (q *Memory) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.QueueError(core.CodeQueueFull, "queue is closed")
	}
	if q.pending.Len() >= q.maxSize {
		return core.QueueError(core.CodeQueueFull,
			fmt.Sprintf("queue is full (%d pending jobs)", q.pending.Len()))
	}
	job.Status = JobStatusPending
	if job.Metadata.CreatedAt.IsZero() {
		job.Metadata.CreatedAt = time.Now()
	}
	q.jobs[job.ID] = job
	q.seq++
	heap.Push(q.pending, &heapItem{job: job, seq: q.seq})
	q.cond.Broadcast()
	return nil
}

func (q *Memory) Dequeue(ctx context.Context) (*Job, error) {
	// Wake the cond wait when the context ends.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.closed {
			return nil, core.QueueError(core.CodeQueueJobNotFound, "queue is closed")
		}
		if q.pending.Len() > 0 {
			item := heap.Pop(q.pending).(*heapItem)
			job := item.job
			job.Status = JobStatusRunning
			job.Attempts++
			job.Metadata.StartedAt = time.Now()
			q.waitSamples = append(q.waitSamples,
				float64(job.Metadata.StartedAt.Sub(job.Metadata.CreatedAt).Milliseconds()))
			return job, nil
		}
		q.cond.Wait()
	}
}

func (q *Memory) MarkCompleted(jobID string, result any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return core.QueueError(core.CodeQueueJobNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	job.Status = JobStatusCompleted
	job.Result = result
	q.finishLocked(job)
	return nil
}

func (q *Memory) MarkFailed(jobID string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return core.QueueError(core.CodeQueueJobNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	if jobErr != nil {
		job.Errors = append(job.Errors, jobErr.Error())
	}
	if job.Attempts <= job.MaxRetries {
		job.Status = JobStatusRetrying
		delay := time.Duration(job.RetryDelayMs) * time.Millisecond
		go q.requeueAfter(job, delay)
		return nil
	}
	job.Status = JobStatusFailed
	q.finishLocked(job)
	return nil
}

func (q *Memory) requeueAfter(job *Job, delay time.Duration) {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-q.sweepStop:
			return
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || job.Status != JobStatusRetrying {
		return
	}
	job.Status = JobStatusPending
	q.seq++
	heap.Push(q.pending, &heapItem{job: job, seq: q.seq})
	q.cond.Broadcast()
}

func (q *Memory) finishLocked(job *Job) {
	job.Metadata.CompletedAt = time.Now()
	if !job.Metadata.StartedAt.IsZero() {
		job.Metadata.DurationMs = job.Metadata.CompletedAt.Sub(job.Metadata.StartedAt).Milliseconds()
		q.execSamples = append(q.execSamples, float64(job.Metadata.DurationMs))
	}
}

func (q *Memory) Get(jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, core.QueueError(core.CodeQueueJobNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	return job, nil
}

func (q *Memory) List() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

func (q *Memory) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := Stats{
		Total:           len(q.jobs),
		ByStatus:        make(map[JobStatus]int),
		AvgWaitMs:       mean(q.waitSamples),
		AvgExecutionMs:  mean(q.execSamples),
		PendingCapacity: q.maxSize - q.pending.Len(),
	}
	for _, job := range q.jobs {
		stats.ByStatus[job.Status]++
	}
	return stats
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.sweepStop)
	q.cond.Broadcast()
	return nil
}

// sweepLoop drops finished jobs past the retention TTL.
func (q *Memory) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.sweep()
		case <-q.sweepStop:
			return
		}
	}
}

func (q *Memory) sweep() {
	cutoff := time.Now().Add(-q.retentionTTL)
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, job := range q.jobs {
		finished := job.Status == JobStatusCompleted || job.Status == JobStatusFailed
		if finished && !job.Metadata.CompletedAt.IsZero() && job.Metadata.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total float64
	for _, s := range samples {
		total += s
	}
	return total / float64(len(samples))
}

// heapItem orders jobs by priority descending, then insertion order.
type heapItem struct {
	job *Job
	seq uint64
}

type jobHeap []*heapItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
