package queue

import "context"

// Queue is the port between trigger sources and the worker pool. All
// mutations must be atomic under concurrent use.
type Queue interface {
	// Enqueue adds a pending job; fails with queue.full when the bound is
	// hit.
	Enqueue(job *Job) error
	// Dequeue blocks until a job is available or the context is done. The
	// returned job is in running state with its attempt counter bumped.
	Dequeue(ctx context.Context) (*Job, error)
	// MarkCompleted finishes a running job successfully.
	MarkCompleted(jobID string, result any) error
	// MarkFailed finishes a running job unsuccessfully; jobs with attempts
	// remaining are rescheduled after their retry delay.
	MarkFailed(jobID string, jobErr error) error
	// Get returns a job by id, including retained finished jobs.
	Get(jobID string) (*Job, error)
	// List returns every known job.
	List() []*Job
	// Stats summarizes the queue.
	Stats() Stats
	// Close releases resources; blocked Dequeue calls return.
	Close() error
}
