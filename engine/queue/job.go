// Package queue defines the job model, the Queue port, and the bounded
// in-memory priority reference implementation that ships with the engine.
// Durable backends implement the same interface as collaborators.
package queue

import (
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
)

// JobType distinguishes whole-workflow jobs from single-step jobs.
type JobType string

const (
	JobTypeWorkflow JobType = "workflow"
	JobTypeStep     JobType = "step"
)

// JobStatus follows pending -> running -> {completed | failed | retrying ->
// pending}. Attempts increments on every transition into running.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// Priority orders dequeueing; higher first, FIFO within a level.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// ParsePriority maps the document-facing names onto levels. Unknown names
// fall back to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// JobMetadata carries the queue-side timestamps and tags.
type JobMetadata struct {
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	DurationMs  int64     `json:"durationMs,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Job is one queued unit of work.
type Job struct {
	ID           string        `json:"id"`
	WorkflowID   string        `json:"workflowId"`
	StepID       string        `json:"stepId,omitempty"`
	Type         JobType       `json:"type"`
	Payload      core.Input    `json:"payload,omitempty"`
	Status       JobStatus     `json:"status"`
	Priority     Priority      `json:"priority"`
	Attempts     int           `json:"attempts"`
	MaxRetries   int           `json:"maxRetries"`
	RetryDelayMs int64         `json:"retryDelayMs"`
	Errors       []string      `json:"errors,omitempty"`
	Result       any           `json:"result,omitempty"`
	Metadata     JobMetadata   `json:"metadata"`
	TimeoutMs    int64         `json:"timeoutMs,omitempty"`
	Dependencies []string      `json:"dependencies,omitempty"`
}

// NewJob mints a pending workflow job.
func NewJob(workflowID string, payload core.Input, priority Priority) *Job {
	return &Job{
		ID:         core.NewJobID(),
		WorkflowID: workflowID,
		Type:       JobTypeWorkflow,
		Payload:    payload,
		Status:     JobStatusPending,
		Priority:   priority,
		Metadata:   JobMetadata{CreatedAt: time.Now()},
	}
}

// Stats summarizes a queue.
type Stats struct {
	Total           int               `json:"total"`
	ByStatus        map[JobStatus]int `json:"byStatus"`
	AvgWaitMs       float64           `json:"avgWaitMs"`
	AvgExecutionMs  float64           `json:"avgExecutionMs"`
	PendingCapacity int               `json:"pendingCapacity"`
}
