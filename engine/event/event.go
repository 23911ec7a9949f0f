// Package event implements the lifecycle pub/sub bus and the user hook
// pipeline.
package event

import (
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
)

// Type names a lifecycle event.
type Type string

const (
	WorkflowStarted   Type = "workflow.started"
	WorkflowCompleted Type = "workflow.completed"
	WorkflowFailed    Type = "workflow.failed"
	WorkflowPaused    Type = "workflow.paused"
	WorkflowResumed   Type = "workflow.resumed"
	WorkflowCancelled Type = "workflow.cancelled"

	StepStarted   Type = "step.started"
	StepCompleted Type = "step.completed"
	StepFailed    Type = "step.failed"
	StepSkipped   Type = "step.skipped"
	StepRetrying  Type = "step.retrying"
	StepTimeout   Type = "step.timeout"

	JobEnqueued Type = "job.enqueued"
	JobDequeued Type = "job.dequeued"
	JobRetry    Type = "job.retry"

	ScheduleTriggered Type = "schedule.triggered"
	StateTransition   Type = "state.transition"

	EngineStarted Type = "engine.started"
	EngineStopped Type = "engine.stopped"
)

// Event is one lifecycle occurrence.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflowId,omitempty"`
	StepID     string         `json:"stepId,omitempty"`
	RunID      string         `json:"runId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// New builds an event stamped with the current time.
func New(typ Type, payload map[string]any) Event {
	return Event{
		ID:        core.NewEventID(),
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// ForRun attaches run coordinates to the event.
func (e Event) ForRun(workflowID, runID string) Event {
	e.WorkflowID = workflowID
	e.RunID = runID
	return e
}

// ForStep attaches a step id to the event.
func (e Event) ForStep(stepID string) Event {
	e.StepID = stepID
	return e
}
