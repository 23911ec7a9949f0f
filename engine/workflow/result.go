package workflow

import (
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
)

// StepResult records the terminal state of one step within a run.
type StepResult struct {
	StepID     string          `json:"stepId"`
	Status     core.StepStatus `json:"status"`
	Output     core.Output     `json:"output,omitempty"`
	Error      *core.Error     `json:"error,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
	Duration   time.Duration   `json:"duration"`
	StartedAt  time.Time       `json:"startedAt,omitempty"`
	FinishedAt time.Time       `json:"finishedAt,omitempty"`
}

// ResultMetadata summarizes a run for reporting.
type ResultMetadata struct {
	TotalSteps      int `json:"totalSteps"`
	SuccessfulSteps int `json:"successfulSteps"`
	FailedSteps     int `json:"failedSteps"`
	SkippedSteps    int `json:"skippedSteps"`
	Phases          int `json:"phases"`
}

// Result is the outcome of one workflow run.
type Result struct {
	ExecutionID  string                 `json:"executionId"`
	WorkflowName string                 `json:"workflowName"`
	Status       core.WorkflowStatus    `json:"status"`
	StepResults  map[string]*StepResult `json:"stepResults"`
	Outputs      core.Output            `json:"outputs,omitempty"`
	Duration     time.Duration          `json:"duration"`
	StartedAt    time.Time              `json:"startedAt"`
	CompletedAt  time.Time              `json:"completedAt"`
	Metadata     ResultMetadata         `json:"metadata"`
	Error        *core.Error            `json:"error,omitempty"`
}
