package policy

import (
	"github.com/flowmatic/flowmatic/engine/core"
)

// FailureStrategyType selects what happens to the rest of a run after a
// step fails.
type FailureStrategyType string

const (
	FailureAbort         FailureStrategyType = "abort"
	FailureContinue      FailureStrategyType = "continue"
	FailureSkipDependent FailureStrategyType = "skipDependent"
)

// FailureStrategy is the policy consulted on every unrecoverable step
// failure.
type FailureStrategy struct {
	Type                FailureStrategyType
	AllowPartialSuccess bool
	// MaxFailures caps tolerated failures; zero or negative means
	// unbounded.
	MaxFailures   int
	CriticalSteps []string
}

// Decision is the strategy's verdict for one failure.
type Decision struct {
	Continue       bool
	RunCleanup     bool
	SkipDependents bool
	FinalStatus    core.WorkflowStatus
}

// Observation carries the run counters at the moment of the failure.
type Observation struct {
	StepID          string
	TotalSteps      int
	CompletedSteps  int
	CurrentFailures int
}

// Decide applies the documented precedence: critical step, failure budget,
// then the strategy type.
func (s *FailureStrategy) Decide(obs Observation) Decision {
	if s.isCritical(obs.StepID) {
		return Decision{
			Continue:       false,
			RunCleanup:     true,
			SkipDependents: true,
			FinalStatus:    core.WorkflowStatusFailed,
		}
	}
	if s.MaxFailures > 0 && obs.CurrentFailures > s.MaxFailures {
		status := core.WorkflowStatusFailed
		if s.AllowPartialSuccess && obs.CompletedSteps > 0 {
			status = core.WorkflowStatusPartial
		}
		return Decision{Continue: false, RunCleanup: true, FinalStatus: status}
	}
	switch s.Type {
	case FailureContinue:
		return Decision{Continue: true}
	case FailureSkipDependent:
		return Decision{Continue: true, SkipDependents: true}
	default:
		return Decision{Continue: false, RunCleanup: true, FinalStatus: core.WorkflowStatusFailed}
	}
}

func (s *FailureStrategy) isCritical(stepID string) bool {
	for _, id := range s.CriticalSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// FinalStatus computes the run's terminal status from its counters: success
// with zero failures, failed with zero completions, partial when allowed
// and at least half the steps completed with under half failing.
func FinalStatus(allowPartial bool, total, completed, failed int) core.WorkflowStatus {
	if failed == 0 {
		return core.WorkflowStatusSuccess
	}
	if completed == 0 {
		return core.WorkflowStatusFailed
	}
	if allowPartial && total > 0 {
		completedRatio := float64(completed) / float64(total)
		failedRatio := float64(failed) / float64(total)
		if completedRatio >= 0.5 && failedRatio < 0.5 {
			return core.WorkflowStatusPartial
		}
	}
	return core.WorkflowStatusFailed
}
