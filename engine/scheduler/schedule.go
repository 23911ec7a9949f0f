package scheduler

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/flowmatic/flowmatic/engine/core"
)

// TriggerType names the source that fires a schedule.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerOnce     TriggerType = "once"
	TriggerEvent    TriggerType = "event"
	TriggerWebhook  TriggerType = "webhook"
)

// Status is the schedule lifecycle state. Schedules stay active until an end
// condition flips them to expired; paused and disabled schedules never fire.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
	StatusExpired  Status = "expired"
)

// Schedule binds a workflow to a trigger source.
type Schedule struct {
	ID          string      `json:"id"                    validate:"required"`
	WorkflowID  string      `json:"workflowId"            validate:"required"`
	TriggerType TriggerType `json:"triggerType"           validate:"required,oneof=manual cron interval once event webhook"`
	Cron        string      `json:"cron,omitempty"        validate:"omitempty,cron"`
	IntervalMs  int64       `json:"intervalMs,omitempty"  validate:"omitempty,gt=0"`
	Timezone    string      `json:"timezone,omitempty"`
	StartDate   time.Time   `json:"startDate,omitempty"`
	EndDate     time.Time   `json:"endDate,omitempty"`
	// MaxExecutions caps dispatches; zero means unbounded.
	MaxExecutions  int        `json:"maxExecutions,omitempty" validate:"omitempty,gte=0"`
	ExecutionCount int        `json:"executionCount"`
	Status         Status     `json:"status"`
	LastRunAt      time.Time  `json:"lastRunAt,omitempty"`
	NextRunAt      time.Time  `json:"nextRunAt,omitempty"`
	Input          core.Input `json:"input,omitempty"`

	// Source names the event source an event schedule listens to.
	Source string `json:"source,omitempty"`
	// Filters must subset-match event data for the schedule to fire.
	Filters map[string]any `json:"filters,omitempty"`
	// Endpoint binds a webhook schedule to an endpoint string.
	Endpoint string `json:"endpoint,omitempty"`
	// RunAt is the single fire time of a once schedule.
	RunAt time.Time `json:"runAt,omitempty"`
	// SkipIfRunning suppresses a dispatch while the workflow is running.
	SkipIfRunning bool `json:"skipIfRunning,omitempty"`
}

var validate = newScheduleValidator()

func newScheduleValidator() *validator.Validate {
	v := validator.New()
	// The cron tag reuses the engine's 5/6-field parser.
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		expr := fl.Field().String()
		if expr == "" {
			return true
		}
		_, err := ParseCron(expr)
		return err == nil
	})
	return v
}

// ValidateSchedule checks structural validity plus per-trigger requirements.
func ValidateSchedule(s *Schedule) error {
	if err := validate.Struct(s); err != nil {
		return core.SchedulerError(core.CodeSchedulerInvalidCron,
			fmt.Sprintf("invalid schedule %q: %s", s.ID, err))
	}
	switch s.TriggerType {
	case TriggerCron:
		if s.Cron == "" {
			return core.SchedulerError(core.CodeSchedulerInvalidCron,
				fmt.Sprintf("schedule %q requires a cron expression", s.ID))
		}
		if err := ValidateCron(s.Cron, s.Timezone); err != nil {
			return err
		}
	case TriggerInterval:
		if s.IntervalMs <= 0 {
			return core.SchedulerError(core.CodeSchedulerInvalidCron,
				fmt.Sprintf("schedule %q requires a positive intervalMs", s.ID))
		}
	case TriggerOnce:
		if s.RunAt.IsZero() {
			return core.SchedulerError(core.CodeSchedulerInvalidCron,
				fmt.Sprintf("schedule %q requires a runAt time", s.ID))
		}
	case TriggerEvent:
		if s.Source == "" {
			return core.SchedulerError(core.CodeSchedulerInvalidCron,
				fmt.Sprintf("schedule %q requires an event source", s.ID))
		}
	case TriggerWebhook:
		if s.Endpoint == "" {
			return core.SchedulerError(core.CodeSchedulerInvalidCron,
				fmt.Sprintf("schedule %q requires an endpoint", s.ID))
		}
	}
	return nil
}

// computeNextRun fills NextRunAt for time-driven schedules.
func (s *Schedule) computeNextRun(now time.Time) error {
	switch s.TriggerType {
	case TriggerCron:
		next, err := NextCron(s.Cron, s.Timezone, now)
		if err != nil {
			return err
		}
		s.NextRunAt = next
	case TriggerInterval:
		base := s.LastRunAt
		if base.IsZero() {
			base = now
		}
		s.NextRunAt = base.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case TriggerOnce:
		s.NextRunAt = s.RunAt
	}
	return nil
}

// expired reports whether an end condition has been reached.
func (s *Schedule) expired(now time.Time) bool {
	if !s.EndDate.IsZero() && s.EndDate.Before(now) {
		return true
	}
	if s.MaxExecutions > 0 && s.ExecutionCount >= s.MaxExecutions {
		return true
	}
	return false
}
