// Package scheduler multiplexes trigger sources (cron, interval, once,
// event, webhook, manual) into dispatched jobs.
package scheduler

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/event"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

// Dispatcher receives a fired schedule with its effective input and turns
// it into a job. Returning an error leaves the schedule's counters
// untouched so a saturated queue does not consume executions.
type Dispatcher func(ctx context.Context, s *Schedule, input core.Input) error

// RunningChecker reports whether a workflow currently has a running
// execution, for skipIfRunning suppression.
type RunningChecker func(workflowID string) bool

const tickInterval = time.Second

// Scheduler owns the schedule table and the tick loop. The loop runs at
// most once per second and corrects drift by comparing NextRunAt against
// the clock rather than accumulating intervals.
type Scheduler struct {
	mu        sync.Mutex
	schedules map[string]*Schedule

	dispatch  Dispatcher
	isRunning RunningChecker
	bus       *event.Bus
	log       logger.Logger

	cancel  context.CancelFunc
	stopped chan struct{}
	started bool
}

func New(dispatch Dispatcher, bus *event.Bus, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &Scheduler{
		schedules: make(map[string]*Schedule),
		dispatch:  dispatch,
		bus:       bus,
		log:       log,
	}
}

// WithRunningChecker wires the skipIfRunning probe.
func (s *Scheduler) WithRunningChecker(check RunningChecker) *Scheduler {
	s.isRunning = check
	return s
}

// Add validates the schedule, computes its first fire time, and activates
// it.
func (s *Scheduler) Add(sched *Schedule) error {
	if err := ValidateSchedule(sched); err != nil {
		return err
	}
	now := time.Now()
	if sched.Status == "" {
		sched.Status = StatusActive
	}
	if err := sched.computeNextRun(now); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[sched.ID]; exists {
		return core.SchedulerError(core.CodeSchedulerInvalidCron,
			fmt.Sprintf("schedule %q already exists", sched.ID))
	}
	s.schedules[sched.ID] = sched
	return nil
}

// Remove drops a schedule.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return core.SchedulerError(core.CodeSchedulerNotFound, fmt.Sprintf("schedule %q not found", id))
	}
	delete(s.schedules, id)
	return nil
}

// Get returns a schedule by id.
func (s *Scheduler) Get(id string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, core.SchedulerError(core.CodeSchedulerNotFound, fmt.Sprintf("schedule %q not found", id))
	}
	return sched, nil
}

// List returns all schedules.
func (s *Scheduler) List() []*Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		result = append(result, sched)
	}
	return result
}

// Pause stops an active schedule from firing until resumed.
func (s *Scheduler) Pause(id string) error {
	return s.setStatus(id, StatusPaused)
}

// Resume reactivates a paused schedule.
func (s *Scheduler) Resume(id string) error {
	if err := s.setStatus(id, StatusActive); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules[id].computeNextRun(time.Now())
}

func (s *Scheduler) setStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return core.SchedulerError(core.CodeSchedulerNotFound, fmt.Sprintf("schedule %q not found", id))
	}
	sched.Status = status
	return nil
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.started = true
	go s.tickLoop(loopCtx)
}

// Stop halts the tick loop. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	stopped := s.stopped
	s.mu.Unlock()
	cancel()
	<-stopped
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// tick fires every due time-driven schedule.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*Schedule
	for _, sched := range s.schedules {
		if sched.Status != StatusActive {
			continue
		}
		switch sched.TriggerType {
		case TriggerCron, TriggerInterval, TriggerOnce:
		default:
			continue
		}
		if sched.expired(now) {
			sched.Status = StatusExpired
			continue
		}
		if !sched.NextRunAt.IsZero() && !sched.NextRunAt.After(now) {
			if !sched.StartDate.IsZero() && sched.StartDate.After(now) {
				continue
			}
			due = append(due, sched)
		}
	}
	s.mu.Unlock()

	for _, sched := range due {
		s.fire(ctx, sched, sched.Input, now)
	}
}

// fire dispatches one schedule and advances its lifecycle counters.
func (s *Scheduler) fire(ctx context.Context, sched *Schedule, input core.Input, now time.Time) {
	if s.isRunning != nil && sched.SkipIfRunning && s.isRunning(sched.WorkflowID) {
		s.log.Debug("schedule suppressed, workflow already running",
			"schedule", sched.ID, "workflow", sched.WorkflowID)
		s.advance(sched, now, false)
		return
	}
	if err := s.dispatch(ctx, sched, input); err != nil {
		s.log.Warn("schedule dispatch failed", "schedule", sched.ID, "error", err)
		s.advance(sched, now, false)
		return
	}
	s.emitTriggered(ctx, sched)
	s.advance(sched, now, true)
}

// advance updates lastRun/nextRun and applies expiry rules.
func (s *Scheduler) advance(sched *Schedule, now time.Time, dispatched bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched.LastRunAt = now
	if dispatched {
		sched.ExecutionCount++
	}
	if sched.TriggerType == TriggerOnce {
		sched.Status = StatusExpired
		return
	}
	if sched.expired(now) {
		sched.Status = StatusExpired
		return
	}
	if err := sched.computeNextRun(now); err != nil {
		s.log.Error("failed to compute next run", "schedule", sched.ID, "error", err)
		sched.Status = StatusDisabled
	}
}

// TriggerManual dispatches a schedule immediately, optionally overriding
// its input.
func (s *Scheduler) TriggerManual(ctx context.Context, id string, inputOverride core.Input) error {
	sched, err := s.Get(id)
	if err != nil {
		return err
	}
	if sched.Status != StatusActive {
		return core.SchedulerError(core.CodeSchedulerNotFound,
			fmt.Sprintf("schedule %q is %s", id, sched.Status))
	}
	input := sched.Input
	if inputOverride != nil {
		merged, mergeErr := core.Merge(map[string]any(sched.Input), map[string]any(inputOverride), "input")
		if mergeErr != nil {
			return mergeErr
		}
		input = core.Input(merged)
	}
	s.fire(ctx, sched, input, time.Now())
	return nil
}

// EventPayload is the argument to TriggerEvent.
type EventPayload struct {
	Source  string
	Filters map[string]any
	Data    map[string]any
}

// TriggerEvent fires every active event schedule whose source matches and
// whose filters subset-match the event data. Event data merges into the job
// input under "event".
func (s *Scheduler) TriggerEvent(ctx context.Context, payload EventPayload) int {
	fired := 0
	for _, sched := range s.matching(TriggerEvent, func(sched *Schedule) bool {
		return sched.Source == payload.Source && subsetMatch(sched.Filters, payload.Data)
	}) {
		input := core.CopyMaps(map[string]any(sched.Input))
		input["event"] = map[string]any{
			"source": payload.Source,
			"data":   payload.Data,
		}
		s.fire(ctx, sched, core.Input(input), time.Now())
		fired++
	}
	return fired
}

// WebhookPayload is the argument to TriggerWebhook.
type WebhookPayload struct {
	Endpoint string
	Method   string
	Body     map[string]any
	Headers  map[string]string
}

// TriggerWebhook fires every active webhook schedule bound to the endpoint.
// The request merges into the job input under "webhook".
func (s *Scheduler) TriggerWebhook(ctx context.Context, payload WebhookPayload) int {
	fired := 0
	for _, sched := range s.matching(TriggerWebhook, func(sched *Schedule) bool {
		return sched.Endpoint == payload.Endpoint
	}) {
		input := core.CopyMaps(map[string]any(sched.Input))
		input["webhook"] = map[string]any{
			"endpoint": payload.Endpoint,
			"method":   payload.Method,
			"body":     payload.Body,
			"headers":  payload.Headers,
		}
		s.fire(ctx, sched, core.Input(input), time.Now())
		fired++
	}
	return fired
}

func (s *Scheduler) matching(typ TriggerType, match func(*Schedule) bool) []*Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Schedule
	for _, sched := range s.schedules {
		if sched.Status == StatusActive && sched.TriggerType == typ && match(sched) {
			result = append(result, sched)
		}
	}
	return result
}

func (s *Scheduler) emitTriggered(ctx context.Context, sched *Schedule) {
	if s.bus == nil {
		return
	}
	evt := event.New(event.ScheduleTriggered, map[string]any{
		"scheduleId": sched.ID,
		"trigger":    string(sched.TriggerType),
	})
	evt.WorkflowID = sched.WorkflowID
	if err := s.bus.Emit(ctx, evt); err != nil {
		s.log.Error("failed to emit schedule event", "schedule", sched.ID, "error", err)
	}
}

// subsetMatch reports whether every filter entry equals the corresponding
// data entry.
func subsetMatch(filters, data map[string]any) bool {
	for key, want := range filters {
		got, ok := data[key]
		if !ok || !reflect.DeepEqual(want, got) {
			return false
		}
	}
	return true
}
