package policy

import (
	"context"
	"errors"
	"math/rand"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/flowmatic/engine/core"
)

func TestBackoff(t *testing.T) {
	t.Run("Should compute fixed delays", func(t *testing.T) {
		b := NewBackoff(BackoffFixed, 100*time.Millisecond).WithJitter(0)
		assert.Equal(t, 100*time.Millisecond, b.Delay(1))
		assert.Equal(t, 100*time.Millisecond, b.Delay(5))
	})

	t.Run("Should compute linear delays", func(t *testing.T) {
		b := NewBackoff(BackoffLinear, 100*time.Millisecond).WithJitter(0)
		assert.Equal(t, 100*time.Millisecond, b.Delay(1))
		assert.Equal(t, 300*time.Millisecond, b.Delay(3))
	})

	t.Run("Should compute exponential delays with multiplier", func(t *testing.T) {
		b := NewBackoff(BackoffExponential, 100*time.Millisecond).WithJitter(0)
		assert.Equal(t, 100*time.Millisecond, b.Delay(1))
		assert.Equal(t, 200*time.Millisecond, b.Delay(2))
		assert.Equal(t, 400*time.Millisecond, b.Delay(3))
		assert.Equal(t, 800*time.Millisecond, b.Delay(4))
	})

	t.Run("Should clip to max delay before jitter", func(t *testing.T) {
		b := NewBackoff(BackoffExponential, 10*time.Second).WithJitter(0)
		b.MaxDelay = 15 * time.Second
		assert.Equal(t, 15*time.Second, b.Delay(5))
	})

	t.Run("Should bound jittered delays", func(t *testing.T) {
		b := NewBackoff(BackoffExponential, 500*time.Millisecond).
			WithRand(rand.New(rand.NewSource(42)))
		for n := 1; n <= 12; n++ {
			d := b.Delay(n)
			limit := time.Duration(float64(b.maxDelay()) * (1 + b.Jitter))
			assert.LessOrEqual(t, d, limit, "attempt %d", n)
			assert.GreaterOrEqual(t, d, time.Duration(0))
		}
	})

	t.Run("Should sum delays in TotalDelay", func(t *testing.T) {
		b := NewBackoff(BackoffLinear, 10*time.Millisecond).WithJitter(0)
		assert.Equal(t, 60*time.Millisecond, b.TotalDelay(3))
	})
}

func TestRetry(t *testing.T) {
	backoff := NewBackoff(BackoffFixed, time.Millisecond).WithJitter(0)

	t.Run("Should retry while attempts remain", func(t *testing.T) {
		r := NewRetry(3, backoff)
		err := errors.New("transient")
		assert.True(t, r.ShouldRetry(err, 1))
		assert.True(t, r.ShouldRetry(err, 2))
		assert.False(t, r.ShouldRetry(err, 3))
	})

	t.Run("Should respect the abort list", func(t *testing.T) {
		r := NewRetry(5, backoff)
		r.AbortOn = []string{"security"}
		sec := core.SecurityViolationError("_billing", "root", "reserved", "")
		assert.True(t, r.ShouldAbort(sec))
		assert.False(t, r.ShouldRetry(sec, 1))
		assert.False(t, r.ShouldAbort(errors.New("plain")))
	})

	t.Run("Should respect the error-kind allow list", func(t *testing.T) {
		r := NewRetry(5, backoff)
		r.RetryableErrors = []string{"adapter"}
		adapterErr := core.AdapterError(core.CodeAdapterFailure, "boom", nil)
		stepErr := core.StepError(core.CodeStepFailed, "a", "boom", nil)
		assert.True(t, r.ShouldRetry(adapterErr, 1))
		assert.False(t, r.ShouldRetry(stepErr, 1))
	})

	t.Run("Should respect message regexes", func(t *testing.T) {
		r := NewRetry(5, backoff)
		r.RetryableMessages = []*regexp.Regexp{regexp.MustCompile(`connection (refused|reset)`)}
		assert.True(t, r.ShouldRetry(errors.New("dial: connection refused"), 1))
		assert.False(t, r.ShouldRetry(errors.New("permission denied"), 1))
	})

	t.Run("Should give the predicate the final say", func(t *testing.T) {
		r := NewRetry(5, backoff)
		r.Predicate = func(err error, attempt int) bool { return attempt < 2 }
		err := errors.New("x")
		assert.True(t, r.ShouldRetry(err, 1))
		assert.False(t, r.ShouldRetry(err, 2))
	})
}

func TestRunWithTimeout(t *testing.T) {
	t.Run("Should pass through fast operations", func(t *testing.T) {
		err := RunWithTimeout(t.Context(), "quick", 100*time.Millisecond, func(ctx context.Context) error {
			return nil
		}, nil)
		assert.NoError(t, err)
	})

	t.Run("Should surface timeout with elapsed and limit", func(t *testing.T) {
		cleanups := 0
		err := RunWithTimeout(t.Context(), "slow", 30*time.Millisecond, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, func() { cleanups++ })

		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, "slow", timeoutErr.Operation)
		assert.Equal(t, 30*time.Millisecond, timeoutErr.Timeout)
		assert.GreaterOrEqual(t, timeoutErr.Elapsed, 30*time.Millisecond)
		assert.Equal(t, 1, cleanups)

		coreErr := timeoutErr.AsCoreError()
		assert.Equal(t, core.CodeStepTimeout, coreErr.Code)
		assert.Equal(t, int64(30), coreErr.Details["timeoutMs"])
	})

	t.Run("Should report outer cancellation as cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := RunWithTimeout(ctx, "cancelled", time.Second, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Should run without deadline when timeout is zero", func(t *testing.T) {
		err := RunWithTimeout(t.Context(), "unbounded", 0, func(ctx context.Context) error {
			_, hasDeadline := ctx.Deadline()
			assert.False(t, hasDeadline)
			return nil
		}, nil)
		assert.NoError(t, err)
	})
}

func TestFailureStrategy(t *testing.T) {
	t.Run("Should fail hard on critical steps", func(t *testing.T) {
		s := &FailureStrategy{Type: FailureContinue, CriticalSteps: []string{"deploy"}}
		d := s.Decide(Observation{StepID: "deploy", TotalSteps: 4, CompletedSteps: 3, CurrentFailures: 1})
		assert.False(t, d.Continue)
		assert.True(t, d.RunCleanup)
		assert.True(t, d.SkipDependents)
		assert.Equal(t, core.WorkflowStatusFailed, d.FinalStatus)
	})

	t.Run("Should abort past the failure budget", func(t *testing.T) {
		s := &FailureStrategy{Type: FailureContinue, MaxFailures: 2, AllowPartialSuccess: true}
		d := s.Decide(Observation{StepID: "x", TotalSteps: 10, CompletedSteps: 4, CurrentFailures: 3})
		assert.False(t, d.Continue)
		assert.Equal(t, core.WorkflowStatusPartial, d.FinalStatus)

		s.AllowPartialSuccess = false
		d = s.Decide(Observation{StepID: "x", TotalSteps: 10, CompletedSteps: 4, CurrentFailures: 3})
		assert.Equal(t, core.WorkflowStatusFailed, d.FinalStatus)
	})

	t.Run("Should tolerate failures inside the budget", func(t *testing.T) {
		s := &FailureStrategy{Type: FailureContinue, MaxFailures: 2}
		d := s.Decide(Observation{StepID: "x", CurrentFailures: 2})
		assert.True(t, d.Continue)
	})

	t.Run("Should mark dependents for skipping under skipDependent", func(t *testing.T) {
		s := &FailureStrategy{Type: FailureSkipDependent}
		d := s.Decide(Observation{StepID: "x", CurrentFailures: 1})
		assert.True(t, d.Continue)
		assert.True(t, d.SkipDependents)
	})

	t.Run("Should halt under abort", func(t *testing.T) {
		s := &FailureStrategy{Type: FailureAbort}
		d := s.Decide(Observation{StepID: "x", CurrentFailures: 1})
		assert.False(t, d.Continue)
		assert.True(t, d.RunCleanup)
	})
}

func TestFinalStatus(t *testing.T) {
	t.Run("Should follow the documented status rules", func(t *testing.T) {
		assert.Equal(t, core.WorkflowStatusSuccess, FinalStatus(false, 3, 3, 0))
		assert.Equal(t, core.WorkflowStatusFailed, FinalStatus(true, 3, 0, 3))
		assert.Equal(t, core.WorkflowStatusPartial, FinalStatus(true, 4, 3, 1))
		// Partial denied without the flag.
		assert.Equal(t, core.WorkflowStatusFailed, FinalStatus(false, 4, 3, 1))
		// Partial denied at half failing.
		assert.Equal(t, core.WorkflowStatusFailed, FinalStatus(true, 4, 2, 2))
	})
}
