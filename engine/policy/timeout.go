package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
)

// TimeoutError reports an operation that outlived its deadline.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s (limit %s)", e.Operation, e.Elapsed, e.Timeout)
}

// AsCoreError converts the timeout into the taxonomy form.
func (e *TimeoutError) AsCoreError() *core.Error {
	err := core.StepError(core.CodeStepTimeout, e.Operation, e.Error(), e)
	err.Details["timeoutMs"] = e.Timeout.Milliseconds()
	err.Details["elapsedMs"] = e.Elapsed.Milliseconds()
	err.Details["operation"] = e.Operation
	return err
}

// RunWithTimeout races fn against the deadline on monotonic time. On expiry
// the derived context is cancelled, the optional cleanup runs at most once,
// and a TimeoutError is returned. A zero timeout means no deadline.
func RunWithTimeout(
	ctx context.Context,
	operation string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
	cleanup func(),
) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- fn(runCtx)
	}()

	var cleanupOnce sync.Once
	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			// Cancelled from outside, not a deadline hit.
			return ctx.Err()
		}
		if cleanup != nil {
			cleanupOnce.Do(cleanup)
		}
		return &TimeoutError{
			Operation: operation,
			Timeout:   timeout,
			Elapsed:   time.Since(started),
		}
	}
}
