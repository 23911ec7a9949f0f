package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowmatic/flowmatic/pkg/logger"
)

// Hook is a record of optional lifecycle callables. Every registered hook is
// invoked sequentially at the matching moment, in registration order.
type Hook struct {
	Name           string
	BeforeWorkflow func(ctx context.Context, evt Event) error
	AfterWorkflow  func(ctx context.Context, evt Event) error
	BeforeStep     func(ctx context.Context, evt Event) error
	AfterStep      func(ctx context.Context, evt Event) error
	OnError        func(ctx context.Context, evt Event) error
	OnRetry        func(ctx context.Context, evt Event) error
	OnPause        func(ctx context.Context, evt Event) error
	OnResume       func(ctx context.Context, evt Event) error
}

// HookPoint selects which callable of a hook to invoke.
type HookPoint string

const (
	PointBeforeWorkflow HookPoint = "beforeWorkflow"
	PointAfterWorkflow  HookPoint = "afterWorkflow"
	PointBeforeStep     HookPoint = "beforeStep"
	PointAfterStep      HookPoint = "afterStep"
	PointOnError        HookPoint = "onError"
	PointOnRetry        HookPoint = "onRetry"
	PointOnPause        HookPoint = "onPause"
	PointOnResume       HookPoint = "onResume"
)

// HookManager invokes registered hooks. Hook failures are logged and
// isolated unless FailOnHookError is set.
type HookManager struct {
	mu              sync.RWMutex
	hooks           []*Hook
	log             logger.Logger
	FailOnHookError bool
}

func NewHookManager(log logger.Logger) *HookManager {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &HookManager{log: log}
}

// Register appends a hook; invocation order is registration order.
func (m *HookManager) Register(h *Hook) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// Invoke runs the given point of every hook.
func (m *HookManager) Invoke(ctx context.Context, point HookPoint, evt Event) error {
	m.mu.RLock()
	hooks := make([]*Hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.RUnlock()

	for _, h := range hooks {
		fn := h.callable(point)
		if fn == nil {
			continue
		}
		if err := m.invokeOne(ctx, h, point, fn, evt); err != nil {
			return err
		}
	}
	return nil
}

func (m *HookManager) invokeOne(
	ctx context.Context,
	h *Hook,
	point HookPoint,
	fn func(context.Context, Event) error,
	evt Event,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("hook %q panicked at %s: %v", h.Name, point, r)
			if m.FailOnHookError {
				err = panicErr
				return
			}
			m.log.Error("hook panicked", "hook", h.Name, "point", point, "panic", fmt.Sprintf("%v", r))
		}
	}()
	if hookErr := fn(ctx, evt); hookErr != nil {
		if m.FailOnHookError {
			return fmt.Errorf("hook %q failed at %s: %w", h.Name, point, hookErr)
		}
		m.log.Error("hook failed", "hook", h.Name, "point", point, "error", hookErr)
	}
	return nil
}

func (h *Hook) callable(point HookPoint) func(context.Context, Event) error {
	switch point {
	case PointBeforeWorkflow:
		return h.BeforeWorkflow
	case PointAfterWorkflow:
		return h.AfterWorkflow
	case PointBeforeStep:
		return h.BeforeStep
	case PointAfterStep:
		return h.AfterStep
	case PointOnError:
		return h.OnError
	case PointOnRetry:
		return h.OnRetry
	case PointOnPause:
		return h.OnPause
	case PointOnResume:
		return h.OnResume
	default:
		return nil
	}
}
