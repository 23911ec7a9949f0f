package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowmatic/flowmatic/pkg/logger"
)

// Handler consumes one event. Handlers run sequentially per emission; a
// failing handler is isolated from the others unless the bus is configured
// to fail fast.
type Handler func(ctx context.Context, evt Event) error

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Bus is a name-keyed subscription list with a wildcard lane. Subscription
// lists are copied on read so handlers may subscribe and unsubscribe
// concurrently with emission.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	nextID      int
	log         logger.Logger
	// FailFast propagates the first handler error instead of logging it.
	FailFast bool
}

type subscription struct {
	id      int
	handler Handler
	once    bool
}

func NewBus(log logger.Logger) *Bus {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &Bus{
		subscribers: make(map[string][]*subscription),
		log:         log,
	}
}

// On subscribes a handler to a type (or Wildcard) and returns an
// unsubscribe token.
func (b *Bus) On(eventType Type, handler Handler) int {
	return b.subscribe(string(eventType), handler, false)
}

// Once subscribes a handler that is removed after its first delivery.
func (b *Bus) Once(eventType Type, handler Handler) int {
	return b.subscribe(string(eventType), handler, true)
}

// OnMany subscribes one handler to several types at once.
func (b *Bus) OnMany(eventTypes []Type, handler Handler) []int {
	tokens := make([]int, len(eventTypes))
	for i, t := range eventTypes {
		tokens[i] = b.On(t, handler)
	}
	return tokens
}

func (b *Bus) subscribe(key string, handler Handler, once bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subscribers[key] = append(b.subscribers[key], &subscription{
		id:      b.nextID,
		handler: handler,
		once:    once,
	})
	return b.nextID
}

// Off removes a subscription by token.
func (b *Bus) Off(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, subs := range b.subscribers {
		for i, sub := range subs {
			if sub.id == token {
				b.subscribers[key] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]*subscription)
}

// ListenerCount returns the number of handlers for a type, wildcard
// included.
func (b *Bus) ListenerCount(eventType Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[string(eventType)]) + len(b.subscribers[Wildcard])
}

// Emit delivers the event to the type's handlers and then the wildcard
// handlers, sequentially, in subscription order.
func (b *Bus) Emit(ctx context.Context, evt Event) error {
	subs := b.snapshot(string(evt.Type))
	for _, sub := range subs {
		if err := b.deliver(ctx, sub, evt); err != nil {
			return err
		}
	}
	return nil
}

// EmitSync is Emit with a background context, for callers without one.
func (b *Bus) EmitSync(evt Event) error {
	return b.Emit(context.Background(), evt)
}

func (b *Bus) deliver(ctx context.Context, sub *subscription, evt Event) error {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "event", evt.Type, "panic", fmt.Sprintf("%v", r))
		}
	}()
	if err := sub.handler(ctx, evt); err != nil {
		if b.FailFast {
			return err
		}
		b.log.Error("event handler failed", "event", evt.Type, "error", err)
	}
	return nil
}

// snapshot copies the relevant subscriber lists and drops one-shot entries.
func (b *Bus) snapshot(key string) []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	var result []*subscription
	for _, k := range []string{key, Wildcard} {
		subs := b.subscribers[k]
		if len(subs) == 0 {
			continue
		}
		result = append(result, subs...)
		remaining := subs[:0]
		for _, sub := range subs {
			if !sub.once {
				remaining = append(remaining, sub)
			}
		}
		b.subscribers[k] = remaining
	}
	return result
}
