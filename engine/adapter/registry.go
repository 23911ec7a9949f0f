package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/flowmatic/flowmatic/engine/core"
)

// Registry maps action strings to adapters. Registration happens while the
// engine boots; resolution afterwards is read-mostly and safe under
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Duplicate names are refused.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("cannot register nil adapter")
	}
	name := a.Name()
	if name == "" {
		return fmt.Errorf("cannot register adapter with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	return nil
}

// Resolve finds the adapter responsible for an action. The namespace before
// the first dot is tried as an exact adapter name first; when that adapter
// does not claim the action, every adapter is scanned in registration order
// and the first that claims support wins.
func (r *Registry) Resolve(action string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[Namespace(action)]; ok && a.Supports(action) {
		return a, nil
	}
	for _, name := range r.order {
		if a := r.adapters[name]; a.Supports(action) {
			return a, nil
		}
	}
	return nil, core.AdapterError(core.CodeAdapterUnknown,
		fmt.Sprintf("no adapter supports action %q (registered: %s)", action, strings.Join(r.namesLocked(), ", ")),
		nil).WithHint("register an adapter whose patterns cover the action")
}

// Get returns a registered adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitializeAll runs every adapter's Initialize hook in registration order.
func (r *Registry) InitializeAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if err := r.adapters[name].Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize adapter %q: %w", name, err)
		}
	}
	return nil
}

// CleanupAll runs every adapter's Cleanup hook. Failures are collected so
// one misbehaving adapter does not prevent the rest from cleaning up.
func (r *Registry) CleanupAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []string
	for _, name := range r.order {
		if err := r.adapters[name].Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("adapter cleanup failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
