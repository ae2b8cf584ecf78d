package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Refresher is anything that wants to hear about completed turns.
type Refresher interface {
	Refresh(ctx context.Context, sessionID uuid.UUID) error
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context, sessionID uuid.UUID) error

func (f RefreshFunc) Refresh(ctx context.Context, sessionID uuid.UUID) error {
	return f(ctx, sessionID)
}

// Registry fans a refresh out to every registered refresher. It is itself a
// Refresher.
type Registry struct {
	mu         sync.RWMutex
	refreshers map[string]Refresher
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		refreshers: make(map[string]Refresher),
	}
}

// Register adds or replaces the refresher with the given name.
func (r *Registry) Register(name string, ref Refresher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshers[name] = ref
}

// Get returns the refresher for the given name, or false if not registered.
func (r *Registry) Get(name string) (Refresher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.refreshers[name]
	return ref, ok
}

// Refresh calls every registered refresher in name order. A failing
// refresher does not stop the others; all failures are joined.
func (r *Registry) Refresh(ctx context.Context, sessionID uuid.UUID) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.refreshers))
	refs := make(map[string]Refresher, len(r.refreshers))
	for name, ref := range r.refreshers {
		names = append(names, name)
		refs[name] = ref
	}
	r.mu.RUnlock()

	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := refs[name].Refresh(ctx, sessionID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify.Registry.Refresh: %w", errors.Join(errs...))
	}
	return nil
}
