package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/quietline/presencewatch/internal/model"
)

// Registry maps a Platform to its Factory and optional platform-wide
// lifecycle hooks, per spec.md §4.6. Built once at process start,
// torn down once at shutdown — explicit lifecycle, not ambient globals
// (spec.md §9).
type Registry struct {
	mu         sync.RWMutex
	factories  map[model.Platform]Factory
	lifecycles map[model.Platform]PlatformLifecycle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:  make(map[model.Platform]Factory),
		lifecycles: make(map[model.Platform]PlatformLifecycle),
	}
}

// Register adds a platform's factory and, if it has one, its
// platform-wide receive-loop lifecycle.
func (r *Registry) Register(platform model.Platform, factory Factory, lifecycle PlatformLifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = factory
	if lifecycle != nil {
		r.lifecycles[platform] = lifecycle
	}
}

// Supports reports whether a platform has been registered.
func (r *Registry) Supports(platform model.Platform) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[platform]
	return ok
}

// Create constructs a new Adapter for one (user, contact) session.
func (r *Registry) Create(ctx context.Context, platform model.Platform, userID, contactID int64) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter: platform %q is not registered", platform)
	}
	return factory(ctx, userID, contactID)
}

// StartAll starts every registered platform's platform-wide lifecycle
// (e.g. a Signal/WhatsApp Cloud ReceiptService's long-lived receive
// loop). Call once at process start.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for platform, lc := range r.lifecycles {
		if err := lc.StartAll(ctx); err != nil {
			return fmt.Errorf("adapter: start %s: %w", platform, err)
		}
	}
	return nil
}

// StopAll stops every registered platform's platform-wide lifecycle.
// Call once at process shutdown.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for platform, lc := range r.lifecycles {
		if err := lc.StopAll(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("adapter: stop %s: %w", platform, err)
		}
	}
	return firstErr
}
