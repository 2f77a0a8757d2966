// Package persistence loads, saves and rebuilds every manager's state per
// tenant and decides which tenants are active.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/pixil98/go-errors"

	"github.com/pixil98/go-guildrpg/internal/metrics"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

const (
	DefaultSaveInterval    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Manager is the state contract every cache-owning manager implements.
type Manager interface {
	LoadState(ctx context.Context, t storage.TenantID) error
	SaveState(ctx context.Context, t storage.TenantID) error
	RebuildRuntimeCaches(ctx context.Context, t storage.TenantID) error
}

// backlog is implemented by managers that can report unsaved writes.
type backlog interface {
	Pending(t storage.TenantID) (dirty int, deleted int)
}

type registered struct {
	name    string
	manager Manager
}

type Coordinator struct {
	saveInterval    time.Duration
	shutdownTimeout time.Duration
	metrics         *metrics.Metrics
	waitFor         []<-chan struct{}

	mu       sync.RWMutex
	managers []registered
	active   map[storage.TenantID]struct{}
}

func NewCoordinator(opts ...CoordinatorOpt) *Coordinator {
	c := &Coordinator{
		saveInterval:    DefaultSaveInterval,
		shutdownTimeout: DefaultShutdownTimeout,
		active:          map[storage.TenantID]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a manager. Managers load and save in registration order.
func (c *Coordinator) Register(name string, m Manager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.managers = append(c.managers, registered{name: name, manager: m})
}

func (c *Coordinator) registered() []registered {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.managers)
}

// ActiveTenants lists the tenants currently ticking, sorted.
func (c *Coordinator) ActiveTenants() []storage.TenantID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.active))
}

func (c *Coordinator) IsActive(t storage.TenantID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[t]
	return ok
}

// StartTenant loads every manager's state for the tenant, rebuilds derived
// caches and then makes the tenant active. The first failure aborts.
func (c *Coordinator) StartTenant(ctx context.Context, t storage.TenantID) error {
	if err := t.Validate(); err != nil {
		return err
	}

	managers := c.registered()
	for _, r := range managers {
		if err := r.manager.LoadState(ctx, t); err != nil {
			return fmt.Errorf("loading %s: %w", r.name, err)
		}
	}
	for _, r := range managers {
		if err := r.manager.RebuildRuntimeCaches(ctx, t); err != nil {
			return fmt.Errorf("rebuilding %s: %w", r.name, err)
		}
	}

	c.mu.Lock()
	c.active[t] = struct{}{}
	n := len(c.active)
	c.mu.Unlock()

	c.metrics.SetActiveTenants(n)
	slog.InfoContext(ctx, "tenant started", "tenant", t)
	return nil
}

// SaveTenant flushes every manager. A failing manager does not stop the
// others; its writes stay pending for the next cycle.
func (c *Coordinator) SaveTenant(ctx context.Context, t storage.TenantID) error {
	el := errors.NewErrorList()

	for _, r := range c.registered() {
		if err := r.manager.SaveState(ctx, t); err != nil {
			slog.ErrorContext(ctx, "saving state", "tenant", t, "manager", r.name, "error", err)
			c.metrics.SaveFailed(r.name)
			el.Add(fmt.Errorf("saving %s: %w", r.name, err))
		}
		if b, ok := r.manager.(backlog); ok {
			dirty, deleted := b.Pending(t)
			c.metrics.SetPending(r.name, dirty, deleted)
		}
	}

	return el.Err()
}

// StopTenant saves the tenant one last time and stops ticking it. If the save
// fails the tenant stays active so the next save cycle retries.
func (c *Coordinator) StopTenant(ctx context.Context, t storage.TenantID) error {
	if err := c.SaveTenant(ctx, t); err != nil {
		return fmt.Errorf("stopping tenant %s: %w", t, err)
	}

	c.mu.Lock()
	delete(c.active, t)
	n := len(c.active)
	c.mu.Unlock()

	c.metrics.SetActiveTenants(n)
	slog.InfoContext(ctx, "tenant stopped", "tenant", t)
	return nil
}

// SaveAll saves every active tenant.
func (c *Coordinator) SaveAll(ctx context.Context) error {
	el := errors.NewErrorList()
	for _, t := range c.ActiveTenants() {
		el.Add(c.SaveTenant(ctx, t))
	}
	return el.Err()
}

// Start saves all active tenants every save interval, and once more when ctx
// is cancelled after the writers given to WithFinalSaveAfter have stopped.
func (c *Coordinator) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.awaitWriters(ctx)
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
			defer cancel()
			if err := c.SaveAll(shutdownCtx); err != nil {
				return fmt.Errorf("final save: %w", err)
			}
			return nil
		case <-ticker.C:
			if err := c.SaveAll(ctx); err != nil {
				slog.WarnContext(ctx, "periodic save finished with errors", "error", err)
			}
		}
	}
}

func (c *Coordinator) awaitWriters(ctx context.Context) {
	timeout := time.NewTimer(c.shutdownTimeout)
	defer timeout.Stop()

	for _, done := range c.waitFor {
		select {
		case <-done:
		case <-timeout.C:
			slog.WarnContext(ctx, "writers still running, saving anyway", "waited", c.shutdownTimeout)
			return
		}
	}
}
