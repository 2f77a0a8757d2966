package timers

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/metrics"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Handler runs when a timer of its kind fires. The timer passed in is a copy.
type Handler func(ctx context.Context, t storage.TenantID, timer Timer, tc *game.TickContext) error

// Registry owns every tenant's timers.
type Registry struct {
	clock   game.Clock
	timers  *storage.Collection[*Timer]
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
}

type RegistryOpt func(*Registry)

func WithMetrics(m *metrics.Metrics) RegistryOpt {
	return func(r *Registry) {
		r.metrics = m
	}
}

func NewRegistry(db *sql.DB, clock game.Clock, opts ...RegistryOpt) *Registry {
	r := &Registry{
		clock:    clock,
		timers:   storage.NewCollection(db, timerTable()),
		handlers: map[string]Handler{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterHandler sets the handler for a timer kind, replacing any previous one.
func (r *Registry) RegisterHandler(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Registry) handler(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// AddTimer schedules a timer to fire duration game seconds from now.
func (r *Registry) AddTimer(_ context.Context, t storage.TenantID, kind string, duration float64, payload storage.ExtensionState) (storage.Identifier, error) {
	if duration <= 0 {
		return "", fmt.Errorf("timer %q duration %v: %w", kind, duration, game.ErrInvalidDuration)
	}

	id := storage.NewIdentifier()
	r.timers.Put(t, id, &Timer{
		ID:      id,
		Tenant:  t,
		Kind:    kind,
		FiresAt: r.clock.Now(t) + duration,
		Payload: payload.Clone(),
		Active:  true,
	})
	return id, nil
}

// GetTimer returns a copy of the timer.
func (r *Registry) GetTimer(t storage.TenantID, id storage.Identifier) (Timer, bool) {
	var out Timer
	ok := r.timers.View(t, id, func(tm *Timer) {
		out = tm.clone()
	})
	return out, ok
}

// CancelTimer removes a timer without firing it.
func (r *Registry) CancelTimer(_ context.Context, t storage.TenantID, id storage.Identifier) error {
	if _, ok := r.timers.Get(t, id); !ok {
		return fmt.Errorf("timer %s: %w", id, game.ErrTimerNotFound)
	}
	r.timers.MarkDeleted(t, id)
	return nil
}

// TimersFor returns copies of the tenant's timers ordered by fire time.
func (r *Registry) TimersFor(t storage.TenantID) []Timer {
	var out []Timer
	r.timers.Each(t, func(_ storage.Identifier, tm *Timer) {
		out = append(out, tm.clone())
	})
	sortByFireTime(out)
	return out
}

// ProcessTick fires every active timer that is due, earliest first. Each timer
// is deactivated before its handler runs and removed afterwards whatever the
// outcome, so a timer never fires twice. Inactive leftovers from an
// interrupted tick are removed without firing.
func (r *Registry) ProcessTick(ctx context.Context, t storage.TenantID, _ float64, tc *game.TickContext) error {
	now := r.clock.Now(t)

	var (
		due   []Timer
		stale []storage.Identifier
	)
	r.timers.Each(t, func(id storage.Identifier, tm *Timer) {
		switch {
		case !tm.Active:
			stale = append(stale, id)
		case tm.FiresAt <= now:
			due = append(due, tm.clone())
		}
	})
	sortByFireTime(due)

	for _, id := range stale {
		r.timers.MarkDeleted(t, id)
	}

	for _, tm := range due {
		still := r.timers.Update(t, tm.ID, func(live *Timer) bool {
			if !live.Active {
				return false
			}
			live.Active = false
			return true
		})
		if !still {
			// Cancelled by an earlier handler in this tick.
			continue
		}

		r.fire(ctx, t, tm, tc)
		r.timers.MarkDeleted(t, tm.ID)
	}

	return nil
}

func (r *Registry) fire(ctx context.Context, t storage.TenantID, tm Timer, tc *game.TickContext) {
	h, ok := r.handler(tm.Kind)
	if !ok {
		slog.WarnContext(ctx, "removing timer with unknown kind", "tenant", t, "timerId", tm.ID, "kind", tm.Kind)
		return
	}

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "timer handler panicked", "tenant", t, "timerId", tm.ID, "kind", tm.Kind, "panic", p)
		}
	}()

	r.metrics.TimerFired()
	if err := h(ctx, t, tm, tc); err != nil {
		slog.ErrorContext(ctx, "timer handler failed", "tenant", t, "timerId", tm.ID, "kind", tm.Kind, "error", err)
	}
}

func (r *Registry) LoadState(ctx context.Context, t storage.TenantID) error {
	return r.timers.LoadState(ctx, t)
}

func (r *Registry) SaveState(ctx context.Context, t storage.TenantID) error {
	return r.timers.SaveState(ctx, t)
}

// RebuildRuntimeCaches is a no-op; timers are scanned directly each tick.
func (r *Registry) RebuildRuntimeCaches(context.Context, storage.TenantID) error {
	return nil
}

func (r *Registry) Pending(t storage.TenantID) (int, int) {
	return r.timers.Pending(t)
}

func sortByFireTime(ts []Timer) {
	slices.SortStableFunc(ts, func(a, b Timer) int {
		if c := cmp.Compare(a.FiresAt, b.FiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
