package status

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/metrics"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Resolver looks up the live entity a status is attached to. It returns
// false when the target no longer exists.
type Resolver func(ctx context.Context, t storage.TenantID, targetID storage.Identifier) (any, bool)

// PeriodicHook runs every tick for each live effect of its kind, unless the
// kind's catalog template is not periodic. effect is a copy; use
// Engine.SetVar to change state variables.
type PeriodicHook func(ctx context.Context, t storage.TenantID, effect Effect, target any, dt float64, tc *game.TickContext) error

// Engine owns every tenant's status effects.
type Engine struct {
	clock   game.Clock
	catalog *Catalog
	effects *storage.Collection[*Effect]
	metrics *metrics.Metrics

	mu        sync.RWMutex
	hooks     map[string]PeriodicHook
	resolvers map[game.TargetType]Resolver
}

type EngineOpt func(*Engine)

func WithCatalog(c *Catalog) EngineOpt {
	return func(e *Engine) {
		e.catalog = c
	}
}

func WithMetrics(m *metrics.Metrics) EngineOpt {
	return func(e *Engine) {
		e.metrics = m
	}
}

func NewEngine(db *sql.DB, clock game.Clock, opts ...EngineOpt) *Engine {
	e := &Engine{
		clock:     clock,
		effects:   storage.NewCollection(db, effectTable()),
		hooks:     map[string]PeriodicHook{},
		resolvers: map[game.TargetType]Resolver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterPeriodicHook sets the per-tick hook for a status kind.
func (e *Engine) RegisterPeriodicHook(kind string, h PeriodicHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[kind] = h
}

// RegisterResolver sets how targets of the given type are looked up.
func (e *Engine) RegisterResolver(tt game.TargetType, r Resolver) error {
	if !tt.Valid() {
		return fmt.Errorf("registering resolver: %w", game.ErrUnknownTargetType)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolvers[tt] = r
	return nil
}

func (e *Engine) hook(kind string) (PeriodicHook, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.hooks[kind]
	return h, ok
}

func (e *Engine) resolver(tt game.TargetType) (Resolver, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.resolvers[tt]
	return r, ok
}

// AddStatus applies a status to a target. A nil duration falls back to the
// kind's template default and is otherwise permanent. An empty sourceID
// means the status has no source.
func (e *Engine) AddStatus(_ context.Context, t storage.TenantID, targetID storage.Identifier, targetType game.TargetType, kind string, duration *float64, sourceID storage.Identifier) (storage.Identifier, error) {
	if !targetType.Valid() {
		return "", fmt.Errorf("adding status %q: %w", kind, game.ErrUnknownTargetType)
	}

	tmpl, hasTemplate := e.catalog.Template(kind)
	if duration == nil && hasTemplate && tmpl.DefaultDuration != nil {
		duration = tmpl.DefaultDuration
	}
	if duration != nil && *duration <= 0 {
		return "", fmt.Errorf("adding status %q: %w", kind, game.ErrInvalidDuration)
	}

	var vars storage.ExtensionState
	if hasTemplate && len(tmpl.Vars) > 0 {
		v, err := storage.FromMap(tmpl.Vars)
		if err != nil {
			return "", fmt.Errorf("adding status %q: %w", kind, err)
		}
		vars = v
	}

	eff := &Effect{
		ID:         storage.NewIdentifier(),
		Tenant:     t,
		Kind:       kind,
		TargetID:   targetID,
		TargetType: targetType,
		AppliedAt:  e.clock.Now(t),
		SourceID:   sourceID,
		Vars:       vars,
	}
	if duration != nil {
		eff.Duration = game.Seconds(*duration)
	}

	e.effects.Put(t, eff.ID, eff)
	return eff.ID, nil
}

// RemoveStatus deletes a status without running any hook.
func (e *Engine) RemoveStatus(_ context.Context, t storage.TenantID, id storage.Identifier) error {
	if _, ok := e.effects.Get(t, id); !ok {
		return fmt.Errorf("status %s: %w", id, game.ErrStatusNotFound)
	}
	e.effects.MarkDeleted(t, id)
	return nil
}

// GetStatus returns a copy of the status.
func (e *Engine) GetStatus(t storage.TenantID, id storage.Identifier) (Effect, bool) {
	var out Effect
	ok := e.effects.View(t, id, func(eff *Effect) {
		out = eff.clone()
	})
	return out, ok
}

// StatusesFor returns copies of every status on a target.
func (e *Engine) StatusesFor(t storage.TenantID, targetID storage.Identifier, targetType game.TargetType) []Effect {
	var out []Effect
	e.effects.Each(t, func(_ storage.Identifier, eff *Effect) {
		if eff.TargetID == targetID && eff.TargetType == targetType {
			out = append(out, eff.clone())
		}
	})
	return out
}

// RemoveStatusesFor removes every status on a target, typically after the
// target was deleted. Returns the number removed.
func (e *Engine) RemoveStatusesFor(ctx context.Context, t storage.TenantID, targetID storage.Identifier, targetType game.TargetType) int {
	n := 0
	for _, eff := range e.StatusesFor(t, targetID, targetType) {
		if e.RemoveStatus(ctx, t, eff.ID) == nil {
			n++
		}
	}
	return n
}

// SetVar stores a state variable on a status and marks it dirty.
func (e *Engine) SetVar(t storage.TenantID, id storage.Identifier, key string, value any) error {
	var setErr error
	found := e.effects.Update(t, id, func(eff *Effect) bool {
		setErr = eff.Vars.Set(key, value)
		return setErr == nil
	})
	if !found {
		return fmt.Errorf("status %s: %w", id, game.ErrStatusNotFound)
	}
	return setErr
}

// ProcessTick decays timed statuses by dt and runs periodic hooks. A status
// that expires this tick is removed without its hook running. Hooks run only
// when the target resolves; unresolved targets are skipped. Removals happen
// after the scan.
func (e *Engine) ProcessTick(ctx context.Context, t storage.TenantID, dt float64, tc *game.TickContext) error {
	var ids []storage.Identifier
	e.effects.Each(t, func(id storage.Identifier, _ *Effect) {
		ids = append(ids, id)
	})

	var expired []storage.Identifier
	for _, id := range ids {
		var (
			snap    Effect
			expires bool
		)
		found := e.effects.Update(t, id, func(eff *Effect) bool {
			if eff.Duration != nil && dt > 0 {
				*eff.Duration -= dt
				expires = *eff.Duration <= 0
				snap = eff.clone()
				return true
			}
			snap = eff.clone()
			return false
		})
		if !found {
			// Removed by a hook earlier in this tick.
			continue
		}
		if expires {
			expired = append(expired, id)
			continue
		}

		e.runHook(ctx, t, snap, dt, tc)
	}

	for _, id := range expired {
		if err := e.RemoveStatus(ctx, t, id); err != nil {
			continue
		}
		e.metrics.StatusExpired()
	}
	return nil
}

// runHook calls the kind's hook for a live effect. A catalog template that
// is not periodic disables the hook; kinds without a template always run it.
func (e *Engine) runHook(ctx context.Context, t storage.TenantID, eff Effect, dt float64, tc *game.TickContext) {
	if tmpl, ok := e.catalog.Template(eff.Kind); ok && !tmpl.Periodic {
		return
	}
	h, ok := e.hook(eff.Kind)
	if !ok {
		return
	}
	resolve, ok := e.resolver(eff.TargetType)
	if !ok {
		return
	}
	target, ok := resolve(ctx, t, eff.TargetID)
	if !ok {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "status hook panicked", "tenant", t, "statusId", eff.ID, "kind", eff.Kind, "panic", p)
		}
	}()
	if err := h(ctx, t, eff, target, dt, tc); err != nil {
		slog.ErrorContext(ctx, "status hook failed", "tenant", t, "statusId", eff.ID, "kind", eff.Kind, "error", err)
	}
}

func (e *Engine) LoadState(ctx context.Context, t storage.TenantID) error {
	return e.effects.LoadState(ctx, t)
}

func (e *Engine) SaveState(ctx context.Context, t storage.TenantID) error {
	return e.effects.SaveState(ctx, t)
}

// RebuildRuntimeCaches is a no-op; statuses are scanned directly each tick.
func (e *Engine) RebuildRuntimeCaches(context.Context, storage.TenantID) error {
	return nil
}

func (e *Engine) Pending(t storage.TenantID) (int, int) {
	return e.effects.Pending(t)
}
