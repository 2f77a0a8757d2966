package status

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pixil98/go-testutil"

	"github.com/pixil98/go-guildrpg/internal/clock"
	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/storage"
	"github.com/pixil98/go-guildrpg/internal/storage/sqlite"
)

const tenant storage.TenantID = "guild-1"

func characterResolver(known ...storage.Identifier) Resolver {
	return func(_ context.Context, _ storage.TenantID, id storage.Identifier) (any, bool) {
		for _, k := range known {
			if k == id {
				return string(k), true
			}
		}
		return nil, false
	}
}

func TestEngine_AddStatus(t *testing.T) {
	catalog := NewCatalog(
		Template{Kind: "poison", DefaultDuration: game.Seconds(30), Vars: map[string]any{"stacks": 1}},
		Template{Kind: "blessed"},
	)

	tests := map[string]struct {
		targetType  game.TargetType
		kind        string
		duration    *float64
		expErr      error
		expDuration *float64
	}{
		"explicit duration": {
			targetType:  game.TargetCharacter,
			kind:        "poison",
			duration:    game.Seconds(10),
			expDuration: game.Seconds(10),
		},
		"template default duration": {
			targetType:  game.TargetNpc,
			kind:        "poison",
			expDuration: game.Seconds(30),
		},
		"permanent without default": {
			targetType: game.TargetParty,
			kind:       "blessed",
		},
		"kind without template": {
			targetType: game.TargetLocation,
			kind:       "fog",
		},
		"unknown target type": {
			targetType: game.TargetType(99),
			kind:       "poison",
			expErr:     game.ErrUnknownTargetType,
		},
		"non-positive duration": {
			targetType: game.TargetCharacter,
			kind:       "poison",
			duration:   game.Seconds(0),
			expErr:     game.ErrInvalidDuration,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := NewEngine(nil, clock.NewManager(nil), WithCatalog(catalog))

			id, err := e.AddStatus(context.Background(), tenant, "c1", tt.targetType, tt.kind, tt.duration, "")
			if tt.expErr != nil {
				testutil.AssertEqual(t, "error", errors.Is(err, tt.expErr), true)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			eff, ok := e.GetStatus(tenant, id)
			testutil.AssertEqual(t, "found", ok, true)
			testutil.AssertEqual(t, "permanent", eff.Permanent(), tt.expDuration == nil)
			if tt.expDuration != nil {
				testutil.AssertEqual(t, "duration", *eff.Duration, *tt.expDuration)
			}
		})
	}
}

func TestEngine_AddStatus_TemplateVars(t *testing.T) {
	catalog := NewCatalog(Template{Kind: "poison", Vars: map[string]any{"stacks": 2}})
	e := NewEngine(nil, clock.NewManager(nil), WithCatalog(catalog))

	id, err := e.AddStatus(context.Background(), tenant, "c1", game.TargetCharacter, "poison", nil, "spider")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	eff, _ := e.GetStatus(tenant, id)
	var stacks int
	_, _ = eff.Vars.Get("stacks", &stacks)
	testutil.AssertEqual(t, "stacks", stacks, 2)
	testutil.AssertEqual(t, "source", eff.SourceID, storage.Identifier("spider"))
}

func TestEngine_ProcessTick_Expiry(t *testing.T) {
	tests := map[string]struct {
		duration   *float64
		dt         float64
		expRemoved bool
		expHooks   int
		expLeft    float64
	}{
		"expires exactly at zero": {
			duration:   game.Seconds(5),
			dt:         5,
			expRemoved: true,
			expHooks:   0,
		},
		"expires past zero": {
			duration:   game.Seconds(3),
			dt:         5,
			expRemoved: true,
			expHooks:   0,
		},
		"still alive": {
			duration: game.Seconds(10),
			dt:       4,
			expHooks: 1,
			expLeft:  6,
		},
		"permanent never decays": {
			dt:       100,
			expHooks: 1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := NewEngine(nil, clock.NewManager(nil))
			_ = e.RegisterResolver(game.TargetCharacter, characterResolver("c1"))

			hooks := 0
			e.RegisterPeriodicHook("regen", func(context.Context, storage.TenantID, Effect, any, float64, *game.TickContext) error {
				hooks++
				return nil
			})

			id, err := e.AddStatus(ctx, tenant, "c1", game.TargetCharacter, "regen", tt.duration, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if err := e.ProcessTick(ctx, tenant, tt.dt, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			eff, ok := e.GetStatus(tenant, id)
			testutil.AssertEqual(t, "removed", !ok, tt.expRemoved)
			testutil.AssertEqual(t, "hooks", hooks, tt.expHooks)
			if ok && eff.Duration != nil {
				testutil.AssertEqual(t, "remaining", *eff.Duration, tt.expLeft)
			}
		})
	}
}

func TestEngine_ProcessTick_UnresolvedTargetSkipped(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil, clock.NewManager(nil))
	_ = e.RegisterResolver(game.TargetCharacter, characterResolver("c1"))

	var seen []any
	e.RegisterPeriodicHook("regen", func(_ context.Context, _ storage.TenantID, _ Effect, target any, _ float64, _ *game.TickContext) error {
		seen = append(seen, target)
		return nil
	})

	_, _ = e.AddStatus(ctx, tenant, "c1", game.TargetCharacter, "regen", nil, "")
	_, _ = e.AddStatus(ctx, tenant, "ghost", game.TargetCharacter, "regen", nil, "")
	_, _ = e.AddStatus(ctx, tenant, "p1", game.TargetParty, "regen", nil, "")

	_ = e.ProcessTick(ctx, tenant, 1, nil)

	testutil.AssertEqual(t, "hooks", len(seen), 1)
	testutil.AssertEqual(t, "target", seen[0].(string), "c1")
}

func TestEngine_ProcessTick_PeriodicFlag(t *testing.T) {
	tests := map[string]struct {
		catalog  *Catalog
		expCalls int
	}{
		"periodic template": {
			catalog:  NewCatalog(Template{Kind: "regen", Periodic: true}),
			expCalls: 1,
		},
		"non periodic template": {
			catalog:  NewCatalog(Template{Kind: "regen"}),
			expCalls: 0,
		},
		"no template": {
			catalog:  NewCatalog(),
			expCalls: 1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := NewEngine(nil, clock.NewManager(nil), WithCatalog(tt.catalog))
			_ = e.RegisterResolver(game.TargetCharacter, characterResolver("c1"))

			calls := 0
			e.RegisterPeriodicHook("regen", func(context.Context, storage.TenantID, Effect, any, float64, *game.TickContext) error {
				calls++
				return nil
			})
			if _, err := e.AddStatus(ctx, tenant, "c1", game.TargetCharacter, "regen", nil, ""); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_ = e.ProcessTick(ctx, tenant, 1, nil)

			testutil.AssertEqual(t, "hook calls", calls, tt.expCalls)
		})
	}
}

func TestEngine_ProcessTick_HookFailuresContained(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil, clock.NewManager(nil))
	_ = e.RegisterResolver(game.TargetCharacter, characterResolver("c1"))

	e.RegisterPeriodicHook("bad", func(context.Context, storage.TenantID, Effect, any, float64, *game.TickContext) error {
		panic("boom")
	})
	calls := 0
	e.RegisterPeriodicHook("good", func(ctx context.Context, t storage.TenantID, eff Effect, _ any, _ float64, _ *game.TickContext) error {
		calls++
		return e.SetVar(t, eff.ID, "ticks", calls)
	})

	_, _ = e.AddStatus(ctx, tenant, "c1", game.TargetCharacter, "bad", nil, "")
	good, _ := e.AddStatus(ctx, tenant, "c1", game.TargetCharacter, "good", nil, "")

	if err := e.ProcessTick(ctx, tenant, 1, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "good hook ran", calls, 1)
	eff, _ := e.GetStatus(tenant, good)
	var ticks int
	_, _ = eff.Vars.Get("ticks", &ticks)
	testutil.AssertEqual(t, "ticks var", ticks, 1)
}

func TestEngine_RemoveStatusesFor(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil, clock.NewManager(nil))

	_, _ = e.AddStatus(ctx, tenant, "c1", game.TargetCharacter, "a", nil, "")
	_, _ = e.AddStatus(ctx, tenant, "c1", game.TargetCharacter, "b", nil, "")
	_, _ = e.AddStatus(ctx, tenant, "c1", game.TargetNpc, "c", nil, "")

	n := e.RemoveStatusesFor(ctx, tenant, "c1", game.TargetCharacter)

	testutil.AssertEqual(t, "removed", n, 2)
	testutil.AssertEqual(t, "npc status kept", len(e.StatusesFor(tenant, "c1", game.TargetNpc)), 1)

	err := e.RemoveStatus(ctx, tenant, "missing")
	testutil.AssertEqual(t, "not found", errors.Is(err, game.ErrStatusNotFound), true)
}

func TestEngine_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewManager(db)
	clk.Set(tenant, 12)
	e := NewEngine(db, clk)

	timed, _ := e.AddStatus(ctx, tenant, "loc1", game.TargetLocation, "storm", game.Seconds(60), "npc-7")
	permanent, _ := e.AddStatus(ctx, tenant, "p1", game.TargetParty, "blessed", nil, "")
	if err := e.SetVar(tenant, permanent, "power", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.SaveState(ctx, tenant); err != nil {
		t.Fatalf("saving: %v", err)
	}

	fresh := NewEngine(db, clk)
	if err := fresh.LoadState(ctx, tenant); err != nil {
		t.Fatalf("loading: %v", err)
	}

	s1, ok := fresh.GetStatus(tenant, timed)
	testutil.AssertEqual(t, "timed found", ok, true)
	testutil.AssertEqual(t, "timed target type", s1.TargetType, game.TargetLocation)
	testutil.AssertEqual(t, "timed duration", *s1.Duration, 60.0)
	testutil.AssertEqual(t, "timed applied at", s1.AppliedAt, 12.0)
	testutil.AssertEqual(t, "timed source", s1.SourceID, storage.Identifier("npc-7"))

	s2, ok := fresh.GetStatus(tenant, permanent)
	testutil.AssertEqual(t, "permanent found", ok, true)
	testutil.AssertEqual(t, "permanent", s2.Permanent(), true)
	testutil.AssertEqual(t, "no source", s2.SourceID, storage.Identifier(""))
	var power int
	_, _ = s2.Vars.Get("power", &power)
	testutil.AssertEqual(t, "power", power, 3)
}
