package party

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pixil98/go-testutil"

	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/storage"
	"github.com/pixil98/go-guildrpg/internal/storage/sqlite"
)

type fakeRoster struct {
	turns    map[storage.Identifier]MemberTurn
	resets   []storage.Identifier
	resetErr error
}

func (r *fakeRoster) MemberTurn(_ context.Context, _ storage.TenantID, id storage.Identifier) (MemberTurn, bool) {
	mt, ok := r.turns[id]
	return mt, ok
}

func (r *fakeRoster) ResetTurn(_ context.Context, _ storage.TenantID, id storage.Identifier) error {
	if r.resetErr != nil {
		return r.resetErr
	}
	r.resets = append(r.resets, id)
	mt := r.turns[id]
	mt.Ready = false
	mt.Actions = nil
	r.turns[id] = mt
	return nil
}

type fakeProcessor struct {
	got   []Action
	calls int
	err   error
	panic bool
}

func (p *fakeProcessor) ProcessActions(_ context.Context, _ storage.TenantID, _ Party, actions []Action, _ *game.TickContext) ([]ActionResult, error) {
	p.calls++
	p.got = actions
	if p.panic {
		panic("processor exploded")
	}
	if p.err != nil {
		return nil, p.err
	}
	var out []ActionResult
	for _, a := range actions {
		out = append(out, ActionResult{CharacterID: a.CharacterID, Summary: a.Kind})
	}
	return out, nil
}

type fakeReporter struct {
	reports []string
	err     error
}

func (r *fakeReporter) PublishTurnReport(_ context.Context, _ storage.TenantID, _ storage.Identifier, report string) error {
	r.reports = append(r.reports, report)
	return r.err
}

func readyAt(name string, loc storage.Identifier, kinds ...string) MemberTurn {
	mt := MemberTurn{Name: name, LocationID: loc, Ready: true}
	for _, k := range kinds {
		mt.Actions = append(mt.Actions, Action{Kind: k})
	}
	return mt
}

func TestCoordinator_CheckAndProcessTurn(t *testing.T) {
	tests := map[string]struct {
		turns      map[storage.Identifier]MemberTurn
		procErr    error
		procPanic  bool
		resetErr   error
		expOutcome TurnOutcome
		expStatus  TurnStatus
		expKinds   []string
		expResets  int
	}{
		"all present ready": {
			turns: map[storage.Identifier]MemberTurn{
				"c1": readyAt("Ada", "inn", "search", "rest"),
				"c2": readyAt("Bram", "inn", "guard"),
			},
			expOutcome: TurnProcessed,
			expStatus:  TurnCollecting,
			expKinds:   []string{"search", "rest", "guard"},
			expResets:  2,
		},
		"present member not ready": {
			turns: map[storage.Identifier]MemberTurn{
				"c1": readyAt("Ada", "inn", "search"),
				"c2": {Name: "Bram", LocationID: "inn"},
			},
			expOutcome: TurnWaiting,
			expStatus:  TurnCollecting,
		},
		"absent member does not block": {
			turns: map[storage.Identifier]MemberTurn{
				"c1": readyAt("Ada", "inn", "search"),
				"c2": {Name: "Bram", LocationID: "forest"},
			},
			expOutcome: TurnProcessed,
			expStatus:  TurnCollecting,
			expKinds:   []string{"search"},
			expResets:  1,
		},
		"nobody present": {
			turns: map[storage.Identifier]MemberTurn{
				"c1": readyAt("Ada", "forest", "search"),
			},
			expOutcome: TurnWaiting,
			expStatus:  TurnCollecting,
		},
		"processor error": {
			turns: map[storage.Identifier]MemberTurn{
				"c1": readyAt("Ada", "inn", "search"),
			},
			procErr:    errors.New("rules engine down"),
			expOutcome: TurnFailed,
			expStatus:  TurnError,
			expKinds:   []string{"search"},
		},
		"processor panic": {
			turns: map[storage.Identifier]MemberTurn{
				"c1": readyAt("Ada", "inn", "search"),
			},
			procPanic:  true,
			expOutcome: TurnFailed,
			expStatus:  TurnError,
			expKinds:   []string{"search"},
		},
		"reset error": {
			turns: map[storage.Identifier]MemberTurn{
				"c1": readyAt("Ada", "inn", "search"),
			},
			resetErr:   errors.New("character gone"),
			expOutcome: TurnFailed,
			expStatus:  TurnError,
			expKinds:   []string{"search"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			roster := &fakeRoster{turns: tt.turns, resetErr: tt.resetErr}
			proc := &fakeProcessor{err: tt.procErr, panic: tt.procPanic}
			rep := &fakeReporter{}
			c := NewCoordinator(nil, WithTurns(roster, proc), WithReporter(rep))
			p, _ := c.CreateParty(ctx, tenant, map[string]string{"en": "Wardens"}, "c1", []storage.Identifier{"c2"}, "inn")

			outcome, err := c.CheckAndProcessTurn(ctx, tenant, p.ID, "inn", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			testutil.AssertEqual(t, "outcome", outcome, tt.expOutcome)
			got, _ := c.GetParty(tenant, p.ID)
			testutil.AssertEqual(t, "status", got.TurnStatus, tt.expStatus)
			testutil.AssertEqual(t, "resets", len(roster.resets), tt.expResets)

			var kinds []string
			for _, a := range proc.got {
				kinds = append(kinds, a.Kind)
			}
			testutil.AssertEqual(t, "batch", strings.Join(kinds, ","), strings.Join(tt.expKinds, ","))

			if tt.expOutcome == TurnProcessed {
				testutil.AssertEqual(t, "reports", len(rep.reports), 1)
				testutil.AssertEqual(t, "turn", got.Turn(), 1)
				testutil.AssertEqual(t, "queue cleared", len(got.ActionQueue), 0)
				testutil.AssertEqual(t, "report heading", strings.HasPrefix(rep.reports[0], "Wardens - turn 1 at inn"), true)
			} else {
				testutil.AssertEqual(t, "reports", len(rep.reports), 0)
			}
		})
	}
}

func TestCoordinator_ErroredPartyNotRetried(t *testing.T) {
	ctx := context.Background()
	roster := &fakeRoster{turns: map[storage.Identifier]MemberTurn{"c1": readyAt("Ada", "inn", "search")}}
	proc := &fakeProcessor{err: errors.New("boom")}
	c := NewCoordinator(nil, WithTurns(roster, proc))
	p, _ := c.CreateParty(ctx, tenant, nil, "c1", nil, "inn")

	outcome, _ := c.CheckAndProcessTurn(ctx, tenant, p.ID, "inn", nil)
	testutil.AssertEqual(t, "first outcome", outcome, TurnFailed)

	_ = c.ProcessTick(ctx, tenant, 1, nil)
	_, err := c.CheckAndProcessTurn(ctx, tenant, p.ID, "inn", nil)
	testutil.AssertEqual(t, "errored", errors.Is(err, game.ErrPartyErrored), true)
	testutil.AssertEqual(t, "processor calls", proc.calls, 1)

	proc.err = nil
	if err := c.ResetTurnStatus(tenant, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.ProcessTick(ctx, tenant, 1, nil)
	testutil.AssertEqual(t, "processor calls after reset", proc.calls, 2)
}

func TestCoordinator_ReportFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	roster := &fakeRoster{turns: map[storage.Identifier]MemberTurn{"c1": readyAt("Ada", "inn", "search")}}
	rep := &fakeReporter{err: errors.New("nats down")}
	c := NewCoordinator(nil, WithTurns(roster, &fakeProcessor{}), WithReporter(rep))
	p, _ := c.CreateParty(ctx, tenant, nil, "c1", nil, "inn")

	outcome, err := c.CheckAndProcessTurn(ctx, tenant, p.ID, "inn", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "outcome", outcome, TurnProcessed)
	got, _ := c.GetParty(tenant, p.ID)
	testutil.AssertEqual(t, "status", got.TurnStatus, TurnCollecting)
}

func TestCoordinator_BadReportTemplateErrorsParty(t *testing.T) {
	ctx := context.Background()
	roster := &fakeRoster{turns: map[storage.Identifier]MemberTurn{"c1": readyAt("Ada", "inn", "search")}}
	c := NewCoordinator(nil, WithTurns(roster, &fakeProcessor{}), WithReportFormat("{{ .Nope }}", 80, "en"))
	p, _ := c.CreateParty(ctx, tenant, nil, "c1", nil, "inn")

	outcome, _ := c.CheckAndProcessTurn(ctx, tenant, p.ID, "inn", nil)
	testutil.AssertEqual(t, "outcome", outcome, TurnFailed)
	got, _ := c.GetParty(tenant, p.ID)
	testutil.AssertEqual(t, "status", got.TurnStatus, TurnError)
}

func TestCoordinator_CheckAndProcessTurn_NotFound(t *testing.T) {
	c := NewCoordinator(nil)
	_, err := c.CheckAndProcessTurn(context.Background(), tenant, "missing", "inn", nil)
	testutil.AssertEqual(t, "not found", errors.Is(err, game.ErrPartyNotFound), true)
}

// savingProcessor persists the coordinator while the turn is running, the
// way the periodic save worker can.
type savingProcessor struct {
	save  func() error
	calls int
}

func (p *savingProcessor) ProcessActions(_ context.Context, _ storage.TenantID, _ Party, _ []Action, _ *game.TickContext) ([]ActionResult, error) {
	p.calls++
	if p.save != nil {
		if err := p.save(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func TestCoordinator_TurnInterruptedBySaveAndRestart(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	roster := &fakeRoster{turns: map[storage.Identifier]MemberTurn{"c1": readyAt("Ada", "inn", "search")}}
	proc := &savingProcessor{}
	c := NewCoordinator(db, WithTurns(roster, proc))
	p, _ := c.CreateParty(ctx, tenant, nil, "c1", nil, "inn")
	proc.save = func() error { return c.SaveState(ctx, tenant) }

	outcome, err := c.CheckAndProcessTurn(ctx, tenant, p.ID, "inn", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "outcome", outcome, TurnProcessed)

	// Restart from the mid-turn snapshot, before the final status was saved.
	roster.turns["c1"] = readyAt("Ada", "inn", "search")
	restarted := &savingProcessor{}
	fresh := NewCoordinator(db, WithTurns(roster, restarted))
	if err := fresh.LoadState(ctx, tenant); err != nil {
		t.Fatalf("loading: %v", err)
	}
	if err := fresh.RebuildRuntimeCaches(ctx, tenant); err != nil {
		t.Fatalf("rebuilding: %v", err)
	}

	got, _ := fresh.GetParty(tenant, p.ID)
	testutil.AssertEqual(t, "status after restart", got.TurnStatus, TurnError)
	dirty, _ := fresh.Pending(tenant)
	testutil.AssertEqual(t, "error status pending save", dirty, 1)
	_, err = fresh.CheckAndProcessTurn(ctx, tenant, p.ID, "inn", nil)
	testutil.AssertEqual(t, "errored", errors.Is(err, game.ErrPartyErrored), true)

	if err := fresh.ResetTurnStatus(tenant, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range 3 {
		_ = fresh.ProcessTick(ctx, tenant, 1, nil)
	}
	testutil.AssertEqual(t, "processed after reset", restarted.calls, 1)
}
