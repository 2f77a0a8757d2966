package party

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pixil98/go-guildrpg/internal/display"
	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

// TurnOutcome describes what a turn check did.
type TurnOutcome string

const (
	// TurnWaiting means not every present member is ready yet.
	TurnWaiting   TurnOutcome = "waiting"
	TurnProcessed TurnOutcome = "processed"
	// TurnFailed means processing failed and the party is now in error.
	TurnFailed TurnOutcome = "failed"
)

// CheckAndProcessTurn runs the party's turn once every member present at
// location is ready. Members elsewhere neither block nor join the turn. The
// batch holds each ready member's actions in submission order, members in
// party order. A failure leaves the party in the error state until
// ResetTurnStatus.
func (c *Coordinator) CheckAndProcessTurn(ctx context.Context, t storage.TenantID, partyID, location storage.Identifier, tc *game.TickContext) (TurnOutcome, error) {
	snap, ok := c.GetParty(t, partyID)
	if !ok {
		return "", fmt.Errorf("party %s: %w", partyID, game.ErrPartyNotFound)
	}
	switch snap.TurnStatus {
	case TurnError:
		return "", fmt.Errorf("party %s: %w", partyID, game.ErrPartyErrored)
	case TurnProcessing:
		return "", fmt.Errorf("party %s: %w", partyID, game.ErrTurnInProgress)
	}
	if c.roster == nil || c.processor == nil {
		return TurnWaiting, nil
	}

	var (
		present []storage.Identifier
		names   = map[storage.Identifier]string{}
		batch   []Action
	)
	for _, id := range snap.MemberIDs {
		mt, ok := c.roster.MemberTurn(ctx, t, id)
		if !ok || mt.LocationID != location {
			continue
		}
		if !mt.Ready {
			return TurnWaiting, nil
		}
		present = append(present, id)
		names[id] = mt.Name
		for _, a := range mt.Actions {
			a.CharacterID = id
			batch = append(batch, a)
		}
	}
	if len(present) == 0 {
		return TurnWaiting, nil
	}

	var conflict TurnStatus
	found := c.parties.Update(t, partyID, func(p *Party) bool {
		if p.TurnStatus != TurnCollecting {
			conflict = p.TurnStatus
			return false
		}
		p.TurnStatus = TurnProcessing
		p.ActionQueue = cloneActions(batch)
		return true
	})
	switch {
	case !found:
		return "", fmt.Errorf("party %s: %w", partyID, game.ErrPartyNotFound)
	case conflict == TurnProcessing:
		return "", fmt.Errorf("party %s: %w", partyID, game.ErrTurnInProgress)
	case conflict == TurnError:
		return "", fmt.Errorf("party %s: %w", partyID, game.ErrPartyErrored)
	}

	report, err := c.runTurn(ctx, t, snap, present, names, batch, location, tc)
	if err != nil {
		c.parties.Update(t, partyID, func(p *Party) bool {
			p.TurnStatus = TurnError
			return true
		})
		slog.ErrorContext(ctx, "party turn failed", "tenant", t, "partyId", partyID, "error", err)
		c.metrics.TurnProcessed(string(TurnFailed))
		return TurnFailed, nil
	}

	var counterErr error
	c.parties.Update(t, partyID, func(p *Party) bool {
		p.TurnStatus = TurnCollecting
		p.ActionQueue = nil
		counterErr = p.Vars.Set(turnVar, p.Turn()+1)
		return true
	})
	if counterErr != nil {
		slog.WarnContext(ctx, "advancing turn counter", "tenant", t, "partyId", partyID, "error", counterErr)
	}
	c.metrics.TurnProcessed(string(TurnProcessed))

	if c.reporter != nil {
		if err := c.reporter.PublishTurnReport(ctx, t, partyID, report); err != nil {
			slog.WarnContext(ctx, "publishing turn report", "tenant", t, "partyId", partyID, "error", err)
		}
	}
	return TurnProcessed, nil
}

func (c *Coordinator) runTurn(ctx context.Context, t storage.TenantID, snap Party, present []storage.Identifier, names map[storage.Identifier]string, batch []Action, location storage.Identifier, tc *game.TickContext) (report string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	results, err := c.processor.ProcessActions(ctx, t, snap, cloneActions(batch), tc)
	if err != nil {
		return "", fmt.Errorf("processing actions: %w", err)
	}

	var errs []error
	for _, id := range present {
		if err := c.roster.ResetTurn(ctx, t, id); err != nil {
			errs = append(errs, fmt.Errorf("resetting %s: %w", id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}

	r := display.TurnReport{
		Party:    snap.DisplayName(c.reportLang),
		Location: string(location),
		Turn:     snap.Turn() + 1,
	}
	for _, res := range results {
		actor := names[res.CharacterID]
		if actor == "" {
			actor = string(res.CharacterID)
		}
		r.Lines = append(r.Lines, display.ReportLine{Actor: actor, Text: res.Summary})
	}

	report, err = display.RenderTurnReport(c.reportTemplate, r, c.reportWidth)
	if err != nil {
		return "", fmt.Errorf("rendering turn report: %w", err)
	}
	return report, nil
}

// ProcessTick checks every collecting party at its own location.
func (c *Coordinator) ProcessTick(ctx context.Context, t storage.TenantID, _ float64, tc *game.TickContext) error {
	for _, p := range c.Parties(t) {
		if p.TurnStatus != TurnCollecting {
			continue
		}
		_, err := c.CheckAndProcessTurn(ctx, t, p.ID, p.LocationID, tc)
		if err != nil && !errors.Is(err, game.ErrPartyNotFound) {
			slog.WarnContext(ctx, "checking party turn", "tenant", t, "partyId", p.ID, "error", err)
		}
	}
	return nil
}
