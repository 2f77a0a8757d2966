package party

import (
	"context"

	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

// MemberTurn is a character's turn state as seen by the character manager.
type MemberTurn struct {
	Name       string
	LocationID storage.Identifier
	Ready      bool
	Actions    []Action
}

// Roster exposes the per-character turn state the coordinator gates on.
type Roster interface {
	MemberTurn(ctx context.Context, t storage.TenantID, characterID storage.Identifier) (MemberTurn, bool)
	// ResetTurn clears the character's ready flag and action buffer.
	ResetTurn(ctx context.Context, t storage.TenantID, characterID storage.Identifier) error
}

// ActionResult is the outcome of one processed action, in report order.
type ActionResult struct {
	CharacterID storage.Identifier
	Summary     string
}

// ActionProcessor resolves a party's batched actions.
type ActionProcessor interface {
	ProcessActions(ctx context.Context, t storage.TenantID, party Party, actions []Action, tc *game.TickContext) ([]ActionResult, error)
}

// Reporter delivers a rendered turn report.
type Reporter interface {
	PublishTurnReport(ctx context.Context, t storage.TenantID, partyID storage.Identifier, report string) error
}
