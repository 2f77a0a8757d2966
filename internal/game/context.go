package game

import (
	"context"

	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Clock reports the current game time of a tenant, in game seconds.
type Clock interface {
	Now(t storage.TenantID) float64
}

// Timers is the slice of the timer registry exposed to sibling managers.
type Timers interface {
	AddTimer(ctx context.Context, t storage.TenantID, kind string, duration float64, payload storage.ExtensionState) (storage.Identifier, error)
	CancelTimer(ctx context.Context, t storage.TenantID, id storage.Identifier) error
}

// Statuses is the slice of the status effect engine exposed to sibling managers.
type Statuses interface {
	AddStatus(ctx context.Context, t storage.TenantID, targetID storage.Identifier, targetType TargetType, kind string, duration *float64, sourceID storage.Identifier) (storage.Identifier, error)
	RemoveStatus(ctx context.Context, t storage.TenantID, id storage.Identifier) error
}

// Market is the slice of the market ledger exposed to sibling managers.
type Market interface {
	Stock(t storage.TenantID, location storage.Identifier) (map[string]float64, bool)
	AddItems(ctx context.Context, t storage.TenantID, location storage.Identifier, items map[string]float64) bool
	RemoveItems(ctx context.Context, t storage.TenantID, location storage.Identifier, items map[string]float64) bool
}

// Parties is the slice of the party coordinator exposed to sibling managers.
type Parties interface {
	PartyForMember(t storage.TenantID, characterID storage.Identifier) (storage.Identifier, bool)
}

// Siblings names the managers a TickContext hands out. Any field may be nil
// when the host does not run that manager.
type Siblings struct {
	Clock    Clock
	Timers   Timers
	Statuses Statuses
	Market   Market
	Parties  Parties
}

// TickContext gives tick processors and timer/status hooks access to their
// sibling managers. It is built once at startup and never mutated, so
// managers can be constructed in any order and wired together afterwards.
type TickContext struct {
	siblings Siblings
}

// NewTickContext builds an immutable context over the given managers.
func NewTickContext(s Siblings) *TickContext {
	return &TickContext{siblings: s}
}

func (tc *TickContext) Clock() Clock {
	if tc == nil {
		return nil
	}
	return tc.siblings.Clock
}

func (tc *TickContext) Timers() Timers {
	if tc == nil {
		return nil
	}
	return tc.siblings.Timers
}

func (tc *TickContext) Statuses() Statuses {
	if tc == nil {
		return nil
	}
	return tc.siblings.Statuses
}

func (tc *TickContext) Market() Market {
	if tc == nil {
		return nil
	}
	return tc.siblings.Market
}

func (tc *TickContext) Parties() Parties {
	if tc == nil {
		return nil
	}
	return tc.siblings.Parties
}

// Seconds returns a pointer to d, for optional durations. A nil duration
// means permanent.
func Seconds(d float64) *float64 {
	return &d
}
