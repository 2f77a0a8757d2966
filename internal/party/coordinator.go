package party

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/pixil98/go-guildrpg/internal/display"
	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/metrics"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Coordinator owns every tenant's parties and the member->party index.
//
// Lock order is c.mu before the party slot lock. Callbacks passed to the
// slot never take c.mu.
type Coordinator struct {
	parties   *storage.Collection[*Party]
	roster    Roster
	processor ActionProcessor
	reporter  Reporter
	metrics   *metrics.Metrics

	reportTemplate string
	reportWidth    int
	reportLang     string

	mu      sync.RWMutex
	members map[storage.TenantID]map[storage.Identifier]storage.Identifier
}

type CoordinatorOpt func(*Coordinator)

func WithMetrics(m *metrics.Metrics) CoordinatorOpt {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTurns supplies the collaborators turn processing needs. Without them
// parties never leave the collecting state.
func WithTurns(r Roster, p ActionProcessor) CoordinatorOpt {
	return func(c *Coordinator) {
		c.roster = r
		c.processor = p
	}
}

func WithReporter(r Reporter) CoordinatorOpt {
	return func(c *Coordinator) {
		c.reporter = r
	}
}

// WithReportFormat overrides the turn report template, wrap width and the
// language party names are rendered in.
func WithReportFormat(tmpl string, width int, lang string) CoordinatorOpt {
	return func(c *Coordinator) {
		c.reportTemplate = tmpl
		c.reportWidth = width
		c.reportLang = lang
	}
}

func NewCoordinator(db *sql.DB, opts ...CoordinatorOpt) *Coordinator {
	c := &Coordinator{
		parties:     storage.NewCollection(db, partyTable()),
		reportWidth: display.DefaultWidth,
		reportLang:  display.FallbackLanguage,
		members:     map[storage.TenantID]map[storage.Identifier]storage.Identifier{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetParty returns a copy of the party.
func (c *Coordinator) GetParty(t storage.TenantID, id storage.Identifier) (Party, bool) {
	var out Party
	ok := c.parties.View(t, id, func(p *Party) {
		out = p.clone()
	})
	return out, ok
}

// Parties returns copies of every party of the tenant in id order.
func (c *Coordinator) Parties(t storage.TenantID) []Party {
	var out []Party
	c.parties.Each(t, func(_ storage.Identifier, p *Party) {
		out = append(out, p.clone())
	})
	return out
}

// PartyForMember returns the party a character belongs to.
func (c *Coordinator) PartyForMember(t storage.TenantID, characterID storage.Identifier) (storage.Identifier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.members[t][characterID]
	return id, ok
}

// CreateParty forms a party led by leaderID. The leader is always the first
// member; duplicates are dropped. A character already in a party is rejected.
func (c *Coordinator) CreateParty(_ context.Context, t storage.TenantID, name map[string]string, leaderID storage.Identifier, members []storage.Identifier, location storage.Identifier) (Party, error) {
	ids := []storage.Identifier{leaderID}
	for _, m := range members {
		if m != "" && !slices.Contains(ids, m) {
			ids = append(ids, m)
		}
	}
	for _, id := range ids {
		if err := id.Validate(); err != nil {
			return Party{}, fmt.Errorf("creating party: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if existing, ok := c.members[t][id]; ok {
			return Party{}, fmt.Errorf("character %s is in party %s: %w", id, existing, game.ErrAlreadyInParty)
		}
	}

	p := &Party{
		ID:         storage.NewIdentifier(),
		Tenant:     t,
		NameI18n:   maps.Clone(name),
		LeaderID:   leaderID,
		MemberIDs:  ids,
		LocationID: location,
		TurnStatus: TurnCollecting,
	}
	c.parties.Put(t, p.ID, p)
	for _, id := range ids {
		c.indexLocked(t, id, p.ID)
	}
	return p.clone(), nil
}

// AddMember adds a character who is not in any party.
func (c *Coordinator) AddMember(_ context.Context, t storage.TenantID, partyID, characterID storage.Identifier) error {
	if err := characterID.Validate(); err != nil {
		return fmt.Errorf("adding member: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.members[t][characterID]; ok {
		return fmt.Errorf("character %s is in party %s: %w", characterID, existing, game.ErrAlreadyInParty)
	}
	found := c.parties.Update(t, partyID, func(p *Party) bool {
		p.MemberIDs = append(p.MemberIDs, characterID)
		return true
	})
	if !found {
		return fmt.Errorf("party %s: %w", partyID, game.ErrPartyNotFound)
	}
	c.indexLocked(t, characterID, partyID)
	return nil
}

// RemoveMember drops a character from the party. Removing the leader
// promotes the first remaining member; removing the last member disbands the
// party. Reports whether the party was disbanded.
func (c *Coordinator) RemoveMember(_ context.Context, t storage.TenantID, partyID, characterID storage.Identifier) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		member bool
		empty  bool
	)
	found := c.parties.Update(t, partyID, func(p *Party) bool {
		idx := slices.Index(p.MemberIDs, characterID)
		if idx < 0 {
			return false
		}
		member = true
		p.MemberIDs = slices.Delete(p.MemberIDs, idx, idx+1)
		if len(p.MemberIDs) == 0 {
			empty = true
			return false
		}
		if p.LeaderID == characterID {
			p.LeaderID = p.MemberIDs[0]
		}
		return true
	})
	if !found {
		return false, fmt.Errorf("party %s: %w", partyID, game.ErrPartyNotFound)
	}
	if !member {
		return false, fmt.Errorf("character %s in party %s: %w", characterID, partyID, game.ErrNotMember)
	}

	delete(c.members[t], characterID)
	if empty {
		c.parties.MarkDeleted(t, partyID)
	}
	return empty, nil
}

// DisbandParty removes the party and frees all of its members. Any pending
// action and queue are discarded with it.
func (c *Coordinator) DisbandParty(_ context.Context, t storage.TenantID, partyID storage.Identifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var members []storage.Identifier
	found := c.parties.View(t, partyID, func(p *Party) {
		members = slices.Clone(p.MemberIDs)
	})
	if !found {
		return fmt.Errorf("party %s: %w", partyID, game.ErrPartyNotFound)
	}

	for _, id := range members {
		if c.members[t][id] == partyID {
			delete(c.members[t], id)
		}
	}
	c.parties.MarkDeleted(t, partyID)
	return nil
}

// SetLeader hands leadership to an existing member. The current action and
// queue are kept.
func (c *Coordinator) SetLeader(t storage.TenantID, partyID, characterID storage.Identifier) error {
	member := false
	found := c.parties.Update(t, partyID, func(p *Party) bool {
		if !p.HasMember(characterID) {
			return false
		}
		member = true
		if p.LeaderID == characterID {
			return false
		}
		p.LeaderID = characterID
		return true
	})
	if !found {
		return fmt.Errorf("party %s: %w", partyID, game.ErrPartyNotFound)
	}
	if !member {
		return fmt.Errorf("character %s in party %s: %w", characterID, partyID, game.ErrNotMember)
	}
	return nil
}

func (c *Coordinator) SetLocation(t storage.TenantID, partyID, location storage.Identifier) error {
	found := c.parties.Update(t, partyID, func(p *Party) bool {
		p.LocationID = location
		return true
	})
	if !found {
		return fmt.Errorf("party %s: %w", partyID, game.ErrPartyNotFound)
	}
	return nil
}

// SetCurrentAction records the party-level action in progress. A nil action
// clears it.
func (c *Coordinator) SetCurrentAction(t storage.TenantID, partyID storage.Identifier, action storage.ExtensionState) error {
	found := c.parties.Update(t, partyID, func(p *Party) bool {
		p.CurrentAction = action.Clone()
		return true
	})
	if !found {
		return fmt.Errorf("party %s: %w", partyID, game.ErrPartyNotFound)
	}
	return nil
}

// MarkPartyDirty flags a party for the next save after an external change.
func (c *Coordinator) MarkPartyDirty(t storage.TenantID, partyID storage.Identifier) bool {
	return c.parties.MarkDirty(t, partyID)
}

// ResetTurnStatus puts a party back into collecting, clearing its queue.
// This is the only way out of the error state.
func (c *Coordinator) ResetTurnStatus(t storage.TenantID, partyID storage.Identifier) error {
	found := c.parties.Update(t, partyID, func(p *Party) bool {
		p.TurnStatus = TurnCollecting
		p.ActionQueue = nil
		return true
	})
	if !found {
		return fmt.Errorf("party %s: %w", partyID, game.ErrPartyNotFound)
	}
	return nil
}

func (c *Coordinator) LoadState(ctx context.Context, t storage.TenantID) error {
	c.mu.Lock()
	delete(c.members, t)
	c.mu.Unlock()
	return c.parties.LoadState(ctx, t)
}

func (c *Coordinator) SaveState(ctx context.Context, t storage.TenantID) error {
	return c.parties.SaveState(ctx, t)
}

// RebuildRuntimeCaches recomputes the member->party index from the loaded
// parties. A character listed by two parties stays with the first by id.
// A party saved mid-turn cannot resume that turn, so it loads in error.
func (c *Coordinator) RebuildRuntimeCaches(ctx context.Context, t storage.TenantID) error {
	index := map[storage.Identifier]storage.Identifier{}
	var interrupted []storage.Identifier
	c.parties.Each(t, func(id storage.Identifier, p *Party) {
		if p.TurnStatus == TurnProcessing {
			interrupted = append(interrupted, id)
		}
		for _, m := range p.MemberIDs {
			if other, ok := index[m]; ok {
				slog.WarnContext(ctx, "character listed in two parties", "tenant", t, "charId", m, "kept", other, "ignored", id)
				continue
			}
			index[m] = id
		}
	})

	for _, id := range interrupted {
		c.parties.Update(t, id, func(p *Party) bool {
			p.TurnStatus = TurnError
			return true
		})
		slog.ErrorContext(ctx, "party turn interrupted by restart", "tenant", t, "partyId", id)
		c.metrics.TurnProcessed(string(TurnFailed))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[t] = index
	return nil
}

func (c *Coordinator) Pending(t storage.TenantID) (int, int) {
	return c.parties.Pending(t)
}

func (c *Coordinator) indexLocked(t storage.TenantID, characterID, partyID storage.Identifier) {
	if c.members[t] == nil {
		c.members[t] = map[storage.Identifier]storage.Identifier{}
	}
	c.members[t][characterID] = partyID
}
