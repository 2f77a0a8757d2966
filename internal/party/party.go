// Package party coordinates party membership and the turn cycle that batches
// member actions.
package party

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/pixil98/go-guildrpg/internal/display"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

type TurnStatus string

const (
	TurnCollecting TurnStatus = "collecting"
	TurnProcessing TurnStatus = "processing"
	TurnError      TurnStatus = "error"
)

func (s TurnStatus) Valid() bool {
	switch s {
	case TurnCollecting, TurnProcessing, TurnError:
		return true
	}
	return false
}

// Action is one queued member action.
type Action struct {
	CharacterID storage.Identifier     `json:"character_id"`
	Kind        string                 `json:"kind"`
	Data        storage.ExtensionState `json:"data,omitempty"`
}

// Party is a group of characters that takes turns together. LeaderID is
// always in MemberIDs.
type Party struct {
	ID            storage.Identifier
	Tenant        storage.TenantID
	NameI18n      map[string]string
	LeaderID      storage.Identifier
	MemberIDs     []storage.Identifier
	LocationID    storage.Identifier
	CurrentAction storage.ExtensionState
	ActionQueue   []Action
	TurnStatus    TurnStatus
	Vars          storage.ExtensionState
}

// DisplayName returns the party name in the closest language to lang.
func (p *Party) DisplayName(lang string) string {
	return display.Localize(p.NameI18n, lang, string(p.ID))
}

func (p *Party) HasMember(id storage.Identifier) bool {
	return slices.Contains(p.MemberIDs, id)
}

// Turn returns the number of turns the party has completed.
func (p *Party) Turn() int {
	var n int
	_, _ = p.Vars.Get(turnVar, &n)
	return n
}

const turnVar = "turn"

func (p *Party) clone() Party {
	c := *p
	c.NameI18n = maps.Clone(p.NameI18n)
	c.MemberIDs = slices.Clone(p.MemberIDs)
	c.CurrentAction = p.CurrentAction.Clone()
	c.ActionQueue = cloneActions(p.ActionQueue)
	c.Vars = p.Vars.Clone()
	return c
}

func cloneActions(as []Action) []Action {
	if as == nil {
		return nil
	}
	out := make([]Action, len(as))
	for i, a := range as {
		out[i] = a
		out[i].Data = a.Data.Clone()
	}
	return out
}

func partyTable() storage.Table[*Party] {
	return storage.Table[*Party]{
		Name:         "parties",
		TenantColumn: "guild_id",
		IDColumn:     "id",
		Columns: []string{
			"id", "guild_id", "name_i18n", "leader_id", "player_ids", "current_location_id",
			"turn_status", "state_variables", "current_action", "action_queue",
		},
		ConflictColumns: []string{"id"},
		Encode:          encodeParty,
		Decode:          decodeParty,
	}
}

func encodeParty(t storage.TenantID, id storage.Identifier, p *Party) ([]any, error) {
	names, err := jsonText(p.NameI18n, "{}")
	if err != nil {
		return nil, fmt.Errorf("encoding party %s name: %w", id, err)
	}
	members, err := jsonText(p.MemberIDs, "[]")
	if err != nil {
		return nil, fmt.Errorf("encoding party %s members: %w", id, err)
	}
	queue, err := jsonText(p.ActionQueue, "[]")
	if err != nil {
		return nil, fmt.Errorf("encoding party %s queue: %w", id, err)
	}
	vars, err := p.Vars.Value()
	if err != nil {
		return nil, fmt.Errorf("encoding party %s vars: %w", id, err)
	}
	var current any
	if p.CurrentAction != nil {
		if current, err = p.CurrentAction.Value(); err != nil {
			return nil, fmt.Errorf("encoding party %s current action: %w", id, err)
		}
	}

	return []any{
		string(id), string(t), names, string(p.LeaderID), members, string(p.LocationID),
		string(p.TurnStatus), vars, current, queue,
	}, nil
}

func decodeParty(row storage.Scanner) (storage.Identifier, *Party, error) {
	var (
		id, guild, names, leader, members, location, status, queue string
		p                                                          Party
	)
	err := row.Scan(&id, &guild, &names, &leader, &members, &location,
		&status, &p.Vars, &p.CurrentAction, &queue)
	if err != nil {
		return storage.Identifier(id), nil, fmt.Errorf("scanning party: %w", err)
	}

	if err := json.Unmarshal([]byte(names), &p.NameI18n); err != nil {
		return storage.Identifier(id), nil, fmt.Errorf("decoding party %s name: %w", id, err)
	}
	if err := json.Unmarshal([]byte(members), &p.MemberIDs); err != nil {
		return storage.Identifier(id), nil, fmt.Errorf("decoding party %s members: %w", id, err)
	}
	if err := json.Unmarshal([]byte(queue), &p.ActionQueue); err != nil {
		return storage.Identifier(id), nil, fmt.Errorf("decoding party %s queue: %w", id, err)
	}

	p.ID = storage.Identifier(id)
	p.Tenant = storage.TenantID(guild)
	p.LeaderID = storage.Identifier(leader)
	p.LocationID = storage.Identifier(location)
	p.TurnStatus = TurnStatus(status)
	if !p.TurnStatus.Valid() {
		return p.ID, nil, fmt.Errorf("party %s has unknown turn status %q", id, status)
	}
	if len(p.MemberIDs) == 0 || !p.HasMember(p.LeaderID) {
		return p.ID, nil, fmt.Errorf("party %s leader %s is not a member", id, leader)
	}
	return p.ID, &p, nil
}

func jsonText(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}
