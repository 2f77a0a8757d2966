package party

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pixil98/go-guildrpg/internal/storage"
)

const partyDataSchema = `{
  "type": "object",
  "required": ["leader_id", "current_location_id"],
  "properties": {
    "name_i18n": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "leader_id": {"type": "string", "minLength": 1},
    "player_ids": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "current_location_id": {"type": "string"},
    "state_variables": {"type": "object"}
  }
}`

var compiledPartyDataSchema = jsonschema.MustCompileString("party_data.json", partyDataSchema)

type partyData struct {
	NameI18n       map[string]string    `json:"name_i18n"`
	LeaderID       storage.Identifier   `json:"leader_id"`
	PlayerIDs      []storage.Identifier `json:"player_ids"`
	LocationID     storage.Identifier   `json:"current_location_id"`
	StateVariables map[string]any       `json:"state_variables"`
}

// CreatePartyFromData creates a party from a raw dictionary, as produced by
// content generation. The dictionary is validated before anything is created.
func (c *Coordinator) CreatePartyFromData(ctx context.Context, t storage.TenantID, data map[string]any) (Party, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Party{}, fmt.Errorf("encoding party data: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return Party{}, fmt.Errorf("encoding party data: %w", err)
	}
	if err := compiledPartyDataSchema.Validate(doc); err != nil {
		return Party{}, fmt.Errorf("validating party data: %w", err)
	}

	var pd partyData
	if err := json.Unmarshal(b, &pd); err != nil {
		return Party{}, fmt.Errorf("decoding party data: %w", err)
	}
	vars, err := storage.FromMap(pd.StateVariables)
	if err != nil {
		return Party{}, fmt.Errorf("decoding party state: %w", err)
	}

	p, err := c.CreateParty(ctx, t, pd.NameI18n, pd.LeaderID, pd.PlayerIDs, pd.LocationID)
	if err != nil {
		return Party{}, err
	}
	if len(vars) > 0 {
		c.parties.Update(t, p.ID, func(live *Party) bool {
			live.Vars = vars
			return true
		})
		p.Vars = vars.Clone()
	}
	return p, nil
}
