// Package status applies, decays and removes status effects on characters,
// NPCs, parties and locations.
package status

import (
	"database/sql"
	"fmt"

	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Effect is one applied status. A nil Duration means the effect is
// permanent; otherwise it holds the remaining game seconds.
type Effect struct {
	ID         storage.Identifier
	Tenant     storage.TenantID
	Kind       string
	TargetID   storage.Identifier
	TargetType game.TargetType
	Duration   *float64
	AppliedAt  float64
	SourceID   storage.Identifier
	Vars       storage.ExtensionState
}

// Permanent reports whether the effect never expires.
func (e *Effect) Permanent() bool {
	return e.Duration == nil
}

func (e *Effect) clone() Effect {
	c := *e
	if e.Duration != nil {
		c.Duration = game.Seconds(*e.Duration)
	}
	c.Vars = e.Vars.Clone()
	return c
}

func effectTable() storage.Table[*Effect] {
	return storage.Table[*Effect]{
		Name:         "statuses",
		TenantColumn: "guild_id",
		IDColumn:     "id",
		Columns: []string{
			"id", "status_type", "target_id", "target_type", "guild_id",
			"duration", "applied_at", "source_id", "state_variables",
		},
		ConflictColumns: []string{"id"},
		Encode: func(t storage.TenantID, id storage.Identifier, e *Effect) ([]any, error) {
			vars, err := e.Vars.Value()
			if err != nil {
				return nil, fmt.Errorf("encoding status %s vars: %w", id, err)
			}
			var duration sql.NullFloat64
			if e.Duration != nil {
				duration = sql.NullFloat64{Float64: *e.Duration, Valid: true}
			}
			var source sql.NullString
			if e.SourceID != "" {
				source = sql.NullString{String: string(e.SourceID), Valid: true}
			}
			return []any{
				string(id), e.Kind, string(e.TargetID), e.TargetType.String(), string(t),
				duration, e.AppliedAt, source, vars,
			}, nil
		},
		Decode: func(row storage.Scanner) (storage.Identifier, *Effect, error) {
			var (
				id, targetID, targetType, guild string
				duration                        sql.NullFloat64
				source                          sql.NullString
				e                               Effect
			)
			err := row.Scan(&id, &e.Kind, &targetID, &targetType, &guild,
				&duration, &e.AppliedAt, &source, &e.Vars)
			if err != nil {
				return storage.Identifier(id), nil, fmt.Errorf("scanning status: %w", err)
			}

			tt, err := game.ParseTargetType(targetType)
			if err != nil {
				return storage.Identifier(id), nil, err
			}

			e.ID = storage.Identifier(id)
			e.Tenant = storage.TenantID(guild)
			e.TargetID = storage.Identifier(targetID)
			e.TargetType = tt
			if duration.Valid {
				e.Duration = game.Seconds(duration.Float64)
			}
			if source.Valid {
				e.SourceID = storage.Identifier(source.String)
			}
			return e.ID, &e, nil
		},
	}
}
