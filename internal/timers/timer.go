// Package timers schedules one-shot callbacks against a tenant's game clock.
package timers

import (
	"database/sql"
	"fmt"

	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Timer fires its kind's handler once game time reaches FiresAt.
type Timer struct {
	ID      storage.Identifier
	Tenant  storage.TenantID
	Kind    string
	FiresAt float64
	Payload storage.ExtensionState
	Active  bool
}

func (t *Timer) clone() Timer {
	c := *t
	c.Payload = t.Payload.Clone()
	return c
}

func timerTable() storage.Table[*Timer] {
	return storage.Table[*Timer]{
		Name:            "timers",
		TenantColumn:    "guild_id",
		IDColumn:        "id",
		Columns:         []string{"id", "guild_id", "type", "ends_at", "payload", "is_active"},
		ConflictColumns: []string{"id"},
		Encode: func(t storage.TenantID, id storage.Identifier, tm *Timer) ([]any, error) {
			payload, err := tm.Payload.Value()
			if err != nil {
				return nil, fmt.Errorf("encoding timer %s payload: %w", id, err)
			}
			return []any{string(id), string(t), tm.Kind, tm.FiresAt, payload, tm.Active}, nil
		},
		Decode: func(row storage.Scanner) (storage.Identifier, *Timer, error) {
			var (
				id, guild string
				active    sql.NullBool
				tm        Timer
			)
			if err := row.Scan(&id, &guild, &tm.Kind, &tm.FiresAt, &tm.Payload, &active); err != nil {
				return storage.Identifier(id), nil, fmt.Errorf("scanning timer: %w", err)
			}
			tm.ID = storage.Identifier(id)
			tm.Tenant = storage.TenantID(guild)
			tm.Active = !active.Valid || active.Bool
			return tm.ID, &tm, nil
		},
	}
}
