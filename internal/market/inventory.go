// Package market tracks per-location stock and runs buy/sell transactions
// against it.
package market

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Inventory is the stock held at one location. Quantities are never
// negative and zero entries are dropped.
type Inventory struct {
	Tenant     storage.TenantID
	LocationID storage.Identifier
	Quantities map[string]float64
}

func (i *Inventory) clone() Inventory {
	c := *i
	c.Quantities = maps.Clone(i.Quantities)
	if c.Quantities == nil {
		c.Quantities = map[string]float64{}
	}
	return c
}

const locationEntity = "location"

func inventoryTable() storage.Table[*Inventory] {
	return storage.Table[*Inventory]{
		Name:            "market_inventories",
		TenantColumn:    "guild_id",
		IDColumn:        "entity_id",
		Columns:         []string{"entity_id", "entity_type", "guild_id", "inventory"},
		ConflictColumns: []string{"entity_id", "entity_type", "guild_id"},
		Scope:           "entity_type = '" + locationEntity + "'",
		Encode: func(t storage.TenantID, id storage.Identifier, inv *Inventory) ([]any, error) {
			q := inv.Quantities
			if q == nil {
				q = map[string]float64{}
			}
			b, err := json.Marshal(q)
			if err != nil {
				return nil, fmt.Errorf("encoding inventory %s: %w", id, err)
			}
			return []any{string(id), locationEntity, string(t), string(b)}, nil
		},
		Decode: func(row storage.Scanner) (storage.Identifier, *Inventory, error) {
			var (
				id, kind, guild, raw string
				inv                  Inventory
			)
			if err := row.Scan(&id, &kind, &guild, &raw); err != nil {
				return storage.Identifier(id), nil, fmt.Errorf("scanning inventory: %w", err)
			}
			if err := json.Unmarshal([]byte(raw), &inv.Quantities); err != nil {
				return storage.Identifier(id), nil, fmt.Errorf("decoding inventory %s: %w", id, err)
			}
			for item, q := range inv.Quantities {
				if q <= 0 {
					delete(inv.Quantities, item)
				}
			}
			if inv.Quantities == nil {
				inv.Quantities = map[string]float64{}
			}
			inv.Tenant = storage.TenantID(guild)
			inv.LocationID = storage.Identifier(id)
			return inv.LocationID, &inv, nil
		},
	}
}
