// Package clock owns the game time of every tenant.
package clock

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pixil98/go-guildrpg/internal/storage"
)

// GameClock is the persisted game time of one tenant, in game seconds.
type GameClock struct {
	GameTime float64
}

// Manager tracks game time per tenant. A tenant without a stored clock
// starts at zero.
type Manager struct {
	clocks *storage.Collection[*GameClock]
}

func NewManager(db *sql.DB) *Manager {
	return &Manager{clocks: storage.NewCollection(db, clockTable())}
}

// Now returns the tenant's current game time.
func (m *Manager) Now(t storage.TenantID) float64 {
	var now float64
	m.clocks.View(t, storage.Identifier(t), func(c *GameClock) {
		now = c.GameTime
	})
	return now
}

// Advance moves the tenant's clock forward by dt game seconds and returns
// the new time. Non-positive deltas leave the clock unchanged.
func (m *Manager) Advance(t storage.TenantID, dt float64) float64 {
	id := storage.Identifier(t)
	if dt <= 0 {
		return m.Now(t)
	}

	var now float64
	found := m.clocks.Update(t, id, func(c *GameClock) bool {
		c.GameTime += dt
		now = c.GameTime
		return true
	})
	if !found {
		m.clocks.Put(t, id, &GameClock{GameTime: dt})
		now = dt
	}
	return now
}

// Set forces the tenant's clock to a specific time.
func (m *Manager) Set(t storage.TenantID, now float64) {
	m.clocks.Put(t, storage.Identifier(t), &GameClock{GameTime: now})
}

func (m *Manager) LoadState(ctx context.Context, t storage.TenantID) error {
	return m.clocks.LoadState(ctx, t)
}

func (m *Manager) SaveState(ctx context.Context, t storage.TenantID) error {
	return m.clocks.SaveState(ctx, t)
}

// RebuildRuntimeCaches is a no-op; the clock has no derived indices.
func (m *Manager) RebuildRuntimeCaches(context.Context, storage.TenantID) error {
	return nil
}

// Pending reports the tenant's unsaved clock writes.
func (m *Manager) Pending(t storage.TenantID) (int, int) {
	return m.clocks.Pending(t)
}

func clockTable() storage.Table[*GameClock] {
	return storage.Table[*GameClock]{
		Name:            "game_clocks",
		TenantColumn:    "guild_id",
		IDColumn:        "guild_id",
		Columns:         []string{"guild_id", "game_time"},
		ConflictColumns: []string{"guild_id"},
		Encode: func(t storage.TenantID, _ storage.Identifier, c *GameClock) ([]any, error) {
			return []any{string(t), c.GameTime}, nil
		},
		Decode: func(row storage.Scanner) (storage.Identifier, *GameClock, error) {
			var (
				guild string
				c     GameClock
			)
			if err := row.Scan(&guild, &c.GameTime); err != nil {
				return storage.Identifier(guild), nil, fmt.Errorf("scanning game clock: %w", err)
			}
			return storage.Identifier(guild), &c, nil
		},
	}
}
