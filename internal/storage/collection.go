package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Collection pairs a CacheSlot with the table it is persisted to and
// implements the load/save half of the manager state contract.
type Collection[E any] struct {
	*CacheSlot[E]

	table Table[E]
	repo  *Repository[E]
}

// NewCollection creates an empty collection persisted to table.
func NewCollection[E any](db *sql.DB, table Table[E]) *Collection[E] {
	return &Collection[E]{
		CacheSlot: NewCacheSlot[E](),
		table:     table,
		repo:      NewRepository(db, table),
	}
}

// LoadState clears the tenant's slice of the cache and repopulates it from
// the store. Only a failing read is returned; malformed rows are skipped.
func (c *Collection[E]) LoadState(ctx context.Context, t TenantID) error {
	c.Reset(t)

	rows, err := c.repo.Load(ctx, t)
	if err != nil {
		return fmt.Errorf("loading %s for tenant %s: %w", c.table.Name, t, err)
	}

	c.Load(t, rows)
	return nil
}

// SaveState flushes the tenant's pending writes. On failure nothing is
// cleared and the same writes are retried next cycle.
func (c *Collection[E]) SaveState(ctx context.Context, t TenantID) error {
	batch, err := Snapshot(c.CacheSlot, t, func(id Identifier, e E) ([]any, error) {
		return c.table.Encode(t, id, e)
	})
	if err != nil {
		return fmt.Errorf("encoding %s for tenant %s: %w", c.table.Name, t, err)
	}
	if batch.Empty() {
		return nil
	}

	if err := c.repo.Write(ctx, t, batch.Deletes, batch.Upserts); err != nil {
		return fmt.Errorf("saving %s for tenant %s: %w", c.table.Name, t, err)
	}

	Commit(c.CacheSlot, batch)
	return nil
}

// Name returns the table name, used to label logs and metrics.
func (c *Collection[E]) Name() string {
	return c.table.Name
}
