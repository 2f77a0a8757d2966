package storage

import (
	"maps"
	"slices"
	"sync"
)

// CacheSlot is the in-memory, tenant-scoped cache for one kind of entity.
// Alongside the active entities it tracks which ids still need an upsert
// (dirty) or a delete (deleted) in the durable store. An id is never both
// dirty and deleted.
//
// Each pending flag carries the generation at which it was last raised, so a
// save only clears flags it actually flushed. Mutations that land while a save
// is in flight stay pending for the next cycle.
type CacheSlot[E any] struct {
	mu  sync.RWMutex
	gen uint64

	active  map[TenantID]map[Identifier]E
	dirty   map[TenantID]map[Identifier]uint64
	deleted map[TenantID]map[Identifier]uint64
}

// NewCacheSlot creates an empty cache slot.
func NewCacheSlot[E any]() *CacheSlot[E] {
	return &CacheSlot[E]{
		active:  map[TenantID]map[Identifier]E{},
		dirty:   map[TenantID]map[Identifier]uint64{},
		deleted: map[TenantID]map[Identifier]uint64{},
	}
}

// Get returns the active entity for id.
func (c *CacheSlot[E]) Get(t TenantID, id Identifier) (E, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.active[t][id]
	return e, ok
}

// All returns a copy of the tenant's active entity map.
func (c *CacheSlot[E]) All(t TenantID) map[Identifier]E {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return maps.Clone(c.active[t])
}

// Len returns the number of active entities for the tenant.
func (c *CacheSlot[E]) Len(t TenantID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.active[t])
}

// Tenants returns every tenant with active entities or pending flags.
func (c *CacheSlot[E]) Tenants() []TenantID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := map[TenantID]struct{}{}
	for t := range c.active {
		seen[t] = struct{}{}
	}
	for t := range c.dirty {
		seen[t] = struct{}{}
	}
	for t := range c.deleted {
		seen[t] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// View runs fn against the active entity for id while holding the read lock.
// fn must not retain e or mutate it. Returns false if the entity does not exist.
func (c *CacheSlot[E]) View(t TenantID, id Identifier, fn func(E)) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.active[t][id]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// Each runs fn against every active entity of the tenant in id order while
// holding the read lock.
func (c *CacheSlot[E]) Each(t TenantID, fn func(Identifier, E)) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range slices.Sorted(maps.Keys(c.active[t])) {
		fn(id, c.active[t][id])
	}
}

// Put stores e as the active entity for id and marks it dirty. A pending
// delete for the same id is superseded.
func (c *CacheSlot[E]) Put(t TenantID, id Identifier, e E) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tenantActive(t)[id] = e
	c.markDirtyLocked(t, id)
}

// Update runs fn against the active entity for id while holding the slot
// lock. When fn returns true the entity is marked dirty. Returns false if the
// entity does not exist.
func (c *CacheSlot[E]) Update(t TenantID, id Identifier, fn func(E) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.active[t][id]
	if !ok {
		return false
	}
	if fn(e) {
		c.markDirtyLocked(t, id)
	}
	return true
}

// MarkDirty flags an active entity for upsert. Ids that are not active are
// ignored so the dirty set never references an entity it cannot save.
func (c *CacheSlot[E]) MarkDirty(t TenantID, id Identifier) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[t][id]; !ok {
		return false
	}
	c.markDirtyLocked(t, id)
	return true
}

// MarkDeleted evicts id from the active set, discards any pending upsert
// and flags it for delete. It is idempotent.
func (c *CacheSlot[E]) MarkDeleted(t TenantID, id Identifier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.active[t], id)
	delete(c.dirty[t], id)

	c.gen++
	if c.deleted[t] == nil {
		c.deleted[t] = map[Identifier]uint64{}
	}
	c.deleted[t][id] = c.gen
}

// IsDirty reports whether id has a pending upsert.
func (c *CacheSlot[E]) IsDirty(t TenantID, id Identifier) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.dirty[t][id]
	return ok
}

// IsDeleted reports whether id has a pending delete.
func (c *CacheSlot[E]) IsDeleted(t TenantID, id Identifier) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.deleted[t][id]
	return ok
}

// Pending returns the number of dirty and deleted ids for the tenant.
func (c *CacheSlot[E]) Pending(t TenantID) (dirty int, deleted int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.dirty[t]), len(c.deleted[t])
}

// Reset drops the tenant's active entities and pending flags. Other tenants
// are untouched.
func (c *CacheSlot[E]) Reset(t TenantID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.active, t)
	delete(c.dirty, t)
	delete(c.deleted, t)
}

// Load replaces the tenant's active entities without raising any flags.
func (c *CacheSlot[E]) Load(t TenantID, entities map[Identifier]E) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active[t] = maps.Clone(entities)
	if c.active[t] == nil {
		c.active[t] = map[Identifier]E{}
	}
	delete(c.dirty, t)
	delete(c.deleted, t)
}

// Batch is a point-in-time copy of a tenant's pending writes.
type Batch[R any] struct {
	Tenant  TenantID
	Upserts []R
	Deletes []Identifier

	upserted map[Identifier]uint64
	removed  map[Identifier]uint64
	stale    map[Identifier]uint64
}

// Empty reports whether the batch carries no writes and no stale flags.
func (b *Batch[R]) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Deletes) == 0 && len(b.stale) == 0
}

// Snapshot captures the tenant's pending writes. Dirty entities are encoded
// with encode while the slot lock is held so the batch never aliases live
// state. Dirty ids without an active entity are carried as stale and dropped
// on commit.
func Snapshot[E any, R any](c *CacheSlot[E], t TenantID, encode func(Identifier, E) (R, error)) (*Batch[R], error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b := &Batch[R]{
		Tenant:   t,
		upserted: map[Identifier]uint64{},
		removed:  map[Identifier]uint64{},
		stale:    map[Identifier]uint64{},
	}

	for _, id := range slices.Sorted(maps.Keys(c.deleted[t])) {
		b.Deletes = append(b.Deletes, id)
		b.removed[id] = c.deleted[t][id]
	}

	for _, id := range slices.Sorted(maps.Keys(c.dirty[t])) {
		gen := c.dirty[t][id]
		e, ok := c.active[t][id]
		if !ok {
			b.stale[id] = gen
			continue
		}
		row, err := encode(id, e)
		if err != nil {
			return nil, err
		}
		b.Upserts = append(b.Upserts, row)
		b.upserted[id] = gen
	}

	return b, nil
}

// commit clears the flags flushed by a batch. A flag raised again after the
// snapshot was taken carries a newer generation and is kept.
func (c *CacheSlot[E]) commit(t TenantID, upserted, removed map[Identifier]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, gen := range upserted {
		if c.dirty[t][id] == gen {
			delete(c.dirty[t], id)
		}
	}
	for id, gen := range removed {
		if c.deleted[t][id] == gen {
			delete(c.deleted[t], id)
		}
	}
}

// Commit marks the batch as durably written.
func Commit[E any, R any](c *CacheSlot[E], b *Batch[R]) {
	flushed := maps.Clone(b.upserted)
	maps.Copy(flushed, b.stale)
	c.commit(b.Tenant, flushed, b.removed)
}

func (c *CacheSlot[E]) tenantActive(t TenantID) map[Identifier]E {
	m, ok := c.active[t]
	if !ok {
		m = map[Identifier]E{}
		c.active[t] = m
	}
	return m
}

func (c *CacheSlot[E]) markDirtyLocked(t TenantID, id Identifier) {
	c.gen++
	if c.dirty[t] == nil {
		c.dirty[t] = map[Identifier]uint64{}
	}
	c.dirty[t][id] = c.gen
	delete(c.deleted[t], id)
}
