package storage

import (
	"testing"

	"github.com/pixil98/go-testutil"
)

type widget struct {
	Name  string
	Count int
}

func encodeWidget(id Identifier, w *widget) ([]any, error) {
	return []any{string(id), w.Name, w.Count}, nil
}

func TestCacheSlot_MarkDirty(t *testing.T) {
	tests := map[string]struct {
		setup    func(c *CacheSlot[*widget])
		id       Identifier
		expOk    bool
		expDirty bool
	}{
		"active entity": {
			setup: func(c *CacheSlot[*widget]) {
				c.Load("g1", map[Identifier]*widget{"w1": {Name: "a"}})
			},
			id:       "w1",
			expOk:    true,
			expDirty: true,
		},
		"absent entity is ignored": {
			setup:    func(c *CacheSlot[*widget]) {},
			id:       "w1",
			expOk:    false,
			expDirty: false,
		},
		"repeated marks are idempotent": {
			setup: func(c *CacheSlot[*widget]) {
				c.Load("g1", map[Identifier]*widget{"w1": {Name: "a"}})
				c.MarkDirty("g1", "w1")
				c.MarkDirty("g1", "w1")
			},
			id:       "w1",
			expOk:    true,
			expDirty: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := NewCacheSlot[*widget]()
			tt.setup(c)

			ok := c.MarkDirty("g1", tt.id)

			testutil.AssertEqual(t, "ok", ok, tt.expOk)
			testutil.AssertEqual(t, "dirty", c.IsDirty("g1", tt.id), tt.expDirty)
			dirty, _ := c.Pending("g1")
			if tt.expDirty {
				testutil.AssertEqual(t, "dirty count", dirty, 1)
			}
		})
	}
}

func TestCacheSlot_MarkDeleted(t *testing.T) {
	c := NewCacheSlot[*widget]()
	c.Put("g1", "w1", &widget{Name: "a"})

	c.MarkDeleted("g1", "w1")
	c.MarkDeleted("g1", "w1")

	_, ok := c.Get("g1", "w1")
	testutil.AssertEqual(t, "active", ok, false)
	testutil.AssertEqual(t, "dirty", c.IsDirty("g1", "w1"), false)
	testutil.AssertEqual(t, "deleted", c.IsDeleted("g1", "w1"), true)

	// Re-creating the id supersedes the pending delete.
	c.Put("g1", "w1", &widget{Name: "b"})
	testutil.AssertEqual(t, "deleted after put", c.IsDeleted("g1", "w1"), false)
	testutil.AssertEqual(t, "dirty after put", c.IsDirty("g1", "w1"), true)
}

func TestCacheSlot_TenantIsolation(t *testing.T) {
	c := NewCacheSlot[*widget]()
	c.Put("g1", "w1", &widget{Name: "a"})
	c.Put("g2", "w1", &widget{Name: "b"})

	c.Reset("g1")

	testutil.AssertEqual(t, "g1 len", c.Len("g1"), 0)
	testutil.AssertEqual(t, "g2 len", c.Len("g2"), 1)
	testutil.AssertEqual(t, "g2 dirty", c.IsDirty("g2", "w1"), true)
	testutil.AssertEqual(t, "tenants", len(c.Tenants()), 1)
}

func TestSnapshot_CommitKeepsConcurrentMutations(t *testing.T) {
	c := NewCacheSlot[*widget]()
	c.Put("g1", "w1", &widget{Name: "a"})
	c.Put("g1", "w2", &widget{Name: "b"})
	c.Put("g1", "w3", &widget{Name: "c"})
	c.MarkDeleted("g1", "w3")

	batch, err := Snapshot(c, "g1", encodeWidget)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "upserts", len(batch.Upserts), 2)
	testutil.AssertEqual(t, "deletes", len(batch.Deletes), 1)

	// Mutations that land between snapshot and commit.
	c.Update("g1", "w1", func(w *widget) bool {
		w.Count++
		return true
	})
	c.Put("g1", "w4", &widget{Name: "d"})

	Commit(c, batch)

	testutil.AssertEqual(t, "w1 still dirty", c.IsDirty("g1", "w1"), true)
	testutil.AssertEqual(t, "w2 flushed", c.IsDirty("g1", "w2"), false)
	testutil.AssertEqual(t, "w3 flushed", c.IsDeleted("g1", "w3"), false)
	testutil.AssertEqual(t, "w4 still dirty", c.IsDirty("g1", "w4"), true)

	dirty, deleted := c.Pending("g1")
	testutil.AssertEqual(t, "dirty count", dirty, 2)
	testutil.AssertEqual(t, "deleted count", deleted, 0)
}

func TestSnapshot_EncodesUnderLock(t *testing.T) {
	c := NewCacheSlot[*widget]()
	c.Put("g1", "w1", &widget{Name: "a", Count: 1})

	batch, err := Snapshot(c, "g1", encodeWidget)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Update("g1", "w1", func(w *widget) bool {
		w.Count = 99
		return true
	})

	testutil.AssertEqual(t, "snapshot value", batch.Upserts[0][2], any(1))
}

func TestCacheSlot_Update(t *testing.T) {
	c := NewCacheSlot[*widget]()
	c.Load("g1", map[Identifier]*widget{"w1": {Name: "a"}})

	ok := c.Update("g1", "w1", func(w *widget) bool { return false })
	testutil.AssertEqual(t, "found", ok, true)
	testutil.AssertEqual(t, "unchanged not dirty", c.IsDirty("g1", "w1"), false)

	ok = c.Update("g1", "missing", func(w *widget) bool { return true })
	testutil.AssertEqual(t, "missing", ok, false)
}
