package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/pixil98/go-testutil"
)

func TestOpen_CreatesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"game_clocks", "timers", "statuses", "market_inventories", "parties"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO game_clocks (guild_id, game_time) VALUES ('g1', 12.5)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = db.Close()

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var gameTime float64
	if err := db.QueryRow(`SELECT game_time FROM game_clocks WHERE guild_id = 'g1'`).Scan(&gameTime); err != nil {
		t.Fatalf("scan: %v", err)
	}
	testutil.AssertEqual(t, "game time", gameTime, 12.5)

	var applied int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("scan: %v", err)
	}
	testutil.AssertEqual(t, "applied migrations", applied, 1)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	testutil.AssertErrorContains(t, err, "empty db path")
}

func TestApplyMigrations_Order(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, MemoryPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"002_more.sql":  {Data: []byte("-- +migrate Up\nALTER TABLE extra ADD COLUMN note TEXT;\n-- +migrate Down\nSELECT 1;")},
		"001_extra.sql": {Data: []byte("CREATE TABLE extra (id TEXT PRIMARY KEY);")},
		"readme.md":     {Data: []byte("ignored")},
	}
	if err := ApplyMigrations(ctx, db, fsys, ""); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	// Second run is a no-op.
	if err := ApplyMigrations(ctx, db, fsys, ""); err != nil {
		t.Fatalf("ApplyMigrations again: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO extra (id, note) VALUES ('a', 'b')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestExtractUpMigration(t *testing.T) {
	tests := map[string]struct {
		content string
		exp     string
	}{
		"no sections": {content: "SELECT 1;", exp: "SELECT 1;"},
		"up only":     {content: "-- +migrate Up\nSELECT 1;", exp: "\nSELECT 1;"},
		"up and down": {content: "-- +migrate Up\nSELECT 1;\n-- +migrate Down\nSELECT 2;", exp: "\nSELECT 1;\n"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, "up", ExtractUpMigration(tt.content), tt.exp)
		})
	}
}
