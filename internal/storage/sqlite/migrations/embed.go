package migrations

import "embed"

// FS contains the embedded SQLite migrations for the game state tables.
//
//go:embed *.sql
var FS embed.FS
