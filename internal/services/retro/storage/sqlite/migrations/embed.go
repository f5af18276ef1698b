package migrations

import "embed"

// FS contains embedded SQLite migrations for retro snapshot storage.
//
//go:embed *.sql
var FS embed.FS
