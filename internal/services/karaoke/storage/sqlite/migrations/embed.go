package migrations

import "embed"

// FS contains embedded SQLite migrations for session summary storage.
//
//go:embed *.sql
var FS embed.FS
