// Package migrations embeds the oracle SQLite schema.
package migrations

import "embed"

// FS holds the oracle migration files.
//
//go:embed *.sql
var FS embed.FS
