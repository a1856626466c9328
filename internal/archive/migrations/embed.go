package migrations

import "embed"

// FS holds the archive schema migrations.
//
//go:embed *.sql
var FS embed.FS
