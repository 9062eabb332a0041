// Package migrations holds the SQL schema for the queue store.
package migrations

import "embed"

// FS contains the NNN_name.sql migration files
//
//go:embed *.sql
var FS embed.FS
