// Package migrations embeds the SQL schema so binaries and tests apply the
// same files regardless of working directory.
package migrations

import "embed"

// FS holds every *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
