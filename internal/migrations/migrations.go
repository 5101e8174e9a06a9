// Package migrations carries the SQL schema, embedded so the server can
// migrate no matter where the binary runs from.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
