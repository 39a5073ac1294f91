// Package migrations embeds the docdb schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
