// Package migrations embeds the spherolink SQL schema into the binary.
//
//	db.Migrate(ctx, migrations.FS)
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
