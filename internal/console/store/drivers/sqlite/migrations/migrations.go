// Package migrations embeds the credential cache schema migrations.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
