// Package assets embeds the static files shipped with the binaries.
package assets

import "embed"

// MigrationsDir is the goose migrations directory within FS.
const MigrationsDir = "migrations"

//go:embed all:templates migrations/*.sql
var FS embed.FS
