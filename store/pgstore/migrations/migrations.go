package migrations

import "embed"

// Migrations holds the schema files applied by pgstore.Migrate.
//
//go:embed *.sql
var Migrations embed.FS
