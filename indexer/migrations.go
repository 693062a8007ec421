package indexer

import "embed"

//go:embed db/sqlite/migrations/*.sql
var SQLiteMigrationsFS embed.FS

//go:embed db/postgres/migrations/*.sql
var PostgresMigrationsFS embed.FS

const (
	SQLiteMigrationsDir   = "db/sqlite/migrations"
	PostgresMigrationsDir = "db/postgres/migrations"
)
