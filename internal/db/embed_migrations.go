package db

import "embed"

// MigrationFS embeds the session store schema from internal/db/migrations.
// Applied by cmd/migrate and by cmd/server when MIGRATE_ON_START is set.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
