// Package migrations embeds the SQL schema for the Z-Wave mapping table,
// the host entity store and the command audit trail.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
