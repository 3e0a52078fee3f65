// Package migrations embeds the SQL schema files into the binary and
// registers them with the database package at init.
package migrations

import (
	"embed"

	"github.com/nerrad567/benchtop-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
