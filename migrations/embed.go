// Package migrations embeds SQL migration files into the binary.
//
// Hearth runs its schema migrations from the executable itself, so a
// deployment needs no SQL files on disk.
package migrations

import (
	"embed"

	"github.com/hearthhub/hearth-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Register embedded migrations with the database package. The
	// embed directive captures every .sql file in this directory.
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // files sit at the root of the embedded FS
}
