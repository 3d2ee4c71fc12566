// Package database provides SQLite connectivity for the state history
// recorder.
//
// It manages:
//   - The database connection, with WAL mode for concurrent reads
//   - Additive schema migrations embedded into the binary
//   - Connection lifecycle and health checks
//
// All queries use parameterised statements and the database file is
// created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
