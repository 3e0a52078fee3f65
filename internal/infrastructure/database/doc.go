// Package database provides the SQLite store for Benchtop Core.
//
// It owns the connection (single writer, optional WAL, busy timeout)
// and applies the embedded schema migrations. The only table the bench
// writes is the append-only readings log; see internal/telemetry for
// the repository that uses it.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive. Each version ships an .up.sql and a
// .down.sql named YYYYMMDD_HHMMSS_description.
package database
