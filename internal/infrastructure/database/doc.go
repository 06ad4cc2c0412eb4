// Package database provides SQLite connection management and schema
// migrations for fleetcore.
//
// # Features
//
//   - WAL mode for concurrent reads during writes
//   - Busy timeout to avoid "database is locked" errors under contention
//   - Embedded migrations applied at startup, each in its own transaction
//   - Health checks for liveness probes
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
