// Package database manages the SQLite persistence layer for Hearth Core.
//
// It wraps database/sql with connection configuration tuned for SQLite
// (single writer, WAL mode, busy timeout) and applies embedded schema
// migrations on startup.
//
// Durability model: the device engine treats this store as write-behind,
// best-effort. Command and status records are flushed asynchronously by
// the device package's Flusher; a failed flush is retried on the next
// window and never blocks the command lifecycle.
//
// Usage:
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
