// Package database provides SQLite database connectivity for the Gray Logic Zigbee bridge.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations (additive-only)
//   - Connection pooling and lifecycle management
//   - STRICT mode enforcement for type safety
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes
//   - Busy timeout prevents lock contention errors
//   - Connection pooling reduces overhead
//
// Usage:
//
//	db, err := database.OpenMigrated(ctx, database.Config{Path: cfg.Database.Path, WALMode: true}, migrations.FS)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Migration Strategy:
//
// Migrations only move forward. Each YYYYMMDD_HHMMSS_name.up.sql is applied
// once and recorded in schema_migrations; the .down.sql shipped beside it is
// for an operator rolling back by hand. New columns must be NULLABLE or have
// DEFAULT values so an older bridge can still read the cache.
package database
