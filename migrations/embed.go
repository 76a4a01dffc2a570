// Package migrations holds the bridge's SQLite schema, compiled into the
// binary. Pass FS to database.OpenMigrated.
package migrations

import "embed"

// FS holds the *.up.sql files the bridge applies and the *.down.sql
// rollback scripts kept for operators.
//
//go:embed *.sql
var FS embed.FS
