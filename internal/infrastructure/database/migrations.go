package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// upSuffix marks a migration file the bridge applies. The matching
// .down.sql beside it is an operator rollback script and is never loaded.
const upSuffix = ".up.sql"

// Migration is one schema change, loaded from
// YYYYMMDD_HHMMSS_<name>.up.sql.
type Migration struct {
	// Version is the timestamp prefix, e.g. 20260301_120000. Versions
	// order migrations.
	Version string

	// Name is the rest of the filename, e.g. zigbee_discovery.
	Name string

	// SQL is the file content, executed as one statement batch.
	SQL string
}

// LoadMigrations reads the migrations at the root of fsys, oldest first.
// Files not following the naming scheme are skipped. A nil fsys holds no
// migrations.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}

	files, err := fs.Glob(fsys, "*"+upSuffix)
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]string, len(files))
	migrations := make([]Migration, 0, len(files))
	for _, file := range files {
		version, name, ok := parseMigrationFilename(file)
		if !ok {
			continue
		}
		if other, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("migration version %s used by %s and %s", version, other, file)
		}
		byVersion[version] = file

		sqlText, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(sqlText)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Migrate applies the migrations in fsys that schema_migrations does not
// list yet, oldest first.
//
// Each migration commits on its own. When one fails it is rolled back, the
// ones before it stay applied and the ones after it are not attempted, so
// running Migrate again resumes at the failed migration.
//
// Parameters:
//   - ctx: Context for cancellation
//   - fsys: Filesystem holding *.up.sql files at its root
//
// Returns:
//   - int: Number of migrations applied by this call
//   - error: If loading or applying a migration fails
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		) STRICT
	`); err != nil {
		return 0, fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return 0, fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return count, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

// SchemaVersion returns the newest applied migration version, or "" when
// none has been applied. Call it after Migrate.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	var version string
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), '') FROM schema_migrations
	`).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return applied, nil
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// parseMigrationFilename splits "20260301_120000_zigbee_discovery.up.sql"
// into version "20260301_120000" and name "zigbee_discovery".
func parseMigrationFilename(file string) (version, name string, ok bool) {
	base, found := strings.CutSuffix(file, upSuffix)
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(base, "_", 3)
	if len(parts) != 3 || len(parts[0]) != 8 || len(parts[1]) != 6 || parts[2] == "" {
		return "", "", false
	}
	if !allDigits(parts[0]) || !allDigits(parts[1]) {
		return "", "", false
	}
	return parts[0] + "_" + parts[1], parts[2], true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
