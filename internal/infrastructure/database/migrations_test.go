package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/gray-logic-zigbee/migrations"
)

const discoveryVersion = "20260301_120000"

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return count == 1
}

func TestLoadMigrations_Embedded(t *testing.T) {
	got, err := LoadMigrations(migrations.FS)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no embedded migrations")
	}
	first := got[0]
	if first.Version != discoveryVersion || first.Name != "zigbee_discovery" {
		t.Errorf("first migration = %s %s", first.Version, first.Name)
	}
	if !strings.Contains(first.SQL, "CREATE TABLE IF NOT EXISTS zigbee_nodes") {
		t.Error("discovery migration does not create zigbee_nodes")
	}
	for _, m := range got {
		if strings.Contains(m.SQL, "DROP TABLE") {
			t.Errorf("migration %s looks like a rollback script", m.Version)
		}
	}
}

func TestLoadMigrations_OrderAndFiltering(t *testing.T) {
	fsys := fstest.MapFS{
		"20260402_090000_add_link_quality.up.sql":   {Data: []byte("ALTER TABLE zigbee_nodes ADD COLUMN lqi INTEGER;")},
		"20260402_090000_add_link_quality.down.sql": {Data: []byte("SELECT 1;")},
		"20260301_120000_zigbee_discovery.up.sql":   {Data: []byte("SELECT 1;")},
		"README.md":                                 {Data: []byte("notes")},
		"zigbee.up.sql":                             {Data: []byte("SELECT 1;")},
		"nested/20260101_000000_skip.up.sql":        {Data: []byte("SELECT 1;")},
	}

	got, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d migrations, want 2: %+v", len(got), got)
	}
	if got[0].Version != "20260301_120000" || got[1].Version != "20260402_090000" {
		t.Errorf("order = %s, %s", got[0].Version, got[1].Version)
	}
	if got[1].Name != "add_link_quality" {
		t.Errorf("Name = %q", got[1].Name)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"20260301_120000_zigbee_discovery.up.sql": {Data: []byte("SELECT 1;")},
		"20260301_120000_zigbee_devices.up.sql":   {Data: []byte("SELECT 1;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Fatal("LoadMigrations() with a repeated version should fail")
	}
}

func TestLoadMigrations_Nil(t *testing.T) {
	got, err := LoadMigrations(nil)
	if err != nil || got != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v", got, err)
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n == 0 {
		t.Error("Migrate() applied nothing on an empty database")
	}
	for _, table := range []string{"zigbee_nodes", "zigbee_endpoints", "zigbee_devices"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version < discoveryVersion {
		t.Errorf("SchemaVersion() = %q, want at least %s", version, discoveryVersion)
	}

	again, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if again != 0 {
		t.Errorf("second Migrate() applied %d, want 0", again)
	}
}

func TestMigrate_FailureStopsAndResumes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260301_120000_zigbee_discovery.up.sql": {Data: []byte("CREATE TABLE zigbee_nodes (ieee_address TEXT PRIMARY KEY) STRICT;")},
		"20260302_120000_bad.up.sql":              {Data: []byte("CREATE TABLE broken (;")},
		"20260303_120000_later.up.sql":            {Data: []byte("CREATE TABLE later (id INTEGER) STRICT;")},
	}

	n, err := db.Migrate(ctx, fsys)
	if err == nil {
		t.Fatal("Migrate() with a broken migration should fail")
	}
	if !strings.Contains(err.Error(), "20260302_120000") {
		t.Errorf("error = %v, want the failing version named", err)
	}
	if n != 1 {
		t.Errorf("applied = %d, want 1 before the failure", n)
	}
	if tableExists(t, db, "later") {
		t.Error("migration after the failure was applied")
	}
	if v, _ := db.SchemaVersion(ctx); v != "20260301_120000" {
		t.Errorf("SchemaVersion() = %q after failure", v)
	}

	fsys["20260302_120000_bad.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE fixed (id INTEGER) STRICT;")}
	n, err = db.Migrate(ctx, fsys)
	if err != nil {
		t.Fatalf("Migrate() after fix error = %v", err)
	}
	if n != 2 || !tableExists(t, db, "later") {
		t.Errorf("applied = %d, later table = %v", n, tableExists(t, db, "later"))
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, fstest.MapFS{})
	if err != nil || n != 0 {
		t.Fatalf("Migrate(empty) = %d, %v", n, err)
	}
	if v, err := db.SchemaVersion(ctx); err != nil || v != "" {
		t.Errorf("SchemaVersion() = %q, %v, want empty", v, err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file        string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20260301_120000_zigbee_discovery.up.sql", "20260301_120000", "zigbee_discovery", true},
		{"20260301_120000_zigbee_discovery.down.sql", "", "", false},
		{"20260301_120000.up.sql", "", "", false},
		{"2026031_120000_short_date.up.sql", "", "", false},
		{"2026030a_120000_letters.up.sql", "", "", false},
		{"zigbee.up.sql", "", "", false},
		{"readme.txt", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.file)
			if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationFilename() = %q, %q, %v", version, name, ok)
			}
		})
	}
}

func TestOpenMigrated(t *testing.T) {
	ctx := context.Background()
	db, err := OpenMigrated(ctx, Config{
		Path:        filepath.Join(t.TempDir(), "zigbee.db"),
		WALMode:     true,
		BusyTimeout: 5,
	}, migrations.FS)
	if err != nil {
		t.Fatalf("OpenMigrated() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := db.ExecContext(ctx,
		"INSERT INTO zigbee_nodes (ieee_address, network_address, first_seen, last_seen) VALUES (?, ?, ?, ?)",
		"00124b0001a1b2c3", 0x1a2b, 1767225600, 1767225600,
	); err != nil {
		t.Fatalf("insert into zigbee_nodes: %v", err)
	}

	// Endpoints reference their node; foreign keys are enforced.
	_, err = db.ExecContext(ctx,
		"INSERT INTO zigbee_endpoints (ieee_address, endpoint, resolved_at) VALUES (?, ?, ?)",
		"00124b00ffffffff", 1, 1767225600,
	)
	if err == nil {
		t.Error("endpoint for an unknown node was accepted")
	}
}

func TestOpenMigrated_BrokenMigrationClosesDB(t *testing.T) {
	fsys := fstest.MapFS{"20260301_120000_bad.up.sql": {Data: []byte("NOT SQL;")}}
	_, err := OpenMigrated(context.Background(), Config{Path: filepath.Join(t.TempDir(), "zigbee.db")}, fsys)
	if err == nil || !strings.Contains(err.Error(), "migrating database") {
		t.Fatalf("OpenMigrated() = %v, want migrating failure", err)
	}
}
