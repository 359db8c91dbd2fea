package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyMigrationsCreatesSchemaAndIsRepeatable(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })

	dir := Dialect{Driver: DriverSQLite}.MigrationDir(filepath.Join("..", "..", "migrations"))
	for i := 0; i < 2; i++ {
		if err := ApplyMigrations(sqdb, dir); err != nil {
			t.Fatalf("apply migrations pass %d: %v", i+1, err)
		}
	}

	checks := map[string][]string{
		"documents":             {"collection", "id", "data", "created_at", "updated_at"},
		"accounts":              {"id", "email", "display_name", "password_hash", "disabled"},
		"auth_sessions":         {"token_hash", "expires_at", "idle_expires_at", "revoked_at"},
		"password_reset_tokens": {"token_hash", "used_at"},
		"login_failures":        {"failure_key", "window_start", "count"},
		"local_state":           {"namespace", "state_key", "value"},
	}
	for table, cols := range checks {
		for _, col := range cols {
			if !hasColumn(t, sqdb, table, col) {
				t.Fatalf("expected %s.%s to exist after migration", table, col)
			}
		}
	}
}

func TestApplyMigrationsRejectsEmptyDir(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := ApplyMigrations(sqdb, t.TempDir()); err == nil {
		t.Fatalf("expected error for directory without migrations")
	}
}

func TestSplitStatementsSkipsComments(t *testing.T) {
	script := "-- header\nCREATE TABLE a (\n  id TEXT\n);\n\n-- next\nCREATE INDEX i ON a(id);\n"
	got := splitStatements(script)
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if strings.HasSuffix(got[0], ";") || !strings.HasPrefix(got[0], "CREATE TABLE a") {
		t.Fatalf("unexpected first statement %q", got[0])
	}
}

func TestDialectRebind(t *testing.T) {
	q := `SELECT 1 FROM documents WHERE collection=? AND id=?`
	if got := (Dialect{Driver: DriverSQLite}).Rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	want := `SELECT 1 FROM documents WHERE collection=$1 AND id=$2`
	if got := (Dialect{Driver: DriverPostgres}).Rebind(q); got != want {
		t.Fatalf("pgx rebind=%q want=%q", got, want)
	}
}

func TestDialectUpsert(t *testing.T) {
	cols := []string{"namespace", "state_key", "value"}
	keys := []string{"namespace", "state_key"}
	upd := []string{"value"}

	cases := []struct {
		driver string
		want   string
	}{
		{DriverSQLite, "INSERT INTO local_state(namespace,state_key,value) VALUES(?,?,?) ON CONFLICT(namespace,state_key) DO UPDATE SET value=excluded.value"},
		{DriverPostgres, "INSERT INTO local_state(namespace,state_key,value) VALUES($1,$2,$3) ON CONFLICT(namespace,state_key) DO UPDATE SET value=excluded.value"},
		{DriverMySQL, "INSERT INTO local_state(namespace,state_key,value) VALUES(?,?,?) ON DUPLICATE KEY UPDATE value=VALUES(value)"},
	}
	for _, tc := range cases {
		got := Dialect{Driver: tc.driver}.Upsert("local_state", cols, keys, upd)
		if got != tc.want {
			t.Fatalf("%s upsert=%q want=%q", tc.driver, got, tc.want)
		}
	}
}

func TestMigrationDirPerDriver(t *testing.T) {
	base := "migrations"
	cases := map[string]string{
		DriverSQLite:   filepath.Join(base, "sqlite"),
		DriverMySQL:    filepath.Join(base, "mysql"),
		DriverPostgres: filepath.Join(base, "postgres"),
		"postgres":     filepath.Join(base, "postgres"),
	}
	for driver, want := range cases {
		if got := (Dialect{Driver: driver}).MigrationDir(base); got != want {
			t.Fatalf("MigrationDir(%s)=%q want=%q", driver, got, want)
		}
	}
}

func hasColumn(t *testing.T, sqdb *sql.DB, tableName, colName string) bool {
	t.Helper()
	rows, err := sqdb.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		t.Fatalf("table_info %s: %v", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("scan table_info %s: %v", tableName, err)
		}
		if name == colName {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate table_info %s: %v", tableName, err)
	}
	return false
}
