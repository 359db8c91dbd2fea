package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// Dialect papers over the placeholder and upsert differences between the
// supported drivers. Queries are written with '?' placeholders.
type Dialect struct {
	Driver string
}

func (d Dialect) postgres() bool {
	drv := strings.ToLower(d.Driver)
	return strings.Contains(drv, "pgx") || strings.Contains(drv, "postgres")
}

func (d Dialect) mysql() bool {
	return strings.EqualFold(d.Driver, DriverMySQL)
}

// Rebind rewrites '?' placeholders to '$n' for postgres.
func (d Dialect) Rebind(q string) string {
	if !d.postgres() {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Upsert builds an insert that overwrites updateCols when conflictCols
// already exist.
func (d Dialect) Upsert(table string, cols, conflictCols, updateCols []string) string {
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = c + "=" + d.Excluded(c)
	}
	return d.UpsertSet(table, cols, conflictCols, sets)
}

// UpsertSet is Upsert with raw "col=expr" assignments for the conflict case.
func (d Dialect) UpsertSet(table string, cols, conflictCols, sets []string) string {
	phs := make([]string, len(cols))
	for i := range cols {
		phs[i] = "?"
	}
	q := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", table, strings.Join(cols, ","), strings.Join(phs, ","))
	if d.mysql() {
		return d.Rebind(q + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	}
	return d.Rebind(q + fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", strings.Join(conflictCols, ","), strings.Join(sets, ", ")))
}

// Excluded references the value proposed for col inside an upsert.
func (d Dialect) Excluded(col string) string {
	if d.mysql() {
		return "VALUES(" + col + ")"
	}
	return "excluded." + col
}

func (d Dialect) MigrationDir(base string) string {
	switch {
	case d.postgres():
		return filepath.Join(base, "postgres")
	case d.mysql():
		return filepath.Join(base, "mysql")
	default:
		return filepath.Join(base, "sqlite")
	}
}

func OpenSQLite(path string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	return open(DriverSQLite, dsn, maxOpen, maxIdle, maxLifetime)
}

// Open connects to driver. For sqlite the dsn is a file path.
func Open(driver, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		return OpenSQLite(dsn, maxOpen, maxIdle, maxLifetime)
	case DriverMySQL:
		if !strings.Contains(dsn, "parseTime=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "parseTime=true"
		}
		return open(DriverMySQL, dsn, maxOpen, maxIdle, maxLifetime)
	case DriverPostgres, "postgres":
		return open(DriverPostgres, dsn, maxOpen, maxIdle, maxLifetime)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

func open(driver, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
