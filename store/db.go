// Package store is the SLA engine's persistence layer: hand-written SQL
// over database/sql, no ORM, following plugin/chat_apps/store/db.go's
// idiom (typed request structs, explicit column lists, %w-wrapped errors,
// slog at Info for mutations / Warn for not-found / Error for infra
// failures).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// executor is satisfied by both *sql.DB and *sql.Tx. DB.exec/queryRow/query
// run against whichever one is current, so store methods defined on *DB
// work unchanged whether called directly or inside WithTx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB wraps the SQL connection pool for either supported driver. Queries are
// written with "?" placeholders throughout the store package and rebound to
// "$N" for postgres at execution time, so the same SQL text serves both
// drivers — the postgres driver is authoritative for production, sqlite is
// the local dev-mode driver (mirrors cmd/divinesense's --driver flag).
type DB struct {
	sqlDB  *sql.DB // only set on the root DB; used for BeginTx/Close
	exec_  executor
	driver string
}

// Open opens a connection pool for the given driver ("postgres" or
// "sqlite") and dsn.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "postgres":
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &DB{sqlDB: sqlDB, exec_: sqlDB, driver: driver}, nil
	case "sqlite":
		sqlDB, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if _, err := sqlDB.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
			return nil, fmt.Errorf("configure sqlite pragmas: %w", err)
		}
		return &DB{sqlDB: sqlDB, exec_: sqlDB, driver: driver}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

func (d *DB) Close() error {
	return d.sqlDB.Close()
}

// WithTx runs fn against a *DB bound to a single transaction: every store
// method called on the txDB argument participates in the same transaction.
// Used for the atomic multi-statement updates spec.md §4.3/§4.6 require
// (breach firing: sla_breached + status + Alert insert; accountant reply:
// status=answered + resolve all open Alerts). fn's error rolls the
// transaction back; a nil return commits.
func (d *DB) WithTx(ctx context.Context, fn func(txDB *DB) error) error {
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txDB := &DB{sqlDB: d.sqlDB, exec_: tx, driver: d.driver}
	if err := fn(txDB); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("tx rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// rebind rewrites "?" placeholders into "$1".."$N" for postgres. SQLite
// (and the migration DDL, which has no parameters) pass through unchanged.
func (d *DB) rebind(query string) string {
	if d.driver != "postgres" || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (d *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.exec_.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.exec_.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.exec_.QueryContext(ctx, d.rebind(query), args...)
}

// Migrate applies the embedded schema. It is idempotent: every statement
// uses IF NOT EXISTS, matching a fresh or already-migrated database alike.
func (d *DB) Migrate(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		slog.Info("applying migration", "file", entry.Name())
		for _, stmt := range strings.Split(string(raw), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := d.sqlDB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
			}
		}
	}

	return nil
}
