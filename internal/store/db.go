package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// defaultBusyTimeoutMS bounds how long a writer blocks on a locked database
// before giving up, so a slow sweeper pass never wedges an API request.
const defaultBusyTimeoutMS = 5000

// Open opens a SQLite database at dbPath, applies the pragmas the task store
// needs for single-writer/many-reader access, and runs pending migrations.
// dbPath may be ":memory:" for tests, in which case a shared in-memory cache
// DSN is used so multiple connections on the pool still see the same data.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", normalizeSQLiteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeoutMS),
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(context.Background(), p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Migrate applies all pending embedded migrations to db. Safe to call
// repeatedly; goose no-ops once the schema is current.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.Up(db, "migrations")
}

// normalizeSQLiteDSN rewrites a bare path or the ":memory:" sentinel into a
// DSN modernc.org/sqlite accepts, with immediate write locking so concurrent
// writers back off instead of racing each other onto the same WAL frame.
func normalizeSQLiteDSN(dbPath string) string {
	if dbPath == ":memory:" {
		return "file::memory:?cache=shared"
	}
	if strings.HasPrefix(dbPath, "file:") {
		return dbPath
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_txlock=immediate"
}

// Close runs a final WAL checkpoint and closes db.
func Close(db *sql.DB) error {
	_, _ = db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	return db.Close()
}
