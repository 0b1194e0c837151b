// Package sqlite is the local persistence backend. One database file holds
// the state of every player on this machine plus an append-only visit log.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// FileName is the database file created inside the data directory.
const FileName = "explore.db"

// DB wraps the SQLite connection.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database in dir and applies migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "sqlite: create data dir")
	}
	path := filepath.Join(dir, FileName)
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB, path: path}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error { return db.db.Close() }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error { return db.db.PingContext(ctx) }

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// One row per player: the aggregate totals.
		`CREATE TABLE IF NOT EXISTS player_state (
			player_id  TEXT PRIMARY KEY,
			points     INTEGER NOT NULL DEFAULT 0,
			level      INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Visited set and last-visit timestamps share one row per location.
		`CREATE TABLE IF NOT EXISTS location_visits (
			player_id     TEXT NOT NULL REFERENCES player_state(player_id) ON DELETE CASCADE,
			location_id   INTEGER NOT NULL,
			last_visit_ms INTEGER NOT NULL,
			PRIMARY KEY (player_id, location_id)
		)`,

		// Append-only history of credited visits.
		`CREATE TABLE IF NOT EXISTS visit_log (
			id            TEXT PRIMARY KEY,
			player_id     TEXT NOT NULL,
			location_id   INTEGER NOT NULL,
			location_name TEXT NOT NULL,
			category      TEXT NOT NULL,
			points        INTEGER NOT NULL,
			first_visit   INTEGER NOT NULL DEFAULT 0,
			distance_m    REAL NOT NULL DEFAULT 0,
			level_after   INTEGER NOT NULL DEFAULT 1,
			visited_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_visit_log_player ON visit_log(player_id, visited_at_ms)`,
	}
}

func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range Migrations() {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "sqlite: migrate")
		}
	}
	return nil
}
