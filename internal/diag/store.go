// Package diag is the engine's observability glue: a queryable audit
// trail of every event that crosses the bus, plus the Prometheus
// gauges the rest of the dispatcher's metrics (internal/httpgw) don't
// already cover. Nothing in this package is required for the plugin
// runtime to function; it exists so operators can see what happened
// after the fact, the way the teacher's own sqlite-backed packages do.
package diag

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// Store opens (or creates) the diagnostics database and ensures its
// schema exists. Grounded on the teacher's internal/store.New: single
// write connection, WAL for concurrent readers, the same pragma set.
type Store struct {
	db *sql.DB
}

// Open creates the audit-log table on first use. Unlike the teacher's
// versioned migration runner (internal/auth/store.go), this schema
// never changes shape across releases, so a single
// CREATE TABLE IF NOT EXISTS is the whole of it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open diag sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping diag sqlite %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS event_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			publisher  TEXT NOT NULL,
			topic      TEXT NOT NULL,
			payload    TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_event_log_topic ON event_log (topic);
		CREATE INDEX IF NOT EXISTS idx_event_log_recorded_at ON event_log (recorded_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create event_log schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
