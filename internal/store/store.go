package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath is the path of a private run log that lives as long as the
// Store.
const MemoryPath = ":memory:"

// migration upgrades a run log written at version-1 to version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order on any database whose user_version is lower.
// Version 0 is the schema as first shipped.
var migrations = []migration{
	{1, "steps action index", `CREATE INDEX IF NOT EXISTS idx_steps_run_action ON steps(run_id, action)`},
	{2, "snapshot label index", `CREATE INDEX IF NOT EXISTS idx_snapshots_run_label ON snapshots(run_id, label)`},
}

var currentSchemaVersion = migrations[len(migrations)-1].version

// Store is the SQLite run log: one row per run, per step and per
// inspector snapshot.
type Store struct {
	db   *sql.DB
	path string
}

// IsMemory reports whether path names a run log that does not outlive
// the process. The empty path counts.
func IsMemory(path string) bool {
	return path == "" || path == MemoryPath || strings.HasPrefix(path, "file::memory:")
}

// Open opens the run log at path, creating it if needed, and brings its
// schema up to date. An empty path opens a private in-memory log.
//
// File logs run in WAL mode so trace can read while a test run writes.
// All logs get NORMAL sync, a 5s busy timeout and foreign keys. Steps and
// snapshots must belong to a recorded run.
func Open(path string) (*Store, error) {
	if path == "" {
		path = MemoryPath
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}

	// One connection: SQLite has a single writer, and an in-memory log
	// exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, IsMemory(path)); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure run log %s: %w", path, err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run log %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection. An in-memory log is gone after.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the path the log was opened with.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query runs a read query against the log; final_state assertions use it.
// Callers close the rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func applyPragmas(db *sql.DB, memory bool) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if !memory {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies each pending migration in its own transaction and
// records the new version with it.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
