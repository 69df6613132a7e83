// Package memory keeps the audit ledger in SQLite.
//
// The ledger is write-mostly: it records every upload and every answered
// question. It is never read back to restore state at startup; each
// process starts with no source loaded.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	// SQLite driver (required for database/sql registration).
	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
)

const schemaVersion = 1

// Store owns the ledger database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the ledger at dbPath, creating the file and tables if they
// don't exist. ":memory:" opens a private in-memory ledger.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeAuditFailed, "failed to create ledger directory", apperrors.CategorySystem)
		}
	}

	db, err := openDB(dbPath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeAuditFailed, "failed to open ledger", apperrors.CategorySystem)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.init(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeAuditFailed, "failed to initialize ledger schema", apperrors.CategorySystem)
	}
	return store, nil
}

// openDB opens a single SQLite database with optimal settings.
func openDB(dbPath string) (*sql.DB, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = "file:ledger-" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own database
		db.SetMaxOpenConns(1)
	}

	// Set performance pragmas
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Size returns the size of the database and its write-ahead log in
// bytes, or 0 for an in-memory ledger.
func (s *Store) Size() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// ============================================================
// LEDGER SCHEMA
// ============================================================

func (s *Store) init() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS uploads (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id     TEXT,
		file_name     TEXT NOT NULL,
		format        TEXT,
		size_bytes    INTEGER NOT NULL DEFAULT 0,
		generation    INTEGER NOT NULL,
		graph_loaded  INTEGER NOT NULL DEFAULT 0,
		triples       INTEGER NOT NULL DEFAULT 0,
		chunks        INTEGER NOT NULL DEFAULT 0,
		tools         TEXT NOT NULL DEFAULT '',
		error         TEXT,
		created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_created ON uploads(created_at DESC);

	CREATE TABLE IF NOT EXISTS exchanges (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		question      TEXT NOT NULL,
		answer        TEXT NOT NULL,
		tool_calls    INTEGER NOT NULL DEFAULT 0,
		model         TEXT,
		duration_ms   INTEGER NOT NULL DEFAULT 0,
		generation    INTEGER NOT NULL DEFAULT 0,
		created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return ensureSchemaVersion(s.db, schemaVersion, "uploads and exchanges")
}

func ensureSchemaVersion(db *sql.DB, version int, description string) error {
	var current sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&current); err != nil {
		return err
	}

	if !current.Valid || int(current.Int64) < version {
		_, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			version,
			description,
		)
		return err
	}

	return nil
}
