package state

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/reprowatch/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion is stored in PRAGMA user_version.
const currentSchemaVersion = 1

// SQLiteStore keeps state in a SQLite database.
// Every RecordProcessed is its own committed statement, so Persist only
// needs to checkpoint the WAL back into the main database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite creates or opens a database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode so a crash mid-write never corrupts committed rows
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Safe to call repeatedly on the same path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, version_code, version, assertion_event_id, attestation_event_id
		FROM state_entries
		ORDER BY app_id ASC, version_code ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query state entries: %w", err)
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var e model.StateEntry
		if err := rows.Scan(&e.AppID, &e.VersionCode, &e.Version, &e.AssertionID, &e.AttestationID); err != nil {
			return nil, fmt.Errorf("scan state entry: %w", err)
		}
		snap.put(e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state entries: %w", err)
	}

	return snap, nil
}

// RecordProcessed inserts an entry. ON CONFLICT DO NOTHING covers both the
// version code key and the label index; zero affected rows is a conflict.
func (s *SQLiteStore) RecordProcessed(ctx context.Context, entry model.StateEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO state_entries
		(app_id, version_code, version, assertion_event_id, attestation_event_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		entry.AppID,
		entry.VersionCode,
		entry.Version,
		entry.AssertionID,
		entry.AttestationID,
	)
	if err != nil {
		return fmt.Errorf("record state entry: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record state entry: rows affected: %w", err)
	}
	if n == 0 {
		return &ConflictError{AppID: entry.AppID, Version: entry.Version, VersionCode: entry.VersionCode}
	}
	return nil
}

// Persist checkpoints the write-ahead log into the main database file.
func (s *SQLiteStore) Persist(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint state database: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and stamps user_version.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLiteStore) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
